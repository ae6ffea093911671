package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gestpay/gestpay-backend/internal/auth"
	"github.com/gestpay/gestpay-backend/internal/domain"
)

type notificationReader interface {
	ListForAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) error
}

type NotificationHandler struct {
	notifications notificationReader
}

func NewNotificationHandler(notifications notificationReader) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

type notificationDTO struct {
	ID            uuid.UUID  `json:"id"`
	Content       string     `json:"content"`
	Kind          string     `json:"kind"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Read          bool       `json:"read"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	limit := parseIntParam(r, "limit", 20, 100)
	offset := parseIntParam(r, "offset", 0, 1<<30)

	notifications, err := h.notifications.ListForAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]notificationDTO, 0, len(notifications))
	for _, n := range notifications {
		dtos = append(dtos, notificationDTO{
			ID:            n.ID,
			Content:       n.Content,
			Kind:          string(n.Kind),
			TransactionID: n.TransactionID,
			Read:          n.Read,
			CreatedAt:     n.CreatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, map[string]any{"notifications": dtos})
}

type markReadRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if len(req.IDs) == 0 {
		RespondValidationError(w, []FieldError{{Field: "ids", Message: "required"}})
		return
	}

	if err := h.notifications.MarkRead(r.Context(), accountID, req.IDs); err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]string{"message": "Notifications marked read"})
}
