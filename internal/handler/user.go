package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/gestpay/gestpay-backend/internal/auth"
	"github.com/gestpay/gestpay-backend/internal/domain"
)

type accountManager interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	SetPin(ctx context.Context, accountID uuid.UUID, pin string) error
	UpdatePassword(ctx context.Context, accountID uuid.UUID, current, next string) error
	LinkTelegramChat(ctx context.Context, accountID uuid.UUID, chatID int64) error
	SetChannelPayments(ctx context.Context, accountID uuid.UUID, channel domain.ConfirmationChannel, enabled bool) error
}

type UserHandler struct {
	accounts accountManager
}

func NewUserHandler(accounts accountManager) *UserHandler {
	return &UserHandler{accounts: accounts}
}

type profileResponse struct {
	Account accountDTO           `json:"account"`
	Flags   domain.SecurityFlags `json:"security_flags"`
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}
	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, profileResponse{Account: toAccountDTO(account), Flags: account.Flags})
}

type setPinRequest struct {
	Pin string `json:"pin"`
}

func (h *UserHandler) SetPin(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req setPinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.Pin == "" {
		RespondValidationError(w, []FieldError{{Field: "pin", Message: "required"}})
		return
	}

	if err := h.accounts.SetPin(r.Context(), accountID, req.Pin); err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]string{"message": "PIN updated"})
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *UserHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req updatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	var fields []FieldError
	if req.CurrentPassword == "" {
		fields = append(fields, FieldError{Field: "current_password", Message: "required"})
	}
	if len(req.NewPassword) < 8 {
		fields = append(fields, FieldError{Field: "new_password", Message: "must be at least 8 characters"})
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	if err := h.accounts.UpdatePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]string{"message": "Password updated; all sessions signed out"})
}

type linkTelegramRequest struct {
	ChatID int64 `json:"chat_id"`
}

func (h *UserHandler) LinkTelegram(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req linkTelegramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == 0 {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if err := h.accounts.LinkTelegramChat(r.Context(), accountID, req.ChatID); err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]string{"message": "Telegram chat linked"})
}

type channelPaymentsRequest struct {
	Channel string `json:"channel"` // telegram | whatsapp
	Enabled bool   `json:"enabled"`
}

func (h *UserHandler) SetChannelPayments(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req channelPaymentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if err := h.accounts.SetChannelPayments(r.Context(), accountID, domain.ConfirmationChannel(req.Channel), req.Enabled); err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]string{"message": "Channel payments updated"})
}
