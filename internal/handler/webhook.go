package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/logging"
)

type settler interface {
	Settle(ctx context.Context, reference string, outcome domain.TransactionStatus) error
}

// WebhookHandler receives settlement signals for external transfers from
// the banking partner. Callers authenticate with a shared secret header.
type WebhookHandler struct {
	transfers settler
	secret    string
}

const webhookSecretHeader = "X-Webhook-Secret"

func NewWebhookHandler(transfers settler, secret string) *WebhookHandler {
	return &WebhookHandler{transfers: transfers, secret: secret}
}

type settlementEvent struct {
	Reference string `json:"reference"`
	Status    string `json:"status"` // successful | failed
}

func (h *WebhookHandler) Settlement(w http.ResponseWriter, r *http.Request) {
	provided := r.Header.Get(webhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		RespondAppError(w, ErrInvalidToken, nil)
		return
	}

	var event settlementEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	outcome := domain.TransactionStatus(event.Status)
	if event.Reference == "" || (outcome != domain.StatusSuccessful && outcome != domain.StatusFailed) {
		RespondValidationError(w, []FieldError{
			{Field: "reference", Message: "required"},
			{Field: "status", Message: "must be successful or failed"},
		})
		return
	}

	if err := h.transfers.Settle(r.Context(), event.Reference, outcome); err != nil {
		logging.FromContext(r.Context()).Warn("settlement rejected",
			"error", err,
			"reference", event.Reference,
		)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]string{"message": "settled"})
}
