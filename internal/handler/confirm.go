package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gestpay/gestpay-backend/internal/ledger"
)

type confirmer interface {
	Confirm(ctx context.Context, token, pin string) (*ledger.TransferRecord, error)
}

// ConfirmHandler backs the chat-channel webview: the payer lands on the
// one-time confirmation link and proves ownership with their PIN.
type ConfirmHandler struct {
	confirmations confirmer
	currency      string
}

func NewConfirmHandler(confirmations confirmer, currency string) *ConfirmHandler {
	return &ConfirmHandler{confirmations: confirmations, currency: currency}
}

type verifyPinRequest struct {
	Token string `json:"token"`
	Pin   string `json:"pin"`
}

type verifyPinResponse struct {
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

func (h *ConfirmHandler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	var req verifyPinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	var fields []FieldError
	if req.Token == "" {
		fields = append(fields, FieldError{Field: "token", Message: "required"})
	}
	if req.Pin == "" {
		fields = append(fields, FieldError{Field: "pin", Message: "required"})
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	record, err := h.confirmations.Confirm(r.Context(), req.Token, req.Pin)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, verifyPinResponse{
		Reference: record.Debit.Reference,
		Amount:    record.Debit.Amount.StringFixed(2),
		Currency:  h.currency,
		Status:    string(record.Debit.Status),
	})
}
