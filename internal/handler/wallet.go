package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay-backend/internal/auth"
	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/repository"
	"github.com/gestpay/gestpay-backend/internal/service/transfer"
)

type transferService interface {
	Resolve(ctx context.Context, intent domain.TransferIntent) (*transfer.Resolved, error)
	Execute(ctx context.Context, resolved *transfer.Resolved) (*transfer.Result, error)
}

type accountGetter interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

type transactionLister interface {
	ListForAccount(ctx context.Context, accountID uuid.UUID, filters repository.ListFilters, limit, offset int) ([]domain.Transaction, int, error)
}

type WalletHandler struct {
	transfers    transferService
	accounts     accountGetter
	transactions transactionLister
	currency     string
}

func NewWalletHandler(transfers transferService, accounts accountGetter, transactions transactionLister, currency string) *WalletHandler {
	return &WalletHandler{
		transfers:    transfers,
		accounts:     accounts,
		transactions: transactions,
		currency:     currency,
	}
}

type bankDetailsRequest struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
}

type sendMoneyRequest struct {
	Type           string              `json:"type"` // internal | external
	Amount         decimal.Decimal     `json:"amount"`
	Fee            decimal.Decimal     `json:"fee"`
	Description    string              `json:"description"`
	RecipientID    *uuid.UUID          `json:"recipient_id"`
	RecipientPhone string              `json:"recipient_phone"`
	Bank           *bankDetailsRequest `json:"bank"`
}

func (r sendMoneyRequest) Validate() []FieldError {
	var errs []FieldError
	switch domain.PaymentType(r.Type) {
	case domain.PaymentTypeInternal:
		if r.RecipientID == nil && r.RecipientPhone == "" {
			errs = append(errs, FieldError{Field: "recipient_id", Message: "recipient_id or recipient_phone required"})
		}
	case domain.PaymentTypeExternal:
		if r.Bank == nil {
			errs = append(errs, FieldError{Field: "bank", Message: "required for external transfers"})
		}
	default:
		errs = append(errs, FieldError{Field: "type", Message: "must be internal or external"})
	}
	if !r.Amount.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than zero"})
	}
	return errs
}

type transactionDTO struct {
	ID          uuid.UUID       `json:"id"`
	Reference   string          `json:"reference"`
	Amount      string          `json:"amount"`
	Currency    string          `json:"currency"`
	Direction   string          `json:"direction"`
	Feature     string          `json:"feature"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (h *WalletHandler) toTransactionDTO(t *domain.Transaction) transactionDTO {
	return transactionDTO{
		ID:          t.ID,
		Reference:   t.Reference,
		Amount:      t.Amount.StringFixed(2),
		Currency:    h.currency,
		Direction:   string(t.Direction),
		Feature:     t.Feature,
		Status:      string(t.Status),
		Description: t.Description,
		Metadata:    t.Metadata,
		CreatedAt:   t.CreatedAt,
	}
}

type sendMoneyResponse struct {
	Type         string          `json:"type"`
	Transaction  transactionDTO  `json:"transaction"`
	Counterparty *transactionDTO `json:"counterparty,omitempty"`
}

func (h *WalletHandler) SendMoney(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req sendMoneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	intent := domain.TransferIntent{
		SenderID:       accountID,
		Type:           domain.PaymentType(req.Type),
		Amount:         req.Amount,
		Fee:            req.Fee,
		Description:    req.Description,
		RecipientPhone: req.RecipientPhone,
		Feature:        domain.FeatureTransfer,
	}
	if req.RecipientID != nil {
		intent.RecipientID = *req.RecipientID
	}
	if req.Bank != nil {
		intent.Bank = &domain.BankDetails{BankCode: req.Bank.BankCode, AccountNumber: req.Bank.AccountNumber}
	}

	resolved, err := h.transfers.Resolve(r.Context(), intent)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	result, err := h.transfers.Execute(r.Context(), resolved)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	resp := sendMoneyResponse{Type: string(result.Type)}
	if result.Type == domain.PaymentTypeInternal {
		resp.Transaction = h.toTransactionDTO(result.Record.Debit)
		credit := h.toTransactionDTO(result.Record.Credit)
		resp.Counterparty = &credit
	} else {
		resp.Transaction = h.toTransactionDTO(result.Reservation)
	}
	RespondSuccess(w, http.StatusOK, resp)
}

type balanceResponse struct {
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
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

	RespondSuccess(w, http.StatusOK, balanceResponse{
		Balance:  account.Balance.StringFixed(2),
		Currency: h.currency,
	})
}

type transactionListResponse struct {
	Transactions []transactionDTO `json:"transactions"`
	Total        int              `json:"total"`
	Limit        int              `json:"limit"`
	Offset       int              `json:"offset"`
}

func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	limit := parseIntParam(r, "limit", 20, 100)
	offset := parseIntParam(r, "offset", 0, 1<<30)
	filters := repository.ListFilters{
		Status:    domain.TransactionStatus(r.URL.Query().Get("status")),
		Direction: domain.Direction(r.URL.Query().Get("direction")),
		Feature:   r.URL.Query().Get("feature"),
	}

	transactions, total, err := h.transactions.ListForAccount(r.Context(), accountID, filters, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]transactionDTO, 0, len(transactions))
	for i := range transactions {
		dtos = append(dtos, h.toTransactionDTO(&transactions[i]))
	}
	RespondSuccess(w, http.StatusOK, transactionListResponse{
		Transactions: dtos,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	})
}

func parseIntParam(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	if v > max {
		return max
	}
	return v
}
