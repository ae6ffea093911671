package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/gestpay/gestpay-backend/internal/auth"
	"github.com/gestpay/gestpay-backend/internal/service"
)

type summarizer interface {
	Summarize(ctx context.Context, accountID uuid.UUID) (*service.Summary, error)
}

type DashboardHandler struct {
	dashboard summarizer
	currency  string
}

func NewDashboardHandler(dashboard summarizer, currency string) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard, currency: currency}
}

type dashboardResponse struct {
	Inflow            string `json:"inflow"`
	InflowChangePct   string `json:"inflow_change_pct"`
	Currency          string `json:"currency"`
	TransactionCount  int    `json:"transaction_count"`
	TxnCountChangePct string `json:"transaction_count_change_pct"`
}

func (h *DashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	summary, err := h.dashboard.Summarize(r.Context(), accountID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, dashboardResponse{
		Inflow:            summary.Inflow.StringFixed(2),
		InflowChangePct:   summary.InflowChange.StringFixed(2),
		Currency:          h.currency,
		TransactionCount:  summary.TxnCount,
		TxnCountChangePct: summary.TxnCountChange.StringFixed(2),
	})
}
