package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay-backend/internal/repository"
)

// TrendBasis picks which transactions feed the month-over-month percentages:
// credits only (the default) or all successful transactions.
type TrendBasis string

const (
	TrendBasisCredit TrendBasis = "credit"
	TrendBasisAll    TrendBasis = "all"
)

type aggregator interface {
	AggregateForPeriod(ctx context.Context, accountID uuid.UUID, from, to time.Time) (*repository.MonthlyAggregate, error)
}

type DashboardService struct {
	transactions aggregator
	basis        TrendBasis
	now          func() time.Time
}

func NewDashboardService(transactions aggregator, basis TrendBasis) *DashboardService {
	if basis == "" {
		basis = TrendBasisCredit
	}
	return &DashboardService{
		transactions: transactions,
		basis:        basis,
		now:          time.Now,
	}
}

// Summary is the month-over-month dashboard payload: this month's inflow and
// activity, each with a percentage change against the previous month.
type Summary struct {
	Inflow         decimal.Decimal
	InflowChange   decimal.Decimal // percent, 2dp
	TxnCount       int
	TxnCountChange decimal.Decimal // percent, 2dp
}

func (s *DashboardService) Summarize(ctx context.Context, accountID uuid.UUID) (*Summary, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevStart := monthStart.AddDate(0, -1, 0)

	current, err := s.transactions.AggregateForPeriod(ctx, accountID, monthStart, now)
	if err != nil {
		return nil, fmt.Errorf("Summarize: %w", err)
	}
	previous, err := s.transactions.AggregateForPeriod(ctx, accountID, prevStart, monthStart)
	if err != nil {
		return nil, fmt.Errorf("Summarize: %w", err)
	}

	return &Summary{
		Inflow:         current.CreditTotal,
		InflowChange:   percentChange(s.trendTotal(previous), s.trendTotal(current)),
		TxnCount:       current.Count,
		TxnCountChange: percentChange(decimal.NewFromInt(int64(previous.Count)), decimal.NewFromInt(int64(current.Count))),
	}, nil
}

func (s *DashboardService) trendTotal(agg *repository.MonthlyAggregate) decimal.Decimal {
	if s.basis == TrendBasisAll {
		return agg.CreditTotal.Add(agg.DebitTotal)
	}
	return agg.CreditTotal
}

// percentChange returns ((current-previous)/previous)*100 rounded to 2dp.
// A zero previous month reads as 100% growth when there is any activity and
// 0% otherwise, matching how the dashboard renders a first active month.
func percentChange(previous, current decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		if current.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(100)
	}
	return current.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(2)
}
