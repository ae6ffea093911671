package domain_test

import (
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/gestpay/gestpay-backend/internal/domain"
)

func TestCanTransitionTo(t *testing.T) {
	allowed := map[domain.TransactionStatus][]domain.TransactionStatus{
		domain.StatusPending:    {domain.StatusSuccessful, domain.StatusFailed},
		domain.StatusSuccessful: {domain.StatusReversed},
	}

	statuses := []domain.TransactionStatus{
		domain.StatusPending, domain.StatusSuccessful, domain.StatusFailed, domain.StatusReversed,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		ok     bool
	}{
		{"whole", "100", true},
		{"two places", "100.25", true},
		{"one cent", "0.01", true},
		{"zero", "0", false},
		{"negative", "-5.00", false},
		{"three places", "1.005", false},
		{"large", "99999999999999999.99", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.ValidateAmount(decimal.RequireFromString(tt.amount))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidAmount)
			}
		})
	}
}

func TestNewReference(t *testing.T) {
	format := regexp.MustCompile(`^TXN[0-9A-F]{16}$`)

	seen := make(map[string]struct{})
	for range 100 {
		ref := domain.NewReference()
		assert.Regexp(t, format, ref)
		_, dup := seen[ref]
		assert.False(t, dup, "duplicate reference %s", ref)
		seen[ref] = struct{}{}
	}
}
