package transfer_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/ledger"
	"github.com/gestpay/gestpay-backend/internal/repository"
	"github.com/gestpay/gestpay-backend/internal/service/transfer"
	"github.com/gestpay/gestpay-backend/internal/testutil"
)

// captureEmitter records notifications synchronously so tests can assert
// on them without racing a dispatcher goroutine.
type captureEmitter struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (c *captureEmitter) Emit(_ context.Context, n domain.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureEmitter) all() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Notification(nil), c.sent...)
}

func setupTransferService(t *testing.T, db *sql.DB) (*transfer.Service, *captureEmitter) {
	t.Helper()
	accounts := repository.NewAccountRepository(db)
	transactions := repository.NewTransactionRepository(db)
	engine := ledger.NewEngine(accounts, transactions, db, 3, 10*time.Millisecond)
	notifier := &captureEmitter{}
	svc := transfer.NewService(accounts, engine, transactions, notifier, transfer.Limits{
		Min: decimal.RequireFromString("1.00"),
		Max: decimal.RequireFromString("100000.00"),
	})
	return svc, notifier
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestResolve_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupTransferService(t, db)
	ctx := context.Background()

	sender := testutil.SeedAccount(t, db, "resolver", dec("1000.00"))
	recipient := testutil.SeedAccount(t, db, "target", dec("0.00"))

	tests := []struct {
		name    string
		intent  domain.TransferIntent
		wantErr error
	}{
		{
			name: "unknown payment type",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: "crypto", Amount: dec("10.00"), RecipientID: recipient.ID,
			},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name: "zero amount",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: domain.PaymentTypeInternal, Amount: decimal.Zero, RecipientID: recipient.ID,
			},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name: "negative fee",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: domain.PaymentTypeInternal, Amount: dec("10.00"),
				Fee: dec("-1.00"), RecipientID: recipient.ID,
			},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name: "below minimum",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: domain.PaymentTypeInternal, Amount: dec("0.50"), RecipientID: recipient.ID,
			},
			wantErr: domain.ErrLimitExceeded,
		},
		{
			name: "above maximum",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: domain.PaymentTypeInternal, Amount: dec("100000.01"), RecipientID: recipient.ID,
			},
			wantErr: domain.ErrLimitExceeded,
		},
		{
			name: "unknown sender",
			intent: domain.TransferIntent{
				SenderID: uuid.New(), Type: domain.PaymentTypeInternal, Amount: dec("10.00"), RecipientID: recipient.ID,
			},
			wantErr: domain.ErrAccountNotFound,
		},
		{
			name: "unknown recipient",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: domain.PaymentTypeInternal, Amount: dec("10.00"), RecipientID: uuid.New(),
			},
			wantErr: domain.ErrRecipientNotFound,
		},
		{
			name: "no recipient given",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: domain.PaymentTypeInternal, Amount: dec("10.00"),
			},
			wantErr: domain.ErrRecipientNotFound,
		},
		{
			name: "self transfer",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: domain.PaymentTypeInternal, Amount: dec("10.00"), RecipientID: sender.ID,
			},
			wantErr: domain.ErrSelfTransfer,
		},
		{
			name: "fee on internal transfer",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: domain.PaymentTypeInternal, Amount: dec("10.00"),
				Fee: dec("0.50"), RecipientID: recipient.ID,
			},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name: "external without bank details",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: domain.PaymentTypeExternal, Amount: dec("10.00"),
			},
			wantErr: domain.ErrMissingBankDetails,
		},
		{
			name: "external with empty bank code",
			intent: domain.TransferIntent{
				SenderID: sender.ID, Type: domain.PaymentTypeExternal, Amount: dec("10.00"),
				Bank: &domain.BankDetails{AccountNumber: "0123456789"},
			},
			wantErr: domain.ErrMissingBankDetails,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Resolve(ctx, tt.intent)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResolve_RecipientByPhone(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupTransferService(t, db)

	sender := testutil.SeedAccount(t, db, "phoner", dec("1000.00"))
	recipient := testutil.SeedAccount(t, db, "phonee", dec("0.00"))

	resolved, err := svc.Resolve(context.Background(), domain.TransferIntent{
		SenderID:       sender.ID,
		Type:           domain.PaymentTypeInternal,
		Amount:         dec("10.00"),
		RecipientPhone: recipient.PhoneNumber,
	})
	require.NoError(t, err)
	assert.Equal(t, recipient.ID, resolved.Recipient.ID)
	assert.Equal(t, domain.FeatureTransfer, resolved.Intent.Feature)
}

func TestResolve_DeactivatedParties(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupTransferService(t, db)
	ctx := context.Background()

	sender := testutil.SeedAccount(t, db, "act-sender", dec("1000.00"))
	recipient := testutil.SeedAccount(t, db, "deact-recipient", dec("0.00"))

	_, err := db.Exec(`UPDATE accounts SET status = 'deactivated' WHERE id = $1`, recipient.ID)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, domain.TransferIntent{
		SenderID: sender.ID, Type: domain.PaymentTypeInternal, Amount: dec("10.00"), RecipientID: recipient.ID,
	})
	assert.ErrorIs(t, err, domain.ErrAccountDeactivated)

	_, err = db.Exec(`UPDATE accounts SET status = 'deactivated' WHERE id = $1`, sender.ID)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, domain.TransferIntent{
		SenderID: sender.ID, Type: domain.PaymentTypeInternal, Amount: dec("10.00"), RecipientID: recipient.ID,
	})
	assert.ErrorIs(t, err, domain.ErrAccountDeactivated)
}

func TestExecute_InternalTransfer(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, notifier := setupTransferService(t, db)
	ctx := context.Background()

	sender := testutil.SeedAccount(t, db, "payer", dec("1000.00"))
	recipient := testutil.SeedAccount(t, db, "payee", dec("0.00"))

	resolved, err := svc.Resolve(ctx, domain.TransferIntent{
		SenderID:    sender.ID,
		Type:        domain.PaymentTypeInternal,
		Amount:      dec("250.00"),
		RecipientID: recipient.ID,
	})
	require.NoError(t, err)

	result, err := svc.Execute(ctx, resolved)
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Nil(t, result.Reservation)

	assert.True(t, testutil.GetBalance(t, db, sender.ID).Equal(dec("750.00")))
	assert.True(t, testutil.GetBalance(t, db, recipient.ID).Equal(dec("250.00")))

	sent := notifier.all()
	require.Len(t, sent, 2)
	assert.Equal(t, sender.ID, sent[0].AccountID)
	assert.Equal(t, recipient.ID, sent[1].AccountID)
	assert.Contains(t, sent[0].Content, "You sent 250.00")
	assert.Contains(t, sent[1].Content, "You received 250.00")
}

func TestExecute_ExternalReservesTotalWithFee(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, notifier := setupTransferService(t, db)
	ctx := context.Background()

	sender := testutil.SeedAccount(t, db, "ext-payer", dec("1000.00"))

	resolved, err := svc.Resolve(ctx, domain.TransferIntent{
		SenderID: sender.ID,
		Type:     domain.PaymentTypeExternal,
		Amount:   dec("300.00"),
		Fee:      dec("25.00"),
		Bank:     &domain.BankDetails{BankCode: "058", AccountNumber: "0123456789"},
	})
	require.NoError(t, err)

	result, err := svc.Execute(ctx, resolved)
	require.NoError(t, err)
	require.NotNil(t, result.Reservation)
	assert.Equal(t, domain.StatusPending, result.Reservation.Status)
	assert.True(t, result.Reservation.Amount.Equal(dec("325.00")))

	// Money stays put until settlement; no notification yet either.
	assert.True(t, testutil.GetBalance(t, db, sender.ID).Equal(dec("1000.00")))
	assert.Empty(t, notifier.all())
}

func TestSettle_SuccessfulOutcome(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, notifier := setupTransferService(t, db)
	ctx := context.Background()

	sender := testutil.SeedAccount(t, db, "settler", dec("1000.00"))

	resolved, err := svc.Resolve(ctx, domain.TransferIntent{
		SenderID: sender.ID,
		Type:     domain.PaymentTypeExternal,
		Amount:   dec("400.00"),
		Bank:     &domain.BankDetails{BankCode: "058", AccountNumber: "0123456789"},
	})
	require.NoError(t, err)
	result, err := svc.Execute(ctx, resolved)
	require.NoError(t, err)

	require.NoError(t, svc.Settle(ctx, result.Reservation.Reference, domain.StatusSuccessful))

	assert.True(t, testutil.GetBalance(t, db, sender.ID).Equal(dec("600.00")))
	assert.Equal(t, domain.StatusSuccessful, testutil.TransactionStatus(t, db, result.Reservation.ID))

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, "was successful")
}

func TestSettle_FailedOutcomeReleasesFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, notifier := setupTransferService(t, db)
	ctx := context.Background()

	sender := testutil.SeedAccount(t, db, "refunded", dec("1000.00"))

	resolved, err := svc.Resolve(ctx, domain.TransferIntent{
		SenderID: sender.ID,
		Type:     domain.PaymentTypeExternal,
		Amount:   dec("400.00"),
		Bank:     &domain.BankDetails{BankCode: "058", AccountNumber: "0123456789"},
	})
	require.NoError(t, err)
	result, err := svc.Execute(ctx, resolved)
	require.NoError(t, err)

	require.NoError(t, svc.Settle(ctx, result.Reservation.Reference, domain.StatusFailed))

	assert.True(t, testutil.GetBalance(t, db, sender.ID).Equal(dec("1000.00")))
	assert.Equal(t, domain.StatusFailed, testutil.TransactionStatus(t, db, result.Reservation.ID))

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, "no funds left your wallet")
}

func TestSettle_UnknownReference(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupTransferService(t, db)

	err := svc.Settle(context.Background(), "TXN0000000000000000", domain.StatusSuccessful)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettle_ReplayedSignalRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupTransferService(t, db)
	ctx := context.Background()

	sender := testutil.SeedAccount(t, db, "replayed", dec("1000.00"))

	resolved, err := svc.Resolve(ctx, domain.TransferIntent{
		SenderID: sender.ID,
		Type:     domain.PaymentTypeExternal,
		Amount:   dec("100.00"),
		Bank:     &domain.BankDetails{BankCode: "058", AccountNumber: "0123456789"},
	})
	require.NoError(t, err)
	result, err := svc.Execute(ctx, resolved)
	require.NoError(t, err)

	require.NoError(t, svc.Settle(ctx, result.Reservation.Reference, domain.StatusSuccessful))
	err = svc.Settle(ctx, result.Reservation.Reference, domain.StatusSuccessful)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.True(t, testutil.GetBalance(t, db, sender.ID).Equal(dec("900.00")))
}
