package confirm_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestpay/gestpay-backend/internal/confirm"
	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/ledger"
	"github.com/gestpay/gestpay-backend/internal/repository"
	"github.com/gestpay/gestpay-backend/internal/testutil"
)

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

func setupConfirmService(t *testing.T, db *sql.DB) (*confirm.Service, *ledger.Engine) {
	t.Helper()
	accounts := repository.NewAccountRepository(db)
	transactions := repository.NewTransactionRepository(db)
	engine := ledger.NewEngine(accounts, transactions, db, 3, 10*time.Millisecond)
	svc := confirm.NewService(
		repository.NewConfirmationRepository(db),
		accounts,
		engine,
		&captureEmitter{},
		15*time.Minute,
	)
	return svc, engine
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestConfirm_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, engine := setupConfirmService(t, db)
	ctx := context.Background()

	payer := testutil.SeedAccount(t, db, "payer", dec("1000.00"))
	payee := testutil.SeedAccount(t, db, "payee", dec("0.00"))

	reservation, err := engine.ReserveDebit(ctx, payer.ID, dec("150.00"), domain.FeatureTelegramPay, "chat payment")
	require.NoError(t, err)

	confirmation, err := svc.Create(ctx, payer.ID, reservation.ID, payee.ID, domain.ChannelTelegram)
	require.NoError(t, err)
	assert.Len(t, confirmation.Token, 32)
	assert.Equal(t, domain.ConfirmationAwaiting, confirmation.Status)

	record, err := svc.Confirm(ctx, confirmation.Token, testutil.TestPin)
	require.NoError(t, err)
	assert.Equal(t, domain.FeatureTelegramPay, record.Credit.Feature)

	assert.True(t, testutil.GetBalance(t, db, payer.ID).Equal(dec("850.00")))
	assert.True(t, testutil.GetBalance(t, db, payee.ID).Equal(dec("150.00")))
	assert.Equal(t, domain.StatusSuccessful, testutil.TransactionStatus(t, db, reservation.ID))
}

// If the payer spends the reserved funds between reserving and confirming,
// the confirmation must fail the reservation terminally rather than leave it
// pending with a consumed token.
func TestConfirm_FundsGoneFailsReservation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, engine := setupConfirmService(t, db)
	ctx := context.Background()

	payer := testutil.SeedAccount(t, db, "overspent payer", dec("1000.00"))
	payee := testutil.SeedAccount(t, db, "payee", dec("0.00"))

	reservation, err := engine.ReserveDebit(ctx, payer.ID, dec("400.00"), domain.FeatureTelegramPay, "chat payment")
	require.NoError(t, err)
	confirmation, err := svc.Create(ctx, payer.ID, reservation.ID, payee.ID, domain.ChannelTelegram)
	require.NoError(t, err)

	_, err = engine.Debit(ctx, payer.ID, dec("700.00"), domain.FeatureTransfer, "spend in the meantime")
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, confirmation.Token, testutil.TestPin)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Equal(t, domain.StatusFailed, testutil.TransactionStatus(t, db, reservation.ID))
	assert.True(t, testutil.GetBalance(t, db, payer.ID).Equal(dec("300.00")))
	assert.True(t, testutil.GetBalance(t, db, payee.ID).Equal(dec("0.00")))
}

func TestConfirm_InvalidChannel(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, engine := setupConfirmService(t, db)
	ctx := context.Background()

	payer := testutil.SeedAccount(t, db, "chan-payer", dec("100.00"))
	payee := testutil.SeedAccount(t, db, "chan-payee", dec("0.00"))

	reservation, err := engine.ReserveDebit(ctx, payer.ID, dec("10.00"), domain.FeatureTelegramPay, "chat payment")
	require.NoError(t, err)

	_, err = svc.Create(ctx, payer.ID, reservation.ID, payee.ID, "carrier-pigeon")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

// A wrong PIN must leave the token redeemable and the money untouched.
func TestConfirm_WrongPinDoesNotBurnToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, engine := setupConfirmService(t, db)
	ctx := context.Background()

	payer := testutil.SeedAccount(t, db, "pin-payer", dec("1000.00"))
	payee := testutil.SeedAccount(t, db, "pin-payee", dec("0.00"))

	reservation, err := engine.ReserveDebit(ctx, payer.ID, dec("150.00"), domain.FeatureTelegramPay, "chat payment")
	require.NoError(t, err)
	confirmation, err := svc.Create(ctx, payer.ID, reservation.ID, payee.ID, domain.ChannelTelegram)
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, confirmation.Token, "9999")
	require.ErrorIs(t, err, domain.ErrInvalidPin)
	assert.True(t, testutil.GetBalance(t, db, payer.ID).Equal(dec("1000.00")))

	// Retry with the right PIN succeeds.
	_, err = svc.Confirm(ctx, confirmation.Token, testutil.TestPin)
	require.NoError(t, err)
	assert.True(t, testutil.GetBalance(t, db, payee.ID).Equal(dec("150.00")))
}

func TestConfirm_TokenIsSingleUse(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, engine := setupConfirmService(t, db)
	ctx := context.Background()

	payer := testutil.SeedAccount(t, db, "once-payer", dec("1000.00"))
	payee := testutil.SeedAccount(t, db, "once-payee", dec("0.00"))

	reservation, err := engine.ReserveDebit(ctx, payer.ID, dec("150.00"), domain.FeatureTelegramPay, "chat payment")
	require.NoError(t, err)
	confirmation, err := svc.Create(ctx, payer.ID, reservation.ID, payee.ID, domain.ChannelTelegram)
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, confirmation.Token, testutil.TestPin)
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, confirmation.Token, testutil.TestPin)
	assert.ErrorIs(t, err, domain.ErrConfirmationNotFound)
	assert.True(t, testutil.GetBalance(t, db, payee.ID).Equal(dec("150.00")))
}

func TestConfirm_UnknownToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupConfirmService(t, db)

	_, err := svc.Confirm(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef", testutil.TestPin)
	assert.ErrorIs(t, err, domain.ErrConfirmationNotFound)
}

func TestConfirm_ExpiredToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, engine := setupConfirmService(t, db)
	ctx := context.Background()

	payer := testutil.SeedAccount(t, db, "late-payer", dec("1000.00"))
	payee := testutil.SeedAccount(t, db, "late-payee", dec("0.00"))

	reservation, err := engine.ReserveDebit(ctx, payer.ID, dec("150.00"), domain.FeatureTelegramPay, "chat payment")
	require.NoError(t, err)
	confirmation, err := svc.Create(ctx, payer.ID, reservation.ID, payee.ID, domain.ChannelTelegram)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE confirmations SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1`, confirmation.ID)
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, confirmation.Token, testutil.TestPin)
	assert.ErrorIs(t, err, domain.ErrConfirmationExpired)
	assert.True(t, testutil.GetBalance(t, db, payer.ID).Equal(dec("1000.00")))
}

func TestConfirm_PinNotSet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, engine := setupConfirmService(t, db)
	ctx := context.Background()

	payer := testutil.SeedAccount(t, db, "no-pin", dec("1000.00"))
	payee := testutil.SeedAccount(t, db, "pin-target", dec("0.00"))

	_, err := db.Exec(`UPDATE accounts SET pin_hash = NULL WHERE id = $1`, payer.ID)
	require.NoError(t, err)

	reservation, err := engine.ReserveDebit(ctx, payer.ID, dec("150.00"), domain.FeatureTelegramPay, "chat payment")
	require.NoError(t, err)
	confirmation, err := svc.Create(ctx, payer.ID, reservation.ID, payee.ID, domain.ChannelTelegram)
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, confirmation.Token, testutil.TestPin)
	assert.ErrorIs(t, err, domain.ErrPinNotSet)
}

// The janitor sweep expires overdue confirmations and releases their
// reservations so the held funds become spendable again.
func TestExpireStale_FailsReservations(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, engine := setupConfirmService(t, db)
	ctx := context.Background()

	payer := testutil.SeedAccount(t, db, "stale-payer", dec("1000.00"))
	payee := testutil.SeedAccount(t, db, "stale-payee", dec("0.00"))

	reservation, err := engine.ReserveDebit(ctx, payer.ID, dec("600.00"), domain.FeatureTelegramPay, "chat payment")
	require.NoError(t, err)
	confirmation, err := svc.Create(ctx, payer.ID, reservation.ID, payee.ID, domain.ChannelTelegram)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE confirmations SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1`, confirmation.ID)
	require.NoError(t, err)

	expired, err := svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, domain.StatusFailed, testutil.TransactionStatus(t, db, reservation.ID))

	// The token is dead and the sweep is idempotent.
	_, err = svc.Confirm(ctx, confirmation.Token, testutil.TestPin)
	assert.Error(t, err)

	expired, err = svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
}
