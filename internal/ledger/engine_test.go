package ledger_test

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
	"github.com/gestpay/gestpay-backend/internal/testutil"
)

func setupEngine(t *testing.T, db *sql.DB) *ledger.Engine {
	t.Helper()
	return ledger.NewEngine(
		repository.NewAccountRepository(db),
		repository.NewTransactionRepository(db),
		db,
		3,
		10*time.Millisecond,
	)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDebit_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "debit", dec("1000.00"))

	txn, err := engine.Debit(ctx, account.ID, dec("250.50"), domain.FeatureTransfer, "test debit")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessful, txn.Status)
	assert.Equal(t, domain.DirectionDebit, txn.Direction)
	assert.True(t, txn.Amount.Equal(dec("250.50")))
	assert.NotEmpty(t, txn.Reference)

	assert.True(t, testutil.GetBalance(t, db, account.ID).Equal(dec("749.50")))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, account.ID))
}

func TestDebit_ExactBalanceGoesToZero(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "exact", dec("100.00"))

	_, err := engine.Debit(ctx, account.ID, dec("100.00"), domain.FeatureTransfer, "drain")
	require.NoError(t, err)
	assert.True(t, testutil.GetBalance(t, db, account.ID).IsZero())
}

func TestDebit_OneCentOverBalance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "over", dec("100.00"))

	_, err := engine.Debit(ctx, account.ID, dec("100.01"), domain.FeatureTransfer, "overdraw")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.True(t, testutil.GetBalance(t, db, account.ID).Equal(dec("100.00")))
	assert.Equal(t, 0, testutil.CountTransactions(t, db, account.ID))
}

func TestDebit_InvalidAmounts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "invalid", dec("1000.00"))

	for name, amount := range map[string]decimal.Decimal{
		"zero":              decimal.Zero,
		"negative":          dec("-5.00"),
		"sub-cent exponent": dec("1.005"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Debit(ctx, account.ID, amount, domain.FeatureTransfer, "bad")
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		})
	}
	assert.Equal(t, 0, testutil.CountTransactions(t, db, account.ID))
}

func TestCredit_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "credit", dec("10.00"))

	txn, err := engine.Credit(ctx, account.ID, dec("89.99"), domain.FeatureTransfer, "top up")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionCredit, txn.Direction)
	assert.True(t, testutil.GetBalance(t, db, account.ID).Equal(dec("99.99")))
}

func TestDebit_UnknownAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)

	_, err := engine.Debit(context.Background(), uuid.New(), dec("10.00"), domain.FeatureTransfer, "ghost")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

// Concurrent debits and credits must conserve money: the final balance
// equals the initial balance plus all applied deltas, and never dips
// negative along the way.
func TestConcurrentDebitsAndCredits_Conservation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "conc", dec("1000.00"))

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Debit(ctx, account.ID, dec("50.00"), domain.FeatureTransfer, "conc debit")
			errs <- err
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Credit(ctx, account.ID, dec("30.00"), domain.FeatureTransfer, "conc credit")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// 1000 - 10*50 + 10*30 = 800
	assert.True(t, testutil.GetBalance(t, db, account.ID).Equal(dec("800.00")))
	assert.Equal(t, workers*2, testutil.CountTransactions(t, db, account.ID))
}

func TestConcurrentDebits_NeverNegative(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "race", dec("100.00"))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Debit(ctx, account.ID, dec("70.00"), domain.FeatureTransfer, "race")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, failures int
	for err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			failures++
		}
	}
	assert.Equal(t, 1, successes, "exactly one debit should succeed")
	assert.Equal(t, 1, failures, "exactly one debit should fail")
	assert.True(t, testutil.GetBalance(t, db, account.ID).Equal(dec("30.00")))
}

func TestTransfer_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	sender := testutil.SeedAccount(t, db, "sender", dec("1000.00"))
	recipient := testutil.SeedAccount(t, db, "recipient", dec("0.00"))

	record, err := engine.Transfer(ctx, sender.ID, recipient.ID, dec("500.00"),
		domain.FeatureTransfer, "to recipient", "from sender")
	require.NoError(t, err)

	assert.True(t, testutil.GetBalance(t, db, sender.ID).Equal(dec("500.00")))
	assert.True(t, testutil.GetBalance(t, db, recipient.ID).Equal(dec("500.00")))

	assert.Equal(t, domain.DirectionDebit, record.Debit.Direction)
	assert.Equal(t, domain.DirectionCredit, record.Credit.Direction)
	assert.Equal(t, sender.ID, record.Debit.AccountID)
	assert.Equal(t, recipient.ID, record.Credit.AccountID)
	assert.NotEqual(t, record.Debit.Reference, record.Credit.Reference)

	assert.Equal(t, 1, testutil.CountTransactions(t, db, sender.ID))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, recipient.ID))
}

func TestTransfer_InsufficientFunds_NothingWritten(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	sender := testutil.SeedAccount(t, db, "poor", dec("100.00"))
	recipient := testutil.SeedAccount(t, db, "rich", dec("0.00"))

	_, err := engine.Transfer(ctx, sender.ID, recipient.ID, dec("150.00"),
		domain.FeatureTransfer, "too much", "from poor")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.True(t, testutil.GetBalance(t, db, sender.ID).Equal(dec("100.00")))
	assert.True(t, testutil.GetBalance(t, db, recipient.ID).IsZero())
	assert.Equal(t, 0, testutil.CountTransactions(t, db, sender.ID))
	assert.Equal(t, 0, testutil.CountTransactions(t, db, recipient.ID))
}

func TestTransfer_SelfTransferRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)

	account := testutil.SeedAccount(t, db, "selfie", dec("100.00"))
	_, err := engine.Transfer(context.Background(), account.ID, account.ID, dec("10.00"),
		domain.FeatureTransfer, "", "")
	assert.ErrorIs(t, err, domain.ErrSelfTransfer)
}

// Two opposite-direction transfers between the same pair must both commit
// without deadlocking thanks to the ascending lock order.
func TestTransfer_ConcurrentOppositeDirections(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	a := testutil.SeedAccount(t, db, "alice", dec("1000.00"))
	b := testutil.SeedAccount(t, db, "bob", dec("1000.00"))

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := engine.Transfer(ctx, a.ID, b.ID, dec("300.00"), domain.FeatureTransfer, "a to b", "from a")
		errs <- err
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := engine.Transfer(ctx, b.ID, a.ID, dec("200.00"), domain.FeatureTransfer, "b to a", "from b")
		errs <- err
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.True(t, testutil.GetBalance(t, db, a.ID).Equal(dec("900.00")))
	assert.True(t, testutil.GetBalance(t, db, b.ID).Equal(dec("1100.00")))
}

func TestReserveDebit_PendingWithoutBalanceChange(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "reserve", dec("500.00"))

	txn, err := engine.ReserveDebit(ctx, account.ID, dec("200.00"), domain.FeatureTransfer, "hold")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, txn.Status)
	assert.True(t, testutil.GetBalance(t, db, account.ID).Equal(dec("500.00")))
}

func TestReserveDebit_InsufficientFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)

	account := testutil.SeedAccount(t, db, "thin", dec("10.00"))
	_, err := engine.ReserveDebit(context.Background(), account.ID, dec("10.01"), domain.FeatureTransfer, "hold")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestFinalize_SuccessfulAppliesDebit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "settle", dec("500.00"))
	txn, err := engine.ReserveDebit(ctx, account.ID, dec("200.00"), domain.FeatureTransfer, "hold")
	require.NoError(t, err)

	require.NoError(t, engine.Finalize(ctx, txn.ID, domain.StatusSuccessful))
	assert.True(t, testutil.GetBalance(t, db, account.ID).Equal(dec("300.00")))
	assert.Equal(t, domain.StatusSuccessful, testutil.TransactionStatus(t, db, txn.ID))

	// A settled reservation cannot be finalized again.
	err = engine.Finalize(ctx, txn.ID, domain.StatusSuccessful)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestFinalize_FailedLeavesBalance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "failed", dec("500.00"))
	txn, err := engine.ReserveDebit(ctx, account.ID, dec("200.00"), domain.FeatureTransfer, "hold")
	require.NoError(t, err)

	require.NoError(t, engine.Finalize(ctx, txn.ID, domain.StatusFailed))
	assert.True(t, testutil.GetBalance(t, db, account.ID).Equal(dec("500.00")))
	assert.Equal(t, domain.StatusFailed, testutil.TransactionStatus(t, db, txn.ID))
}

// Funds that existed at reservation time may be gone at settlement. The
// reservation is marked failed and the caller learns why.
func TestFinalize_FundsGoneMarksFailed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "drained", dec("500.00"))
	txn, err := engine.ReserveDebit(ctx, account.ID, dec("400.00"), domain.FeatureTransfer, "hold")
	require.NoError(t, err)

	_, err = engine.Debit(ctx, account.ID, dec("300.00"), domain.FeatureTransfer, "spend in the meantime")
	require.NoError(t, err)

	err = engine.Finalize(ctx, txn.ID, domain.StatusSuccessful)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.StatusFailed, testutil.TransactionStatus(t, db, txn.ID))
	assert.True(t, testutil.GetBalance(t, db, account.ID).Equal(dec("200.00")))
}

func TestReverse_RoundTripRestoresBalance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "reversible", dec("1000.00"))

	txn, err := engine.Debit(ctx, account.ID, dec("250.00"), domain.FeatureTransfer, "original")
	require.NoError(t, err)

	compensating, err := engine.Reverse(ctx, txn.ID, "customer dispute")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionCredit, compensating.Direction)
	assert.Equal(t, domain.FeatureReversal, compensating.Feature)
	assert.Equal(t, domain.StatusReversed, testutil.TransactionStatus(t, db, txn.ID))

	assert.True(t, testutil.GetBalance(t, db, account.ID).Equal(dec("1000.00")))

	// A reversed transaction cannot be reversed again.
	_, err = engine.Reverse(ctx, txn.ID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReverse_PendingRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	account := testutil.SeedAccount(t, db, "pending", dec("500.00"))
	txn, err := engine.ReserveDebit(ctx, account.ID, dec("100.00"), domain.FeatureTransfer, "hold")
	require.NoError(t, err)

	_, err = engine.Reverse(ctx, txn.ID, "too early")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestFinalizeReservedTransfer_MovesMoneyAtomically(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	payer := testutil.SeedAccount(t, db, "payer", dec("1000.00"))
	payee := testutil.SeedAccount(t, db, "payee", dec("0.00"))

	reservation, err := engine.ReserveDebit(ctx, payer.ID, dec("400.00"), domain.FeatureTelegramPay, "chat payment")
	require.NoError(t, err)

	record, err := engine.FinalizeReservedTransfer(ctx, reservation.ID, payee.ID,
		domain.FeatureTelegramPay, "payment from payer")
	require.NoError(t, err)

	assert.True(t, testutil.GetBalance(t, db, payer.ID).Equal(dec("600.00")))
	assert.True(t, testutil.GetBalance(t, db, payee.ID).Equal(dec("400.00")))
	assert.Equal(t, domain.StatusSuccessful, testutil.TransactionStatus(t, db, reservation.ID))
	assert.Equal(t, domain.StatusSuccessful, record.Credit.Status)
	assert.Equal(t, payee.ID, record.Credit.AccountID)

	// Single use: a second finalize is an invalid transition.
	_, err = engine.FinalizeReservedTransfer(ctx, reservation.ID, payee.ID,
		domain.FeatureTelegramPay, "replay")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestFinalizeReservedTransfer_FundsGoneMarksFailed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := setupEngine(t, db)
	ctx := context.Background()

	payer := testutil.SeedAccount(t, db, "drained payer", dec("1000.00"))
	payee := testutil.SeedAccount(t, db, "payee", dec("0.00"))

	reservation, err := engine.ReserveDebit(ctx, payer.ID, dec("400.00"), domain.FeatureTelegramPay, "chat payment")
	require.NoError(t, err)

	_, err = engine.Debit(ctx, payer.ID, dec("700.00"), domain.FeatureTransfer, "spend in the meantime")
	require.NoError(t, err)

	_, err = engine.FinalizeReservedTransfer(ctx, reservation.ID, payee.ID,
		domain.FeatureTelegramPay, "payment from payer")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// The reservation reaches a terminal status instead of lingering
	// pending; nobody gets paid.
	assert.Equal(t, domain.StatusFailed, testutil.TransactionStatus(t, db, reservation.ID))
	assert.True(t, testutil.GetBalance(t, db, payer.ID).Equal(dec("300.00")))
	assert.True(t, testutil.GetBalance(t, db, payee.ID).Equal(dec("0.00")))
}
