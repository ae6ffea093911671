// Package ledger is the sole authority for mutating account balances. Every
// operation runs inside one database transaction that locks the accounts it
// touches, re-reads balances under the lock, writes the transaction rows and
// the new balances, and commits or rolls back as a unit. Nothing outside
// this package writes the balance column.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay-backend/internal/domain"
)

type accountStore interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance decimal.Decimal) error
}

type transactionLog interface {
	Insert(ctx context.Context, tx *sql.Tx, txn *domain.Transaction) error
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.TransactionStatus) error
}

type Engine struct {
	accounts accountStore
	log      transactionLog
	db       *sql.DB
	retries  int
	backoff  time.Duration
}

func NewEngine(accounts accountStore, log transactionLog, db *sql.DB, retries int, backoff time.Duration) *Engine {
	if retries < 0 {
		retries = 0
	}
	return &Engine{
		accounts: accounts,
		log:      log,
		db:       db,
		retries:  retries,
		backoff:  backoff,
	}
}

// Debit atomically decreases the account balance and records a successful
// debit transaction. The funds check happens under the row lock, so a
// committed balance can never go negative.
func (e *Engine) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, feature, description string) (*domain.Transaction, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("Debit: %w", err)
	}

	var txn *domain.Transaction
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		account, err := e.lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(amount) {
			return domain.ErrInsufficientFunds
		}

		txn = newTransaction(accountID, amount, domain.DirectionDebit, feature, domain.StatusSuccessful, description, nil)
		if err := e.log.Insert(ctx, tx, txn); err != nil {
			return err
		}
		return e.accounts.UpdateBalance(ctx, tx, accountID, account.Balance.Sub(amount))
	})
	if err != nil {
		return nil, fmt.Errorf("Debit: %w", err)
	}
	return txn, nil
}

// Credit atomically increases the account balance and records a successful
// credit transaction.
func (e *Engine) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, feature, description string) (*domain.Transaction, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}

	var txn *domain.Transaction
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		account, err := e.lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}

		txn = newTransaction(accountID, amount, domain.DirectionCredit, feature, domain.StatusSuccessful, description, nil)
		if err := e.log.Insert(ctx, tx, txn); err != nil {
			return err
		}
		return e.accounts.UpdateBalance(ctx, tx, accountID, account.Balance.Add(amount))
	})
	if err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}
	return txn, nil
}

// ReserveDebit records a pending debit without touching the balance. Used
// for flows that await an external confirmation (bank settlement, chat PIN
// entry); the reservation is later resolved through Finalize.
func (e *Engine) ReserveDebit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, feature, description string) (*domain.Transaction, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("ReserveDebit: %w", err)
	}

	var txn *domain.Transaction
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		account, err := e.lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(amount) {
			return domain.ErrInsufficientFunds
		}

		txn = newTransaction(accountID, amount, domain.DirectionDebit, feature, domain.StatusPending, description, nil)
		return e.log.Insert(ctx, tx, txn)
	})
	if err != nil {
		return nil, fmt.Errorf("ReserveDebit: %w", err)
	}
	return txn, nil
}

// Finalize resolves a pending reservation. A successful outcome applies the
// reserved balance delta under the lock; a failed outcome marks the row and
// leaves the balance untouched. A reservation whose funds evaporated in the
// meantime is marked failed and reported as insufficient funds.
func (e *Engine) Finalize(ctx context.Context, transactionID uuid.UUID, outcome domain.TransactionStatus) error {
	if outcome != domain.StatusSuccessful && outcome != domain.StatusFailed {
		return fmt.Errorf("Finalize: outcome %s: %w", outcome, domain.ErrInvalidTransition)
	}

	var insufficientFunds bool
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		insufficientFunds = false
		txn, err := e.log.GetForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status != domain.StatusPending {
			return domain.ErrInvalidTransition
		}

		if outcome == domain.StatusFailed {
			return e.log.UpdateStatus(ctx, tx, txn.ID, domain.StatusPending, domain.StatusFailed)
		}

		account, err := e.lockAccount(ctx, tx, txn.AccountID)
		if err != nil {
			return err
		}

		switch txn.Direction {
		case domain.DirectionDebit:
			if account.Balance.LessThan(txn.Amount) {
				insufficientFunds = true
				return e.log.UpdateStatus(ctx, tx, txn.ID, domain.StatusPending, domain.StatusFailed)
			}
			if err := e.accounts.UpdateBalance(ctx, tx, account.ID, account.Balance.Sub(txn.Amount)); err != nil {
				return err
			}
		case domain.DirectionCredit:
			if err := e.accounts.UpdateBalance(ctx, tx, account.ID, account.Balance.Add(txn.Amount)); err != nil {
				return err
			}
		}
		return e.log.UpdateStatus(ctx, tx, txn.ID, domain.StatusPending, domain.StatusSuccessful)
	})
	if err != nil {
		return fmt.Errorf("Finalize: %w", err)
	}
	if insufficientFunds {
		return fmt.Errorf("Finalize: %w", domain.ErrInsufficientFunds)
	}
	return nil
}

// Reverse undoes a successful transaction: the inverse balance delta is
// applied atomically and a compensating transaction is recorded pointing at
// the original, whose status becomes reversed.
func (e *Engine) Reverse(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error) {
	var compensating *domain.Transaction
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		txn, err := e.log.GetForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status != domain.StatusSuccessful {
			return domain.ErrInvalidTransition
		}

		account, err := e.lockAccount(ctx, tx, txn.AccountID)
		if err != nil {
			return err
		}

		var newBalance decimal.Decimal
		var direction domain.Direction
		if txn.Direction == domain.DirectionDebit {
			direction = domain.DirectionCredit
			newBalance = account.Balance.Add(txn.Amount)
		} else {
			direction = domain.DirectionDebit
			if account.Balance.LessThan(txn.Amount) {
				return domain.ErrInsufficientFunds
			}
			newBalance = account.Balance.Sub(txn.Amount)
		}

		meta := domain.TransferMetadata{ReversalOf: txn.Reference, ReversalReason: reason}
		compensating = newTransaction(txn.AccountID, txn.Amount, direction, domain.FeatureReversal,
			domain.StatusSuccessful, "Reversal of "+txn.Reference, meta.Marshal())
		if err := e.log.Insert(ctx, tx, compensating); err != nil {
			return err
		}
		if err := e.accounts.UpdateBalance(ctx, tx, account.ID, newBalance); err != nil {
			return err
		}
		return e.log.UpdateStatus(ctx, tx, txn.ID, domain.StatusSuccessful, domain.StatusReversed)
	})
	if err != nil {
		return nil, fmt.Errorf("Reverse: %w", err)
	}
	return compensating, nil
}

// TransferRecord is the pair of rows produced by an internal transfer.
type TransferRecord struct {
	Debit  *domain.Transaction
	Credit *domain.Transaction
}

// Transfer moves funds between two internal accounts in one atomic unit.
// Both row locks are taken in ascending id order so two opposite-direction
// transfers can never deadlock; either both legs commit or neither does.
func (e *Engine) Transfer(ctx context.Context, senderID, recipientID uuid.UUID, amount decimal.Decimal, feature, senderDesc, recipientDesc string) (*TransferRecord, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	if senderID == recipientID {
		return nil, fmt.Errorf("Transfer: %w", domain.ErrSelfTransfer)
	}

	var record *TransferRecord
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		locked, err := e.lockAccountsInOrder(ctx, tx, senderID, recipientID)
		if err != nil {
			return err
		}
		sender, recipient := locked[senderID], locked[recipientID]

		if sender.Balance.LessThan(amount) {
			return domain.ErrInsufficientFunds
		}

		debit := newTransaction(senderID, amount, domain.DirectionDebit, feature, domain.StatusSuccessful, senderDesc, nil)
		credit := newTransaction(recipientID, amount, domain.DirectionCredit, feature, domain.StatusSuccessful, recipientDesc, nil)
		debit.Metadata = domain.TransferMetadata{
			CounterpartyReference: credit.Reference,
			CounterpartyAccountID: recipientID.String(),
		}.Marshal()
		credit.Metadata = domain.TransferMetadata{
			CounterpartyReference: debit.Reference,
			CounterpartyAccountID: senderID.String(),
		}.Marshal()

		if err := e.log.Insert(ctx, tx, debit); err != nil {
			return err
		}
		if err := e.log.Insert(ctx, tx, credit); err != nil {
			return err
		}
		if err := e.accounts.UpdateBalance(ctx, tx, senderID, sender.Balance.Sub(amount)); err != nil {
			return err
		}
		if err := e.accounts.UpdateBalance(ctx, tx, recipientID, recipient.Balance.Add(amount)); err != nil {
			return err
		}

		record = &TransferRecord{Debit: debit, Credit: credit}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	return record, nil
}

// FinalizeReservedTransfer confirms a chat-channel reservation: the pending
// debit is applied, the recipient is credited and both rows end successful,
// all in one atomic unit. Like Finalize, a reservation whose funds
// evaporated in the meantime is marked failed and reported as insufficient
// funds, so the pending row always reaches a terminal status.
func (e *Engine) FinalizeReservedTransfer(ctx context.Context, transactionID, recipientID uuid.UUID, feature, recipientDesc string) (*TransferRecord, error) {
	var record *TransferRecord
	var insufficientFunds bool
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		insufficientFunds = false
		txn, err := e.log.GetForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status != domain.StatusPending || txn.Direction != domain.DirectionDebit {
			return domain.ErrInvalidTransition
		}
		if txn.AccountID == recipientID {
			return domain.ErrSelfTransfer
		}

		locked, err := e.lockAccountsInOrder(ctx, tx, txn.AccountID, recipientID)
		if err != nil {
			return err
		}
		sender, recipient := locked[txn.AccountID], locked[recipientID]

		if sender.Balance.LessThan(txn.Amount) {
			insufficientFunds = true
			return e.log.UpdateStatus(ctx, tx, txn.ID, domain.StatusPending, domain.StatusFailed)
		}

		credit := newTransaction(recipientID, txn.Amount, domain.DirectionCredit, feature, domain.StatusSuccessful, recipientDesc,
			domain.TransferMetadata{
				CounterpartyReference: txn.Reference,
				CounterpartyAccountID: txn.AccountID.String(),
			}.Marshal())
		if err := e.log.Insert(ctx, tx, credit); err != nil {
			return err
		}
		if err := e.accounts.UpdateBalance(ctx, tx, sender.ID, sender.Balance.Sub(txn.Amount)); err != nil {
			return err
		}
		if err := e.accounts.UpdateBalance(ctx, tx, recipient.ID, recipient.Balance.Add(txn.Amount)); err != nil {
			return err
		}
		if err := e.log.UpdateStatus(ctx, tx, txn.ID, domain.StatusPending, domain.StatusSuccessful); err != nil {
			return err
		}

		done := *txn
		done.Status = domain.StatusSuccessful
		record = &TransferRecord{Debit: &done, Credit: credit}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("FinalizeReservedTransfer: %w", err)
	}
	if insufficientFunds {
		return nil, fmt.Errorf("FinalizeReservedTransfer: %w", domain.ErrInsufficientFunds)
	}
	return record, nil
}

func (e *Engine) lockAccount(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error) {
	account, err := e.accounts.GetForUpdate(ctx, tx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func newTransaction(accountID uuid.UUID, amount decimal.Decimal, direction domain.Direction, feature string, status domain.TransactionStatus, description string, metadata []byte) *domain.Transaction {
	return &domain.Transaction{
		ID:          uuid.New(),
		Reference:   domain.NewReference(),
		AccountID:   accountID,
		Amount:      amount,
		Direction:   direction,
		Feature:     feature,
		Status:      status,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
}
