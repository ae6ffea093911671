// Package transfer orchestrates money movement: it resolves and validates a
// transfer intent outside any database transaction, then drives the ledger
// (atomic internal transfer, or reservation pending external settlement) and
// emits notifications after the money has committed.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/ledger"
	"github.com/gestpay/gestpay-backend/internal/logging"
)

type accountDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	FindByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
}

type moneyMover interface {
	Transfer(ctx context.Context, senderID, recipientID uuid.UUID, amount decimal.Decimal, feature, senderDesc, recipientDesc string) (*ledger.TransferRecord, error)
	ReserveDebit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, feature, description string) (*domain.Transaction, error)
	Finalize(ctx context.Context, transactionID uuid.UUID, outcome domain.TransactionStatus) error
}

type transactionFinder interface {
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
}

type emitter interface {
	Emit(ctx context.Context, n domain.Notification) error
}

// Limits are the configured transfer amount bounds.
type Limits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

type Service struct {
	accounts     accountDirectory
	ledger       moneyMover
	transactions transactionFinder
	notifier     emitter
	limits       Limits
}

func NewService(accounts accountDirectory, mover moneyMover, transactions transactionFinder, notifier emitter, limits Limits) *Service {
	return &Service{
		accounts:     accounts,
		ledger:       mover,
		transactions: transactions,
		notifier:     notifier,
		limits:       limits,
	}
}

// Resolved is a transfer intent that passed validation and recipient
// resolution and is safe to execute.
type Resolved struct {
	Intent    domain.TransferIntent
	Sender    *domain.Account
	Recipient *domain.Account // nil for external transfers
}

// Result describes what Execute did: an internal transfer carries the two
// committed legs, an external one the pending reservation.
type Result struct {
	Type        domain.PaymentType
	Record      *ledger.TransferRecord
	Reservation *domain.Transaction
}

// Resolve validates the intent and resolves the recipient. Everything here
// happens before any database transaction opens; a rejected intent leaves
// the ledger untouched.
func (s *Service) Resolve(ctx context.Context, intent domain.TransferIntent) (*Resolved, error) {
	if !intent.Type.IsValid() {
		return nil, fmt.Errorf("Resolve: payment type %q: %w", intent.Type, domain.ErrInvalidRequest)
	}
	if err := domain.ValidateAmount(intent.Amount); err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	if intent.Fee.IsNegative() {
		return nil, fmt.Errorf("Resolve: negative fee: %w", domain.ErrInvalidAmount)
	}
	if intent.Amount.LessThan(s.limits.Min) || intent.Amount.GreaterThan(s.limits.Max) {
		return nil, fmt.Errorf("Resolve: %w", domain.ErrLimitExceeded)
	}

	sender, err := s.accounts.GetByID(ctx, intent.SenderID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("Resolve: sender: %w", domain.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	if sender.Status == domain.AccountStatusDeactivated {
		return nil, fmt.Errorf("Resolve: %w", domain.ErrAccountDeactivated)
	}

	resolved := &Resolved{Intent: intent, Sender: sender}
	if resolved.Intent.Feature == "" {
		resolved.Intent.Feature = domain.FeatureTransfer
	}

	switch intent.Type {
	case domain.PaymentTypeInternal:
		recipient, err := s.lookupRecipient(ctx, intent)
		if err != nil {
			return nil, fmt.Errorf("Resolve: %w", err)
		}
		if recipient.ID == sender.ID {
			return nil, fmt.Errorf("Resolve: %w", domain.ErrSelfTransfer)
		}
		if recipient.Status == domain.AccountStatusDeactivated {
			return nil, fmt.Errorf("Resolve: recipient: %w", domain.ErrAccountDeactivated)
		}
		// Internal transfers carry no fee today.
		if !intent.Fee.IsZero() {
			return nil, fmt.Errorf("Resolve: internal transfer fee: %w", domain.ErrInvalidAmount)
		}
		resolved.Recipient = recipient
	case domain.PaymentTypeExternal:
		if intent.Bank == nil || intent.Bank.BankCode == "" || intent.Bank.AccountNumber == "" {
			return nil, fmt.Errorf("Resolve: %w", domain.ErrMissingBankDetails)
		}
	}
	return resolved, nil
}

func (s *Service) lookupRecipient(ctx context.Context, intent domain.TransferIntent) (*domain.Account, error) {
	var (
		recipient *domain.Account
		err       error
	)
	switch {
	case intent.RecipientID != uuid.Nil:
		recipient, err = s.accounts.GetByID(ctx, intent.RecipientID)
	case intent.RecipientPhone != "":
		recipient, err = s.accounts.FindByIdentifier(ctx, intent.RecipientPhone)
	default:
		return nil, domain.ErrRecipientNotFound
	}
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrRecipientNotFound
		}
		return nil, err
	}
	return recipient, nil
}

// Execute carries out a resolved transfer. Internal transfers commit both
// legs atomically; external ones only reserve the debit, which settles later
// through Settle. Notifications go out after the ledger has committed and
// never affect the outcome.
func (s *Service) Execute(ctx context.Context, resolved *Resolved) (*Result, error) {
	intent := resolved.Intent

	switch intent.Type {
	case domain.PaymentTypeInternal:
		senderDesc := intent.Description
		if senderDesc == "" {
			senderDesc = "Transfer to " + resolved.Recipient.FullName()
		}
		record, err := s.ledger.Transfer(ctx, resolved.Sender.ID, resolved.Recipient.ID,
			intent.Amount, intent.Feature, senderDesc, "Transfer from "+resolved.Sender.FullName())
		if err != nil {
			return nil, fmt.Errorf("Execute: %w", err)
		}

		s.notifyTransaction(ctx, record.Debit, fmt.Sprintf("You sent %s to %s", intent.Amount.StringFixed(2), resolved.Recipient.FullName()))
		s.notifyTransaction(ctx, record.Credit, fmt.Sprintf("You received %s from %s", intent.Amount.StringFixed(2), resolved.Sender.FullName()))
		return &Result{Type: intent.Type, Record: record}, nil

	case domain.PaymentTypeExternal:
		total := intent.Amount.Add(intent.Fee)
		description := intent.Description
		if description == "" {
			description = fmt.Sprintf("Transfer to account %s (%s)", intent.Bank.AccountNumber, intent.Bank.BankCode)
		}
		reservation, err := s.ledger.ReserveDebit(ctx, resolved.Sender.ID, total, intent.Feature, description)
		if err != nil {
			return nil, fmt.Errorf("Execute: %w", err)
		}
		return &Result{Type: intent.Type, Reservation: reservation}, nil
	}
	return nil, fmt.Errorf("Execute: payment type %q: %w", intent.Type, domain.ErrInvalidRequest)
}

// Settle resolves a pending external reservation when the settlement signal
// arrives. Unknown references map to not-found, non-pending rows to an
// invalid transition.
func (s *Service) Settle(ctx context.Context, reference string, outcome domain.TransactionStatus) error {
	txn, err := s.transactions.GetByReference(ctx, reference)
	if err != nil {
		return fmt.Errorf("Settle: %w", err)
	}
	if err := s.ledger.Finalize(ctx, txn.ID, outcome); err != nil {
		return fmt.Errorf("Settle: %w", err)
	}

	content := fmt.Sprintf("Your transfer of %s was successful", txn.Amount.StringFixed(2))
	if outcome == domain.StatusFailed {
		content = fmt.Sprintf("Your transfer of %s failed; no funds left your wallet", txn.Amount.StringFixed(2))
	}
	s.notifyTransaction(ctx, txn, content)
	return nil
}

func (s *Service) notifyTransaction(ctx context.Context, txn *domain.Transaction, content string) {
	n := domain.Notification{
		AccountID:     txn.AccountID,
		Content:       content,
		Kind:          domain.NotificationWallet,
		TransactionID: &txn.ID,
	}
	if err := s.notifier.Emit(ctx, n); err != nil {
		logging.FromContext(ctx).Warn("notification emit failed", "error", err, "transaction_id", txn.ID)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAccountNotFound)
}
