// Package confirm runs the chat-channel confirmation state machine. A chat
// front-end reserves the debit, hands the payer a one-time token, and the
// payer proves ownership with their PIN in the webview before any money
// moves. Tokens are single-use and expire on a TTL; stale reservations are
// failed by the janitor.
package confirm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/ledger"
	"github.com/gestpay/gestpay-backend/internal/logging"
)

type confirmationStore interface {
	Create(ctx context.Context, c *domain.Confirmation) error
	GetByToken(ctx context.Context, token string, now time.Time) (*domain.Confirmation, error)
	ClaimByToken(ctx context.Context, token string, now time.Time) (*domain.Confirmation, error)
	ExpireStale(ctx context.Context, now time.Time) ([]domain.Confirmation, error)
}

type accountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

type reservationFinalizer interface {
	FinalizeReservedTransfer(ctx context.Context, transactionID, recipientID uuid.UUID, feature, recipientDesc string) (*ledger.TransferRecord, error)
	Finalize(ctx context.Context, transactionID uuid.UUID, outcome domain.TransactionStatus) error
}

type emitter interface {
	Emit(ctx context.Context, n domain.Notification) error
}

type Service struct {
	confirmations confirmationStore
	accounts      accountReader
	ledger        reservationFinalizer
	notifier      emitter
	ttl           time.Duration
	now           func() time.Time
}

func NewService(confirmations confirmationStore, accounts accountReader, finalizer reservationFinalizer, notifier emitter, ttl time.Duration) *Service {
	return &Service{
		confirmations: confirmations,
		accounts:      accounts,
		ledger:        finalizer,
		notifier:      notifier,
		ttl:           ttl,
		now:           time.Now,
	}
}

// Create opens a confirmation for an already-reserved debit and returns the
// one-time token the payer must redeem before the TTL runs out.
func (s *Service) Create(ctx context.Context, accountID, transactionID, recipientID uuid.UUID, channel domain.ConfirmationChannel) (*domain.Confirmation, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("Create: channel %q: %w", channel, domain.ErrInvalidRequest)
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	now := s.now().UTC()
	c := &domain.Confirmation{
		ID:            uuid.New(),
		Token:         token,
		AccountID:     accountID,
		TransactionID: transactionID,
		RecipientID:   recipientID,
		Channel:       channel,
		Status:        domain.ConfirmationAwaiting,
		ExpiresAt:     now.Add(s.ttl),
		CreatedAt:     now,
	}
	if err := s.confirmations.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	return c, nil
}

// Confirm redeems a token with the payer's PIN. The claim is atomic, so a
// token can only ever release one reservation; a wrong PIN burns nothing
// because the claim happens after the PIN check.
func (s *Service) Confirm(ctx context.Context, token, pin string) (*ledger.TransferRecord, error) {
	account, confirmation, err := s.verifyPin(ctx, token, pin)
	if err != nil {
		return nil, fmt.Errorf("Confirm: %w", err)
	}

	feature := domain.FeatureTelegramPay
	if confirmation.Channel == domain.ChannelWhatsApp {
		feature = domain.FeatureWhatsAppPay
	}
	record, err := s.ledger.FinalizeReservedTransfer(ctx, confirmation.TransactionID, confirmation.RecipientID,
		feature, "Payment from "+account.FullName())
	if err != nil {
		return nil, fmt.Errorf("Confirm: %w", err)
	}

	s.notify(ctx, record.Debit.AccountID, &record.Debit.ID,
		fmt.Sprintf("You paid %s via %s", record.Debit.Amount.StringFixed(2), confirmation.Channel))
	s.notify(ctx, record.Credit.AccountID, &record.Credit.ID,
		fmt.Sprintf("You received %s from %s", record.Credit.Amount.StringFixed(2), account.FullName()))
	return record, nil
}

func (s *Service) verifyPin(ctx context.Context, token, pin string) (*domain.Account, *domain.Confirmation, error) {
	now := s.now().UTC()

	// Peek without consuming: a wrong PIN must not burn the token.
	peeked, err := s.confirmations.GetByToken(ctx, token, now)
	if err != nil {
		return nil, nil, err
	}

	account, err := s.accounts.GetByID(ctx, peeked.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if account.PinHash == nil {
		return nil, nil, domain.ErrPinNotSet
	}
	if bcrypt.CompareHashAndPassword([]byte(*account.PinHash), []byte(pin)) != nil {
		return nil, nil, domain.ErrInvalidPin
	}

	// PIN proven; now take the single-use claim.
	confirmation, err := s.confirmations.ClaimByToken(ctx, token, now)
	if err != nil {
		return nil, nil, err
	}
	return account, confirmation, nil
}

// ExpireStale moves every overdue confirmation to expired and fails its
// reservation. Called by the janitor on a schedule.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.confirmations.ExpireStale(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("ExpireStale: %w", err)
	}

	log := logging.FromContext(ctx)
	for _, c := range stale {
		if err := s.ledger.Finalize(ctx, c.TransactionID, domain.StatusFailed); err != nil {
			// Already-finalized reservations are fine to skip; anything
			// else is retried on the next sweep.
			if !errors.Is(err, domain.ErrInvalidTransition) {
				log.Error("failed to fail expired reservation", "error", err, "transaction_id", c.TransactionID)
				continue
			}
		}
		s.notify(ctx, c.AccountID, &c.TransactionID, "Your pending payment expired and was cancelled")
	}
	return len(stale), nil
}

func (s *Service) notify(ctx context.Context, accountID uuid.UUID, txnID *uuid.UUID, content string) {
	n := domain.Notification{
		AccountID:     accountID,
		Content:       content,
		Kind:          domain.NotificationWallet,
		TransactionID: txnID,
	}
	if err := s.notifier.Emit(ctx, n); err != nil {
		logging.FromContext(ctx).Warn("notification emit failed", "error", err, "account_id", accountID)
	}
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("newToken: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
