package domain

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusSuccessful TransactionStatus = "successful"
	StatusFailed     TransactionStatus = "failed"
	StatusReversed   TransactionStatus = "reversed"
)

// CanTransitionTo reports whether a status change is legal. The only valid
// moves are pending->successful, pending->failed and successful->reversed.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSuccessful || next == StatusFailed
	case StatusSuccessful:
		return next == StatusReversed
	}
	return false
}

// Feature tags categorize where a transaction originated. Free-form by
// design; these are the values the backend itself writes.
const (
	FeatureTransfer    = "transfer"
	FeatureTelegramPay = "telegram-pay"
	FeatureWhatsAppPay = "whatsapp-pay"
	FeatureReversal    = "reversal"
)

type Transaction struct {
	ID          uuid.UUID
	Reference   string
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Direction   Direction
	Feature     string
	Status      TransactionStatus
	Description string
	Metadata    json.RawMessage
	CreatedAt   time.Time
}

// NewReference generates a human-shareable unique transaction reference,
// e.g. TXN9F2C41A7B3D05E86.
func NewReference() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a uuid
		return "TXN" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
	}
	return "TXN" + strings.ToUpper(hex.EncodeToString(buf))
}

// ValidateAmount enforces the fixed-point contract: strictly positive and at
// most two decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("ValidateAmount: %w", ErrInvalidAmount)
	}
	if amount.Exponent() < -2 {
		return fmt.Errorf("ValidateAmount: %w", ErrInvalidAmount)
	}
	return nil
}

// TransferMetadata links the two legs of an internal transfer and a reversal
// to its original. Stored as the transaction's metadata JSON.
type TransferMetadata struct {
	CounterpartyReference string `json:"counterparty_reference,omitempty"`
	CounterpartyAccountID string `json:"counterparty_account_id,omitempty"`
	ReversalOf            string `json:"reversal_of,omitempty"`
	ReversalReason        string `json:"reversal_reason,omitempty"`
}

func (m TransferMetadata) Marshal() json.RawMessage {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}
