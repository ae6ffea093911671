package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConfirmationChannel string

const (
	ChannelTelegram ConfirmationChannel = "telegram"
	ChannelWhatsApp ConfirmationChannel = "whatsapp"
)

func (c ConfirmationChannel) IsValid() bool {
	return c == ChannelTelegram || c == ChannelWhatsApp
}

type ConfirmationStatus string

const (
	ConfirmationAwaiting  ConfirmationStatus = "awaiting_confirmation"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationExpired   ConfirmationStatus = "expired"
)

// Confirmation is the short-lived state machine behind chat-channel
// payments: a debit reservation awaits an out-of-band PIN entry keyed by a
// one-time token. The ledger only ever sees ReserveDebit/Finalize.
type Confirmation struct {
	ID            uuid.UUID
	Token         string
	AccountID     uuid.UUID
	TransactionID uuid.UUID
	RecipientID   uuid.UUID
	Channel       ConfirmationChannel
	Status        ConfirmationStatus
	ExpiresAt     time.Time
	CreatedAt     time.Time
}
