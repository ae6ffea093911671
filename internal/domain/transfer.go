package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeInternal PaymentType = "internal"
	PaymentTypeExternal PaymentType = "external"
)

func (t PaymentType) IsValid() bool {
	return t == PaymentTypeInternal || t == PaymentTypeExternal
}

// BankDetails is the routing tuple for external transfers.
type BankDetails struct {
	BankCode      string
	AccountNumber string
}

// TransferIntent is the caller's request to move funds, prior to
// validation and recipient resolution. Never persisted.
type TransferIntent struct {
	SenderID    uuid.UUID
	Type        PaymentType
	Amount      decimal.Decimal
	Fee         decimal.Decimal // accepted for forward compatibility, currently zero
	Description string

	// Recipient resolution key: exactly one of these is consulted
	// depending on Type.
	RecipientID    uuid.UUID
	RecipientPhone string
	Bank           *BankDetails

	Feature string
}
