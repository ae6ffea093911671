package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationKind string

const (
	NotificationWallet   NotificationKind = "wallet"
	NotificationSecurity NotificationKind = "security"
)

type Notification struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Content       string
	Kind          NotificationKind
	TransactionID *uuid.UUID
	Read          bool
	CreatedAt     time.Time
}
