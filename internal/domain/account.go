package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleMerchant Role = "merchant"
	RoleAdmin    Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleMerchant, RoleAdmin:
		return true
	}
	return false
}

type AccountStatus string

const (
	AccountStatusActive      AccountStatus = "active"
	AccountStatusDeactivated AccountStatus = "deactivated"
)

// SecurityFlags is the enumerated set of per-account security toggles.
// Named booleans validated at the boundary, never a free-form map.
type SecurityFlags struct {
	PinSet           bool
	FacePayEnabled   bool
	VoicePayEnabled  bool
	TelegramPayments bool
	WhatsAppPayments bool
}

type Account struct {
	ID             uuid.UUID
	FirstName      string
	LastName       string
	Email          string
	PhoneNumber    string
	PasswordHash   string
	PinHash        *string
	Role           Role
	MerchantName   *string
	Balance        decimal.Decimal
	Flags          SecurityFlags
	TelegramChatID *int64
	Status         AccountStatus
	// Bearer tokens issued before this instant are rejected. Bumped on
	// password change to revoke every outstanding credential at once.
	CredentialsValidFrom time.Time
	CreatedAt            time.Time
}

func (a *Account) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}
