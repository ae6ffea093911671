package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gestpay/gestpay-backend/internal/auth"
	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/logging"
)

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	FindByIdentifier(ctx context.Context, key string) (*domain.Account, error)
	Create(ctx context.Context, account *domain.Account) error
	SetPin(ctx context.Context, id uuid.UUID, pinHash string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, validFrom time.Time) error
	LinkTelegramChat(ctx context.Context, id uuid.UUID, chatID int64) error
	SetChannelPayments(ctx context.Context, id uuid.UUID, channel domain.ConfirmationChannel, enabled bool) error
}

type securityNotifier interface {
	Emit(ctx context.Context, n domain.Notification) error
}

type AccountService struct {
	accounts    accountRepo
	notifier    securityNotifier
	jwtSecret   string
	tokenExpiry time.Duration
}

func NewAccountService(accounts accountRepo, notifier securityNotifier, jwtSecret string, tokenExpiry time.Duration) *AccountService {
	return &AccountService{
		accounts:    accounts,
		notifier:    notifier,
		jwtSecret:   jwtSecret,
		tokenExpiry: tokenExpiry,
	}
}

// Registration is the validated input for a new account.
type Registration struct {
	FirstName    string
	LastName     string
	Email        string
	PhoneNumber  string
	Password     string
	Role         domain.Role
	MerchantName string
}

func (r *Registration) validate() error {
	switch {
	case strings.TrimSpace(r.FirstName) == "",
		strings.TrimSpace(r.Email) == "",
		strings.TrimSpace(r.PhoneNumber) == "":
		return domain.ErrInvalidRequest
	case !strings.Contains(r.Email, "@"):
		return domain.ErrInvalidRequest
	case len(r.Password) < 8:
		return domain.ErrInvalidRequest
	case r.Role == domain.RoleMerchant && strings.TrimSpace(r.MerchantName) == "":
		return domain.ErrInvalidRequest
	}
	return nil
}

// Register creates an account with a zero balance and returns it together
// with a bearer token.
func (s *AccountService) Register(ctx context.Context, reg Registration) (*domain.Account, string, error) {
	if reg.Role == "" {
		reg.Role = domain.RoleUser
	}
	if !reg.Role.IsValid() {
		return nil, "", fmt.Errorf("Register: role %q: %w", reg.Role, domain.ErrInvalidRequest)
	}
	if err := reg.validate(); err != nil {
		return nil, "", fmt.Errorf("Register: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("Register: %w", err)
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:                   uuid.New(),
		FirstName:            strings.TrimSpace(reg.FirstName),
		LastName:             strings.TrimSpace(reg.LastName),
		Email:                strings.ToLower(strings.TrimSpace(reg.Email)),
		PhoneNumber:          strings.TrimSpace(reg.PhoneNumber),
		PasswordHash:         string(hash),
		Role:                 reg.Role,
		Status:               domain.AccountStatusActive,
		CredentialsValidFrom: now,
		CreatedAt:            now,
	}
	if reg.Role == domain.RoleMerchant {
		name := strings.TrimSpace(reg.MerchantName)
		account.MerchantName = &name
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, "", fmt.Errorf("Register: %w", err)
	}

	token, err := auth.IssueToken(account.ID, s.jwtSecret, s.tokenExpiry)
	if err != nil {
		return nil, "", fmt.Errorf("Register: %w", err)
	}

	logging.FromContext(ctx).Info("account registered",
		"account_id", account.ID,
		"role", account.Role,
	)
	return account, token, nil
}

// Login checks the password for the account behind the email or phone
// identifier and issues a bearer token. Lookup misses and bad passwords both
// collapse to ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, identifier, password string) (*domain.Account, string, error) {
	account, err := s.accounts.FindByIdentifier(ctx, strings.TrimSpace(identifier))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("Login: %w", domain.ErrInvalidCredentials)
		}
		return nil, "", fmt.Errorf("Login: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, "", fmt.Errorf("Login: %w", domain.ErrInvalidCredentials)
	}
	if account.Status == domain.AccountStatusDeactivated {
		return nil, "", fmt.Errorf("Login: %w", domain.ErrAccountDeactivated)
	}

	token, err := auth.IssueToken(account.ID, s.jwtSecret, s.tokenExpiry)
	if err != nil {
		return nil, "", fmt.Errorf("Login: %w", err)
	}
	return account, token, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return account, nil
}

// SetPin stores the bcrypt hash of a 4-6 digit transaction PIN.
func (s *AccountService) SetPin(ctx context.Context, accountID uuid.UUID, pin string) error {
	if len(pin) < 4 || len(pin) > 6 || strings.IndexFunc(pin, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return fmt.Errorf("SetPin: %w", domain.ErrInvalidRequest)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("SetPin: %w", err)
	}
	if err := s.accounts.SetPin(ctx, accountID, string(hash)); err != nil {
		return fmt.Errorf("SetPin: %w", err)
	}
	s.notifySecurity(ctx, accountID, "Your transaction PIN was updated")
	return nil
}

// UpdatePassword verifies the current password, stores the new hash and bumps
// the credential watermark so every outstanding bearer token stops working.
func (s *AccountService) UpdatePassword(ctx context.Context, accountID uuid.UUID, current, next string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("UpdatePassword: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(current)) != nil {
		return fmt.Errorf("UpdatePassword: %w", domain.ErrInvalidCredentials)
	}
	if len(next) < 8 {
		return fmt.Errorf("UpdatePassword: %w", domain.ErrInvalidRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("UpdatePassword: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, accountID, string(hash), time.Now().UTC()); err != nil {
		return fmt.Errorf("UpdatePassword: %w", err)
	}

	logging.FromContext(ctx).Info("password updated, sessions revoked", "account_id", accountID)
	s.notifySecurity(ctx, accountID, "Your password was changed and all sessions were signed out")
	return nil
}

// LinkTelegramChat binds a Telegram chat to the account so the bot can
// resolve /balance and /send commands to a wallet.
func (s *AccountService) LinkTelegramChat(ctx context.Context, accountID uuid.UUID, chatID int64) error {
	if err := s.accounts.LinkTelegramChat(ctx, accountID, chatID); err != nil {
		return fmt.Errorf("LinkTelegramChat: %w", err)
	}
	return nil
}

// SetChannelPayments toggles telegram/whatsapp payments for the account.
func (s *AccountService) SetChannelPayments(ctx context.Context, accountID uuid.UUID, channel domain.ConfirmationChannel, enabled bool) error {
	if !channel.IsValid() {
		return fmt.Errorf("SetChannelPayments: channel %q: %w", channel, domain.ErrInvalidRequest)
	}
	if err := s.accounts.SetChannelPayments(ctx, accountID, channel, enabled); err != nil {
		return fmt.Errorf("SetChannelPayments: %w", err)
	}
	return nil
}

func (s *AccountService) notifySecurity(ctx context.Context, accountID uuid.UUID, content string) {
	n := domain.Notification{
		AccountID: accountID,
		Content:   content,
		Kind:      domain.NotificationSecurity,
	}
	if err := s.notifier.Emit(ctx, n); err != nil {
		logging.FromContext(ctx).Warn("notification emit failed", "error", err, "account_id", accountID)
	}
}
