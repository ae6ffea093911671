package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay-backend/internal/domain"
)

const accountColumns = `id, first_name, last_name, email, phone_number, password_hash,
	pin_hash, role, merchant_name, balance, face_pay_enabled, voice_pay_enabled,
	telegram_payments, telegram_chat_id, whatsapp_payments, status,
	credentials_valid_from, created_at`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return a, nil
}

// FindByIdentifier resolves an account by phone number or email. Phone
// numbers are matched exactly; anything containing '@' is treated as email.
func (r *AccountRepository) FindByIdentifier(ctx context.Context, key string) (*domain.Account, error) {
	column := "phone_number"
	if strings.Contains(key, "@") {
		column = "email"
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+column+` = $1`, key,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("FindByIdentifier: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("FindByIdentifier: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetByTelegramChat(ctx context.Context, chatID int64) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE telegram_chat_id = $1`, chatID,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByTelegramChat: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByTelegramChat: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (
			id, first_name, last_name, email, phone_number, password_hash,
			pin_hash, role, merchant_name, balance, face_pay_enabled, voice_pay_enabled,
			telegram_payments, telegram_chat_id, whatsapp_payments, status,
			credentials_valid_from, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		account.ID, account.FirstName, account.LastName, account.Email, account.PhoneNumber,
		account.PasswordHash, account.PinHash, account.Role, account.MerchantName,
		account.Balance, account.Flags.FacePayEnabled, account.Flags.VoicePayEnabled,
		account.Flags.TelegramPayments, account.TelegramChatID, account.Flags.WhatsAppPayments,
		account.Status, account.CredentialsValidFrom, account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrAccountExists)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// GetForUpdate loads an account under an exclusive row lock. Must be called
// inside the transaction that will write the new balance.
func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1 WHERE id = $2`,
		newBalance, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateBalance: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateBalance: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateBalance: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *AccountRepository) SetPin(ctx context.Context, id uuid.UUID, pinHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET pin_hash = $1 WHERE id = $2`, pinHash, id,
	)
	if err != nil {
		return fmt.Errorf("SetPin: %w", err)
	}
	return requireRow(res, "SetPin")
}

// UpdatePassword stores the new hash and bumps the credential watermark,
// revoking every bearer token issued before now.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, validFrom time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = $1, credentials_valid_from = $2 WHERE id = $3`,
		passwordHash, validFrom, id,
	)
	if err != nil {
		return fmt.Errorf("UpdatePassword: %w", err)
	}
	return requireRow(res, "UpdatePassword")
}

func (r *AccountRepository) LinkTelegramChat(ctx context.Context, id uuid.UUID, chatID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET telegram_chat_id = $1, telegram_payments = TRUE WHERE id = $2`,
		chatID, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("LinkTelegramChat: %w", domain.ErrAccountExists)
		}
		return fmt.Errorf("LinkTelegramChat: %w", err)
	}
	return requireRow(res, "LinkTelegramChat")
}

func (r *AccountRepository) SetChannelPayments(ctx context.Context, id uuid.UUID, channel domain.ConfirmationChannel, enabled bool) error {
	column := "telegram_payments"
	if channel == domain.ChannelWhatsApp {
		column = "whatsapp_payments"
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET `+column+` = $1 WHERE id = $2`, enabled, id,
	)
	if err != nil {
		return fmt.Errorf("SetChannelPayments: %w", err)
	}
	return requireRow(res, "SetChannelPayments")
}

func requireRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func scanAccount(s scanner) (*domain.Account, error) {
	var a domain.Account
	err := s.Scan(
		&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.PhoneNumber, &a.PasswordHash,
		&a.PinHash, &a.Role, &a.MerchantName, &a.Balance,
		&a.Flags.FacePayEnabled, &a.Flags.VoicePayEnabled,
		&a.Flags.TelegramPayments, &a.TelegramChatID, &a.Flags.WhatsAppPayments,
		&a.Status, &a.CredentialsValidFrom, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Flags.PinSet = a.PinHash != nil
	return &a, nil
}
