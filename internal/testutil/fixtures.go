package testutil

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/gestpay/gestpay-backend/internal/domain"
)

// TestPassword and TestPin are the plaintext credentials every seeded
// account carries.
const (
	TestPassword = "password123"
	TestPin      = "1234"
)

var seq int

// SeedAccount inserts an active account with the given balance, a known
// password and a set PIN. Email and phone are derived from the name and a
// counter so tests can seed freely without collisions.
func SeedAccount(t *testing.T, db *sql.DB, name string, balance decimal.Decimal) *domain.Account {
	t.Helper()
	seq++

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	pinHash, err := bcrypt.GenerateFromPassword([]byte(TestPin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	pin := string(pinHash)

	a := &domain.Account{
		ID:                   uuid.New(),
		FirstName:            name,
		Email:                fmt.Sprintf("%s%d@test.local", name, seq),
		PhoneNumber:          fmt.Sprintf("+23480%07d", seq),
		PasswordHash:         string(passwordHash),
		PinHash:              &pin,
		Role:                 domain.RoleUser,
		Balance:              balance,
		Status:               domain.AccountStatusActive,
		CredentialsValidFrom: time.Now().UTC(),
		CreatedAt:            time.Now().UTC(),
	}
	a.Flags.PinSet = true

	_, err = db.Exec(
		`INSERT INTO accounts (id, first_name, email, phone_number, password_hash, pin_hash,
			role, balance, status, credentials_valid_from, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.FirstName, a.Email, a.PhoneNumber, a.PasswordHash, a.PinHash,
		a.Role, a.Balance, a.Status, a.CredentialsValidFrom, a.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed account %s: %v", name, err)
	}
	return a
}

// LinkTelegram marks the account as telegram-enabled and binds the chat id.
func LinkTelegram(t *testing.T, db *sql.DB, accountID uuid.UUID, chatID int64) {
	t.Helper()
	_, err := db.Exec(
		`UPDATE accounts SET telegram_chat_id = $2, telegram_payments = TRUE WHERE id = $1`,
		accountID, chatID,
	)
	if err != nil {
		t.Fatalf("link telegram for %s: %v", accountID, err)
	}
}

func GetBalance(t *testing.T, db *sql.DB, accountID uuid.UUID) decimal.Decimal {
	t.Helper()

	var balance decimal.Decimal
	if err := db.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance); err != nil {
		t.Fatalf("get balance %s: %v", accountID, err)
	}
	return balance
}

func CountTransactions(t *testing.T, db *sql.DB, accountID uuid.UUID) int {
	t.Helper()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID).Scan(&count); err != nil {
		t.Fatalf("count transactions for %s: %v", accountID, err)
	}
	return count
}

// TransactionStatus reads the current status of a transaction row.
func TransactionStatus(t *testing.T, db *sql.DB, id uuid.UUID) domain.TransactionStatus {
	t.Helper()

	var status domain.TransactionStatus
	if err := db.QueryRow(`SELECT status FROM transactions WHERE id = $1`, id).Scan(&status); err != nil {
		t.Fatalf("get transaction status %s: %v", id, err)
	}
	return status
}
