package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay-backend/internal/domain"
)

const transactionColumns = `id, reference, account_id, amount, direction, feature,
	status, description, metadata, created_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Insert writes a transaction row inside the caller's atomic unit. The
// unique reference makes the insert idempotent: a replay with the same
// reference is rejected as a duplicate, never applied twice.
func (r *TransactionRepository) Insert(ctx context.Context, tx *sql.Tx, txn *domain.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (
			id, reference, account_id, amount, direction, feature,
			status, description, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID, txn.Reference, txn.AccountID, txn.Amount, txn.Direction, txn.Feature,
		txn.Status, txn.Description, nullableJSON(txn.Metadata), txn.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Insert: %w", domain.ErrDuplicateReference)
		}
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	return t, nil
}

// GetForUpdate loads a transaction under an exclusive row lock so a status
// transition can be validated and applied atomically.
func (r *TransactionRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transaction, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return t, nil
}

// UpdateStatus applies a transition, enforcing legality at the database: the
// WHERE clause only matches if the row still carries the expected current
// status, so racing transitions lose cleanly.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.TransactionStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("UpdateStatus: %s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrInvalidTransition)
	}
	return nil
}

type ListFilters struct {
	Status    domain.TransactionStatus
	Direction domain.Direction
	Feature   string
}

// ListForAccount returns the account's transactions newest first.
func (r *TransactionRepository) ListForAccount(ctx context.Context, accountID uuid.UUID, filters ListFilters, limit, offset int) ([]domain.Transaction, int, error) {
	where := `WHERE account_id = $1`
	args := []any{accountID}

	if filters.Status != "" {
		args = append(args, filters.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filters.Direction != "" {
		args = append(args, filters.Direction)
		where += fmt.Sprintf(` AND direction = $%d`, len(args))
	}
	if filters.Feature != "" {
		args = append(args, filters.Feature)
		where += fmt.Sprintf(` AND feature = $%d`, len(args))
	}

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions `+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListForAccount: count: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions `+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListForAccount: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListForAccount: scan: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListForAccount: rows: %w", err)
	}
	return txns, total, nil
}

// MonthlyAggregate holds the dashboard inputs for one calendar month.
type MonthlyAggregate struct {
	CreditTotal decimal.Decimal
	DebitTotal  decimal.Decimal
	Count       int
}

func (r *TransactionRepository) AggregateForPeriod(ctx context.Context, accountID uuid.UUID, from, to time.Time) (*MonthlyAggregate, error) {
	var agg MonthlyAggregate
	err := r.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'credit' AND status = 'successful'), 0),
			COALESCE(SUM(amount) FILTER (WHERE direction = 'debit' AND status = 'successful'), 0),
			COUNT(*)
		FROM transactions
		WHERE account_id = $1 AND created_at >= $2 AND created_at < $3`,
		accountID, from, to,
	).Scan(&agg.CreditTotal, &agg.DebitTotal, &agg.Count)
	if err != nil {
		return nil, fmt.Errorf("AggregateForPeriod: %w", err)
	}
	return &agg, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var metadata *[]byte
	err := s.Scan(
		&t.ID, &t.Reference, &t.AccountID, &t.Amount, &t.Direction, &t.Feature,
		&t.Status, &t.Description, &metadata, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata != nil {
		t.Metadata = *metadata
	}
	return &t, nil
}
