package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gestpay/gestpay-backend/internal/domain"
)

const confirmationColumns = `id, token, account_id, transaction_id, recipient_id,
	channel, status, expires_at, created_at`

type ConfirmationRepository struct {
	db *sql.DB
}

func NewConfirmationRepository(db *sql.DB) *ConfirmationRepository {
	return &ConfirmationRepository{db: db}
}

func (r *ConfirmationRepository) Create(ctx context.Context, c *domain.Confirmation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO confirmations (
			id, token, account_id, transaction_id, recipient_id,
			channel, status, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Token, c.AccountID, c.TransactionID, c.RecipientID,
		c.Channel, c.Status, c.ExpiresAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// GetByToken returns the confirmation behind a token without consuming it.
// Used to check the payer's PIN before the single-use claim.
func (r *ConfirmationRepository) GetByToken(ctx context.Context, token string, now time.Time) (*domain.Confirmation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+confirmationColumns+` FROM confirmations WHERE token = $1`, token,
	)
	c, err := scanConfirmation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByToken: %w", domain.ErrConfirmationNotFound)
		}
		return nil, fmt.Errorf("GetByToken: %w", err)
	}
	if c.Status == domain.ConfirmationExpired ||
		(c.Status == domain.ConfirmationAwaiting && !c.ExpiresAt.After(now)) {
		return nil, fmt.Errorf("GetByToken: %w", domain.ErrConfirmationExpired)
	}
	if c.Status != domain.ConfirmationAwaiting {
		return nil, fmt.Errorf("GetByToken: %w", domain.ErrConfirmationNotFound)
	}
	return c, nil
}

// ClaimByToken atomically flips an awaiting confirmation to confirmed and
// returns it. A second claim of the same token finds no awaiting row and
// reports ErrConfirmationNotFound, making the token single-use.
func (r *ConfirmationRepository) ClaimByToken(ctx context.Context, token string, now time.Time) (*domain.Confirmation, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE confirmations SET status = $1
		WHERE token = $2 AND status = $3 AND expires_at > $4
		RETURNING `+confirmationColumns,
		domain.ConfirmationConfirmed, token, domain.ConfirmationAwaiting, now,
	)
	c, err := scanConfirmation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish expired from unknown/used for the caller.
			expired, lookErr := r.isExpired(ctx, token, now)
			if lookErr == nil && expired {
				return nil, fmt.Errorf("ClaimByToken: %w", domain.ErrConfirmationExpired)
			}
			return nil, fmt.Errorf("ClaimByToken: %w", domain.ErrConfirmationNotFound)
		}
		return nil, fmt.Errorf("ClaimByToken: %w", err)
	}
	return c, nil
}

func (r *ConfirmationRepository) isExpired(ctx context.Context, token string, now time.Time) (bool, error) {
	var expiresAt time.Time
	var status domain.ConfirmationStatus
	err := r.db.QueryRowContext(ctx,
		`SELECT expires_at, status FROM confirmations WHERE token = $1`, token,
	).Scan(&expiresAt, &status)
	if err != nil {
		return false, err
	}
	return status == domain.ConfirmationAwaiting && !expiresAt.After(now) ||
		status == domain.ConfirmationExpired, nil
}

// ExpireStale marks awaiting confirmations past their deadline and returns
// them so the caller can fail the underlying reservations.
func (r *ConfirmationRepository) ExpireStale(ctx context.Context, now time.Time) ([]domain.Confirmation, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE confirmations SET status = $1
		WHERE status = $2 AND expires_at <= $3
		RETURNING `+confirmationColumns,
		domain.ConfirmationExpired, domain.ConfirmationAwaiting, now,
	)
	if err != nil {
		return nil, fmt.Errorf("ExpireStale: %w", err)
	}
	defer rows.Close()

	var stale []domain.Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, fmt.Errorf("ExpireStale: scan: %w", err)
		}
		stale = append(stale, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ExpireStale: rows: %w", err)
	}
	return stale, nil
}

func scanConfirmation(s scanner) (*domain.Confirmation, error) {
	var c domain.Confirmation
	err := s.Scan(
		&c.ID, &c.Token, &c.AccountID, &c.TransactionID, &c.RecipientID,
		&c.Channel, &c.Status, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
