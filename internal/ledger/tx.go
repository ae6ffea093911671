package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/logging"
)

// withRetry runs fn inside a database transaction and retries the whole unit
// on serialization or deadlock failures, with jittered backoff between
// attempts. Domain errors never trigger a retry. Once the retry budget is
// exhausted the caller sees ErrConcurrencyConflict.
func (e *Engine) withRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			backoff := e.backoff*time.Duration(attempt) + time.Duration(rand.Int63n(int64(e.backoff)+1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			logging.FromContext(ctx).Debug("retrying ledger transaction", "attempt", attempt)
		}

		err = e.inTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
}

func (e *Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return err
		}
		return fmt.Errorf("%w: commit: %v", domain.ErrStorageFailure, err)
	}
	return nil
}

// lockAccountsInOrder takes FOR UPDATE locks on every listed account in
// ascending id order. Consistent ordering is what keeps two concurrent
// transfers between the same pair of accounts from deadlocking.
func (e *Engine) lockAccountsInOrder(ctx context.Context, tx *sql.Tx, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	ordered := make([]uuid.UUID, len(ids))
	copy(ordered, ids)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].String() < ordered[j].String()
	})

	locked := make(map[uuid.UUID]*domain.Account, len(ordered))
	for _, id := range ordered {
		account, err := e.lockAccount(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = account
	}
	return locked, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// Postgres reports serialization failures as SQLSTATE 40001 and deadlocks
// as 40P01; both are safe to retry because the whole unit rolled back.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
