// Package notification delivers wallet and security events to account
// holders. Delivery is best-effort and strictly decoupled from money
// movement: the ledger commits first, then the dispatcher fans out on its
// own goroutine with its own timeout, and failures are logged and dropped.
package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gestpay/gestpay-backend/internal/domain"
)

// Emitter delivers a single notification. Implementations must be safe for
// concurrent use.
type Emitter interface {
	Emit(ctx context.Context, n domain.Notification) error
}

type notificationStore interface {
	Create(ctx context.Context, n *domain.Notification) error
}

// Store persists notifications so GET /notifications can list them.
type Store struct {
	repo notificationStore
}

func NewStore(repo notificationStore) *Store {
	return &Store{repo: repo}
}

func (s *Store) Emit(ctx context.Context, n domain.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return s.repo.Create(ctx, &n)
}

// Dispatcher fans a notification out to every sink asynchronously. Emit
// returns immediately; each sink gets emitTimeout on a fresh context so a
// slow broker can never stall or fail the request that produced the event.
type Dispatcher struct {
	sinks  []Emitter
	log    *slog.Logger
	cancel context.CancelFunc
	base   context.Context
}

const emitTimeout = 5 * time.Second

func NewDispatcher(log *slog.Logger, sinks ...Emitter) *Dispatcher {
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{sinks: sinks, log: log, base: base, cancel: cancel}
}

func (d *Dispatcher) Emit(_ context.Context, n domain.Notification) error {
	go func() {
		ctx, cancel := context.WithTimeout(d.base, emitTimeout)
		defer cancel()
		for _, sink := range d.sinks {
			if err := sink.Emit(ctx, n); err != nil {
				d.log.Warn("notification delivery failed",
					"error", err,
					"account_id", n.AccountID,
					"kind", n.Kind,
				)
			}
		}
	}()
	return nil
}

// Close stops in-flight deliveries during shutdown.
func (d *Dispatcher) Close() {
	d.cancel()
}
