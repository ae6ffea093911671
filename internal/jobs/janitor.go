// Package jobs runs the background maintenance schedule: expiring stale
// chat confirmations (and failing their reservations) and clearing old
// idempotency cache entries.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type confirmationExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

type idempotencyCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

type Janitor struct {
	cron          *cron.Cron
	confirmations confirmationExpirer
	idempotency   idempotencyCleaner
	log           *slog.Logger
}

const sweepTimeout = 30 * time.Second

func NewJanitor(confirmations confirmationExpirer, idempotency idempotencyCleaner, log *slog.Logger) *Janitor {
	return &Janitor{
		cron:          cron.New(),
		confirmations: confirmations,
		idempotency:   idempotency,
		log:           log,
	}
}

// Start registers the sweep on the given cron schedule and begins running.
func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	j.log.Info("janitor started", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	expired, err := j.confirmations.ExpireStale(ctx)
	if err != nil {
		j.log.Error("confirmation sweep failed", "error", err)
	} else if expired > 0 {
		j.log.Info("expired stale confirmations", "count", expired)
	}

	cleaned, err := j.idempotency.CleanExpired(ctx)
	if err != nil {
		j.log.Error("idempotency sweep failed", "error", err)
	} else if cleaned > 0 {
		j.log.Info("cleaned idempotency cache", "count", cleaned)
	}
}
