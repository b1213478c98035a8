// Package cleanup provides the scheduled janitor removing idle sessions and
// stalled partial uploads.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/audiosplit/audiosplit-api/internal/session"
	"github.com/audiosplit/audiosplit-api/internal/upload"
)

// Janitor runs the inactivity sweep on a cron schedule. Explicit cleanup and
// the page-unload signal go straight to the session service; the janitor is
// the safety net for clients that never said goodbye.
type Janitor struct {
	cron     *cron.Cron
	sessions *session.Service
	uploads  *upload.Assembler
	ttl      time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a Janitor sweeping on the given cron schedule
// (e.g. "@every 5m"). Sessions and partial uploads idle longer than ttl are
// removed.
func NewJanitor(sessions *session.Service, uploads *upload.Assembler, ttl time.Duration, schedule string, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		cron:     cron.New(),
		sessions: sessions,
		uploads:  uploads,
		ttl:      ttl,
		logger:   logger,
	}

	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	return j, nil
}

// Start begins the sweep schedule in its own goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("cleanup janitor started", slog.Duration("session_ttl", j.ttl))
}

// Stop ends the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("cleanup janitor stopped")
}

// Sweep runs one sweep immediately. Exposed for tests and manual triggering.
func (j *Janitor) Sweep() {
	j.sweep()
}

func (j *Janitor) sweep() {
	removed, err := j.sessions.SweepExpired(context.Background(), j.ttl)
	if err != nil {
		j.logger.Error("session sweep failed", slog.String("error", err.Error()))
	}

	stale := j.uploads.SweepStale(j.ttl)

	if removed > 0 || stale > 0 {
		j.logger.Info("cleanup sweep finished",
			slog.Int("sessions_removed", removed),
			slog.Int("partials_removed", stale),
		)
	}
}
