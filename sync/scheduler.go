package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/camp/kindred/dashboard/backend"
)

// nightlySchedule triggers the full pipeline at 3 AM, after
// CampMinder's own overnight maintenance window.
const nightlySchedule = "0 3 * * *"

// Watcher runs the dashboard headless: a nightly full sync on a cron
// schedule plus the continuous status poller.
type Watcher struct {
	trigger *Trigger
	poller  *Poller
	cron    *cron.Cron
}

func NewWatcher(trigger *Trigger, poller *Poller) *Watcher {
	return &Watcher{
		trigger: trigger,
		poller:  poller,
		cron:    cron.New(),
	}
}

// Start registers the nightly job and launches the cron scheduler and
// the poller. It blocks until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(nightlySchedule, func() {
		w.runNightly(ctx)
	})
	if err != nil {
		return fmt.Errorf("registering nightly sync: %w", err)
	}

	slog.Info("Watch mode starting", "schedule", nightlySchedule)
	w.cron.Start()

	w.poller.Run(ctx)

	stopCtx := w.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		slog.Warn("Timed out waiting for scheduled job to finish")
	}
	slog.Info("Watch mode stopped")
	return nil
}

func (w *Watcher) runNightly(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Nightly sync panicked", "panic", r)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	slog.Info("Nightly sync firing")
	result, err := w.trigger.RunAll(runCtx, false)
	if err != nil {
		if errors.Is(err, backend.ErrAlreadyRunning) {
			slog.Warn("Nightly sync skipped, sync already in progress")
			return
		}
		slog.Error("Nightly sync trigger failed", "error", err)
		return
	}

	if result.Queued() {
		slog.Info("Nightly sync queued", "queue_id", result.QueueID, "position", result.Position)
	} else {
		slog.Info("Nightly sync started")
	}
}
