package sync

import (
	"log/slog"
	"time"

	"github.com/camp/kindred/dashboard/backend"
)

// Completion describes a sync that reached a terminal state.
type Completion struct {
	ID      string
	Outcome string // success or failed
	Summary backend.Stats
	Error   string
	EndTime *time.Time
}

// Diff compares two status snapshots and returns the syncs that
// completed between them plus the ids that newly started. A completion
// fires when a type goes from running (or pending) to a terminal
// status, and also when a type shows a different terminal outcome than
// before without the transition being observed (the poll missed the
// running window). An unchanged terminal status never fires twice.
func Diff(prev, next map[string]backend.Status) (completions []Completion, started []string) {
	for id, cur := range next {
		old, existed := prev[id]

		if cur.Status == backend.StatusRunning || cur.Status == backend.StatusPending {
			if !existed || (old.Status != backend.StatusRunning && old.Status != backend.StatusPending) {
				started = append(started, id)
			}
			continue
		}

		if !cur.Terminal() {
			continue
		}

		wasActive := existed && (old.Status == backend.StatusRunning || old.Status == backend.StatusPending)
		changedTerminal := existed && old.Terminal() &&
			(old.Status != cur.Status || !equalEndTimes(old.EndTime, cur.EndTime))

		if wasActive || changedTerminal {
			completions = append(completions, Completion{
				ID:      id,
				Outcome: cur.Status,
				Summary: cur.Summary,
				Error:   cur.Error,
				EndTime: cur.EndTime,
			})
		}
	}
	return completions, started
}

func equalEndTimes(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Notifier receives one-shot sync lifecycle events.
type Notifier interface {
	SyncStarted(id string)
	SyncCompleted(c Completion)
	SyncStale(id string, runningFor time.Duration)
}

// LogNotifier writes lifecycle events to the structured log.
type LogNotifier struct{}

func (LogNotifier) SyncStarted(id string) {
	slog.Info("Sync started", "syncType", id)
}

func (LogNotifier) SyncCompleted(c Completion) {
	if c.Outcome == backend.StatusFailed {
		slog.Error("Sync failed", "syncType", c.ID, "error", c.Error)
		return
	}
	slog.Info("Sync completed",
		"syncType", c.ID,
		"created", c.Summary.Created,
		"updated", c.Summary.Updated,
		"errors", c.Summary.Errors,
		"duration", c.Summary.Duration)
}

func (LogNotifier) SyncStale(id string, runningFor time.Duration) {
	slog.Warn("Sync appears stale", "syncType", id, "runningFor", runningFor.Round(time.Second).String())
}

// Reconciler tracks snapshot-to-snapshot transitions and dispatches
// each completion to the notifier exactly once. Re-running a sync
// resets its completion state, so a later terminal status notifies
// again.
type Reconciler struct {
	notifier Notifier
	prev     map[string]backend.Status
}

func NewReconciler(notifier Notifier) *Reconciler {
	return &Reconciler{
		notifier: notifier,
		prev:     make(map[string]backend.Status),
	}
}

// Observe advances the reconciler to next, notifying starts and
// completions found against the previously observed snapshot.
func (r *Reconciler) Observe(next map[string]backend.Status) {
	completions, started := Diff(r.prev, next)
	for _, id := range started {
		r.notifier.SyncStarted(id)
	}
	for _, c := range completions {
		r.notifier.SyncCompleted(c)
	}

	r.prev = make(map[string]backend.Status, len(next))
	for id, st := range next {
		r.prev[id] = st
	}
}
