package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/camp/kindred/dashboard/backend"
)

const (
	// defaultPollInterval matches the dashboard's refresh cadence.
	defaultPollInterval = 5 * time.Second
	// defaultStaleAfter flags a sync still running well past the
	// longest observed full-pipeline run.
	defaultStaleAfter = 45 * time.Minute
)

// Poller periodically refreshes the status store and feeds each
// snapshot through the reconciler. Syncs running past the stale
// threshold are flagged once per run.
type Poller struct {
	store      *StatusStore
	reconciler *Reconciler
	notifier   Notifier
	interval   time.Duration
	staleAfter time.Duration

	flaggedStale map[string]bool
}

// PollerConfig overrides the poller defaults. Zero values keep them.
type PollerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

func NewPoller(store *StatusStore, notifier Notifier, cfg *PollerConfig) *Poller {
	p := &Poller{
		store:        store,
		reconciler:   NewReconciler(notifier),
		notifier:     notifier,
		interval:     defaultPollInterval,
		staleAfter:   defaultStaleAfter,
		flaggedStale: make(map[string]bool),
	}
	if cfg != nil {
		if cfg.Interval > 0 {
			p.interval = cfg.Interval
		}
		if cfg.StaleAfter > 0 {
			p.staleAfter = cfg.StaleAfter
		}
	}
	return p
}

// Run polls until ctx is canceled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("Status poller starting", "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Status poller stopping")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick performs one poll cycle: refresh, reconcile, stale check. A
// failed poll leaves the previous snapshot in place and skips
// reconciliation so no phantom transitions fire.
func (p *Poller) Tick(ctx context.Context) {
	if err := p.store.Poll(ctx); err != nil {
		return
	}

	snapshot := p.store.Snapshot()
	p.reconciler.Observe(snapshot)
	p.checkStale(snapshot, time.Now())
}

func (p *Poller) checkStale(snapshot map[string]backend.Status, now time.Time) {
	staleNow := make(map[string]bool)
	for _, id := range p.store.StaleIDs(now, p.staleAfter) {
		staleNow[id] = true
		if !p.flaggedStale[id] {
			p.flaggedStale[id] = true
			p.notifier.SyncStale(id, now.Sub(snapshot[id].StartTime))
		}
	}

	// A sync that stopped running can be flagged again on its next run.
	for id := range p.flaggedStale {
		if !staleNow[id] {
			delete(p.flaggedStale, id)
		}
	}
}
