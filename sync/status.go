package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/camp/kindred/dashboard/backend"
)

// StatusFetcher is the slice of the backend client the status store
// needs. Satisfied by *backend.Client.
type StatusFetcher interface {
	SyncStatus(ctx context.Context) (*backend.StatusSnapshot, error)
}

// StatusStore holds the latest sync status snapshot. Each successful
// poll replaces the snapshot wholesale; a failed poll keeps the last
// known good snapshot so readers never see partial state.
type StatusStore struct {
	fetcher  StatusFetcher
	registry *Registry

	mu        sync.RWMutex
	statuses  map[string]backend.Status
	meta      backend.Meta
	fetchedAt time.Time
	lastErr   error
}

// NewStatusStore creates a store seeded with every registry type idle.
func NewStatusStore(fetcher StatusFetcher, registry *Registry) *StatusStore {
	s := &StatusStore{
		fetcher:  fetcher,
		registry: registry,
		statuses: make(map[string]backend.Status),
	}
	for _, id := range registry.IDs() {
		s.statuses[id] = backend.Status{Type: id, Status: backend.StatusIdle}
	}
	return s
}

// Poll fetches a fresh snapshot and replaces the stored one. Types the
// backend did not report are filled in as idle so the catalog always
// reads complete. On fetch error the previous snapshot is retained and
// the error is recorded and returned.
func (s *StatusStore) Poll(ctx context.Context) error {
	snapshot, err := s.fetcher.SyncStatus(ctx)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		slog.Warn("Status poll failed, keeping last snapshot", "error", err)
		return fmt.Errorf("polling sync status: %w", err)
	}

	next := make(map[string]backend.Status, len(s.registry.IDs()))
	for _, id := range s.registry.IDs() {
		if st, ok := snapshot.Statuses[id]; ok {
			next[id] = st
		} else {
			next[id] = backend.Status{Type: id, Status: backend.StatusIdle}
		}
	}
	// Types the backend reports but the catalog doesn't know are kept
	// visible rather than silently dropped.
	for id, st := range snapshot.Statuses {
		if _, ok := next[id]; !ok {
			next[id] = st
		}
	}

	s.mu.Lock()
	s.statuses = next
	s.meta = snapshot.Meta
	s.fetchedAt = time.Now()
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// Get returns the status for one sync type.
func (s *StatusStore) Get(id string) (backend.Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[id]
	return st, ok
}

// Snapshot returns a copy of all statuses keyed by sync type id.
func (s *StatusStore) Snapshot() map[string]backend.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]backend.Status, len(s.statuses))
	for id, st := range s.statuses {
		out[id] = st
	}
	return out
}

// Meta returns the orchestrator-level metadata from the last good poll.
func (s *StatusStore) Meta() backend.Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// LastError returns the error from the most recent poll, or nil if the
// most recent poll succeeded.
func (s *StatusStore) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// FetchedAt returns when the last successful poll completed.
func (s *StatusStore) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

// IsRunning reports whether the named sync type is running or pending.
func (s *StatusStore) IsRunning(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[id]
	return ok && (st.Status == backend.StatusRunning || st.Status == backend.StatusPending)
}

// IsAnyRunning reports whether any sync is running or pending, or an
// orchestrator-level job (daily, weekly, historical) is in flight.
func (s *StatusStore) IsAnyRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta.DailySyncRunning || s.meta.WeeklySyncRunning || s.meta.HistoricalSyncRunning {
		return true
	}
	for _, st := range s.statuses {
		if st.Status == backend.StatusRunning || st.Status == backend.StatusPending {
			return true
		}
	}
	return false
}

// StaleIDs returns sync types that have been running longer than
// staleAfter as of now. A zero start time never counts as stale.
func (s *StatusStore) StaleIDs(now time.Time, staleAfter time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, st := range s.statuses {
		if st.Status != backend.StatusRunning || st.StartTime.IsZero() {
			continue
		}
		if now.Sub(st.StartTime) > staleAfter {
			out = append(out, id)
		}
	}
	return out
}
