package sync

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/camp/kindred/dashboard/backend"
)

// stubFetcher returns a scripted sequence of snapshots or errors.
type stubFetcher struct {
	snapshots []*backend.StatusSnapshot
	errs      []error
	calls     int
}

func (f *stubFetcher) SyncStatus(_ context.Context) (*backend.StatusSnapshot, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.snapshots) {
		return f.snapshots[i], nil
	}
	return &backend.StatusSnapshot{Statuses: map[string]backend.Status{}}, nil
}

func snapshotWith(statuses map[string]backend.Status, meta backend.Meta) *backend.StatusSnapshot {
	return &backend.StatusSnapshot{Statuses: statuses, Meta: meta}
}

func TestStatusStore_SeedsRegistryIdle(t *testing.T) {
	store := NewStatusStore(&stubFetcher{}, DefaultRegistry())

	st, ok := store.Get("persons")
	if !ok {
		t.Fatal("expected seeded persons entry")
	}
	if st.Status != backend.StatusIdle {
		t.Errorf("expected idle, got %q", st.Status)
	}
	if len(store.Snapshot()) != len(DefaultRegistry().IDs()) {
		t.Error("expected one seeded entry per registry type")
	}
}

func TestStatusStore_PollReplacesWholesale(t *testing.T) {
	fetcher := &stubFetcher{snapshots: []*backend.StatusSnapshot{
		snapshotWith(map[string]backend.Status{
			"persons": {Type: "persons", Status: backend.StatusRunning, StartTime: time.Now()},
		}, backend.Meta{}),
		snapshotWith(map[string]backend.Status{
			"sessions": {Type: "sessions", Status: backend.StatusSuccess},
		}, backend.Meta{}),
	}}
	store := NewStatusStore(fetcher, DefaultRegistry())

	if err := store.Poll(context.Background()); err != nil {
		t.Fatalf("first poll failed: %v", err)
	}
	if !store.IsRunning("persons") {
		t.Error("expected persons running after first poll")
	}

	if err := store.Poll(context.Background()); err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	// persons absent from the second snapshot reads idle, not stale-running
	if store.IsRunning("persons") {
		t.Error("expected persons idle after replacement poll")
	}
	st, _ := store.Get("sessions")
	if st.Status != backend.StatusSuccess {
		t.Errorf("expected sessions success, got %q", st.Status)
	}
}

func TestStatusStore_PollErrorKeepsLastGood(t *testing.T) {
	pollErr := errors.New("backend unreachable")
	fetcher := &stubFetcher{
		snapshots: []*backend.StatusSnapshot{
			snapshotWith(map[string]backend.Status{
				"persons": {Type: "persons", Status: backend.StatusRunning, StartTime: time.Now()},
			}, backend.Meta{DailySyncRunning: true}),
			nil,
		},
		errs: []error{nil, pollErr},
	}
	store := NewStatusStore(fetcher, DefaultRegistry())

	if err := store.Poll(context.Background()); err != nil {
		t.Fatalf("first poll failed: %v", err)
	}
	fetchedAt := store.FetchedAt()

	if err := store.Poll(context.Background()); !errors.Is(err, pollErr) {
		t.Fatalf("expected poll error, got %v", err)
	}

	if !store.IsRunning("persons") {
		t.Error("failed poll must not clear the last good snapshot")
	}
	if !store.Meta().DailySyncRunning {
		t.Error("failed poll must not clear meta")
	}
	if store.LastError() == nil {
		t.Error("expected LastError set after failed poll")
	}
	if !store.FetchedAt().Equal(fetchedAt) {
		t.Error("FetchedAt must not advance on a failed poll")
	}
}

func TestStatusStore_LastErrorClearedOnRecovery(t *testing.T) {
	fetcher := &stubFetcher{
		snapshots: []*backend.StatusSnapshot{nil, snapshotWith(map[string]backend.Status{}, backend.Meta{})},
		errs:      []error{errors.New("boom"), nil},
	}
	store := NewStatusStore(fetcher, DefaultRegistry())

	_ = store.Poll(context.Background())
	if store.LastError() == nil {
		t.Fatal("expected error recorded")
	}
	if err := store.Poll(context.Background()); err != nil {
		t.Fatalf("recovery poll failed: %v", err)
	}
	if store.LastError() != nil {
		t.Error("expected LastError cleared after successful poll")
	}
}

func TestStatusStore_UnknownTypesKeptVisible(t *testing.T) {
	fetcher := &stubFetcher{snapshots: []*backend.StatusSnapshot{
		snapshotWith(map[string]backend.Status{
			"experimental_sync": {Type: "experimental_sync", Status: backend.StatusRunning, StartTime: time.Now()},
		}, backend.Meta{}),
	}}
	store := NewStatusStore(fetcher, DefaultRegistry())

	if err := store.Poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if _, ok := store.Get("experimental_sync"); !ok {
		t.Error("expected unknown backend type to remain visible")
	}
}

func TestStatusStore_IsAnyRunning(t *testing.T) {
	fetcher := &stubFetcher{snapshots: []*backend.StatusSnapshot{
		snapshotWith(map[string]backend.Status{}, backend.Meta{HistoricalSyncRunning: true}),
		snapshotWith(map[string]backend.Status{
			"bunks": {Type: "bunks", Status: backend.StatusPending},
		}, backend.Meta{}),
		snapshotWith(map[string]backend.Status{}, backend.Meta{}),
	}}
	store := NewStatusStore(fetcher, DefaultRegistry())

	_ = store.Poll(context.Background())
	if !store.IsAnyRunning() {
		t.Error("historical meta flag should count as running")
	}

	_ = store.Poll(context.Background())
	if !store.IsAnyRunning() {
		t.Error("pending status should count as running")
	}

	_ = store.Poll(context.Background())
	if store.IsAnyRunning() {
		t.Error("expected nothing running")
	}
}

func TestStatusStore_StaleIDs(t *testing.T) {
	now := time.Now()
	fetcher := &stubFetcher{snapshots: []*backend.StatusSnapshot{
		snapshotWith(map[string]backend.Status{
			"persons":   {Type: "persons", Status: backend.StatusRunning, StartTime: now.Add(-2 * time.Hour)},
			"attendees": {Type: "attendees", Status: backend.StatusRunning, StartTime: now.Add(-5 * time.Minute)},
			"bunks":     {Type: "bunks", Status: backend.StatusRunning}, // zero start time
			"sessions":  {Type: "sessions", Status: backend.StatusSuccess, StartTime: now.Add(-3 * time.Hour)},
		}, backend.Meta{}),
	}}
	store := NewStatusStore(fetcher, DefaultRegistry())
	if err := store.Poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	stale := store.StaleIDs(now, 45*time.Minute)
	sort.Strings(stale)
	if len(stale) != 1 || stale[0] != "persons" {
		t.Errorf("expected only persons stale, got %v", stale)
	}
}
