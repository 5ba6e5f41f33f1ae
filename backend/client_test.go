package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&Config{BaseURL: srv.URL, AuthToken: "test-token"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, srv
}

func TestNewClient_RequiresToken(t *testing.T) {
	if _, err := NewClient(&Config{BaseURL: "http://localhost:8090"}); err == nil {
		t.Error("expected error for missing auth token")
	}

	if _, err := NewClient(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestSyncStatus_DecodesStatusesAndMeta(t *testing.T) {
	payload := `{
		"persons": {"type": "persons", "status": "running", "start_time": "2026-08-26T03:00:05Z"},
		"sessions": {"type": "sessions", "status": "success", "summary": {"created": 3, "updated": 1, "skipped": 0, "errors": 0, "duration": 12}, "end_time": "2026-08-26T03:01:00Z"},
		"bunks": {"status": "idle"},
		"_daily_sync_running": true,
		"_historical_sync_running": false,
		"_configured_year": 2026,
		"_queue": [{"id": "q1", "year": 2026, "type": "individual", "service": "bunks", "include_custom_values": false, "position": 1, "queued_at": "2026-08-26T03:00:10Z"}],
		"_queue_length": 1
	}`

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/custom/sync/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "test-token" {
			t.Errorf("missing auth token header")
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID header")
		}
		_, _ = w.Write([]byte(payload))
	}))

	snapshot, err := client.SyncStatus(context.Background())
	if err != nil {
		t.Fatalf("SyncStatus failed: %v", err)
	}

	if len(snapshot.Statuses) != 3 {
		t.Errorf("expected 3 statuses, got %d", len(snapshot.Statuses))
	}

	persons := snapshot.Statuses["persons"]
	if persons.Status != StatusRunning {
		t.Errorf("expected persons running, got %q", persons.Status)
	}

	sessions := snapshot.Statuses["sessions"]
	if sessions.Status != StatusSuccess {
		t.Errorf("expected sessions success, got %q", sessions.Status)
	}
	if sessions.Summary.Created != 3 {
		t.Errorf("expected sessions created=3, got %d", sessions.Summary.Created)
	}
	if sessions.EndTime == nil {
		t.Error("expected sessions end_time to be set")
	}

	// Bare idle entries get their type filled from the map key
	bunks := snapshot.Statuses["bunks"]
	if bunks.Type != "bunks" || bunks.Status != StatusIdle {
		t.Errorf("expected bunks idle entry, got %+v", bunks)
	}

	if !snapshot.Meta.DailySyncRunning {
		t.Error("expected daily sync running meta flag")
	}
	if snapshot.Meta.ConfiguredYear != 2026 {
		t.Errorf("expected configured year 2026, got %d", snapshot.Meta.ConfiguredYear)
	}
	if snapshot.Meta.QueueLength != 1 || len(snapshot.Meta.Queue) != 1 {
		t.Errorf("expected one queued sync, got %d/%d", snapshot.Meta.QueueLength, len(snapshot.Meta.Queue))
	}

	if !snapshot.AnyRunning() {
		t.Error("expected AnyRunning with persons running")
	}
}

func TestSyncStatus_UnknownMetaKeysIgnored(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"_future_meta_key": {"nested": true}, "persons": {"status": "idle"}}`))
	}))

	snapshot, err := client.SyncStatus(context.Background())
	if err != nil {
		t.Fatalf("SyncStatus failed: %v", err)
	}
	if len(snapshot.Statuses) != 1 {
		t.Errorf("expected 1 status, got %d", len(snapshot.Statuses))
	}
}

func TestRunUnified_QueryParams(t *testing.T) {
	var gotQuery map[string]string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/custom/sync/run" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(`{"message": "Sync started", "status": "started"}`))
	}))

	result, err := client.RunUnified(context.Background(), 2023, "persons", true, false)
	if err != nil {
		t.Fatalf("RunUnified failed: %v", err)
	}
	if result.Queued() {
		t.Error("expected started, not queued")
	}

	if gotQuery["year"] != "2023" {
		t.Errorf("expected year=2023, got %q", gotQuery["year"])
	}
	if gotQuery["service"] != "persons" {
		t.Errorf("expected service=persons, got %q", gotQuery["service"])
	}
	if gotQuery["includeCustomValues"] != "true" {
		t.Errorf("expected includeCustomValues=true, got %q", gotQuery["includeCustomValues"])
	}
	if _, ok := gotQuery["debug"]; ok {
		t.Error("debug should be omitted when false")
	}
}

func TestRunUnified_QueuedResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status": "queued", "queue_id": "q42", "position": 2}`))
	}))

	result, err := client.RunUnified(context.Background(), 2026, "all", false, false)
	if err != nil {
		t.Fatalf("RunUnified failed: %v", err)
	}

	if !result.Queued() {
		t.Error("expected queued result")
	}
	if result.QueueID != "q42" || result.Position != 2 {
		t.Errorf("unexpected queue info: %+v", result)
	}
}

func TestRunIndividual_ConflictMapsToErrAlreadyRunning(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/custom/sync/bunk-plans" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error": "Sync already in progress", "status": "running"}`))
	}))

	_, err := client.RunIndividual(context.Background(), "bunk_plans")
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunOnDemand_SessionAndDebug(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/custom/sync/person-custom-values" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("session") != "2a" {
			t.Errorf("expected session=2a, got %q", r.URL.Query().Get("session"))
		}
		if r.URL.Query().Get("debug") != "true" {
			t.Errorf("expected debug=true, got %q", r.URL.Query().Get("debug"))
		}
		_, _ = w.Write([]byte(`{"status": "started", "syncType": "person_custom_values"}`))
	}))

	result, err := client.RunOnDemand(context.Background(), "person_custom_values", "2a", true)
	if err != nil {
		t.Fatalf("RunOnDemand failed: %v", err)
	}
	if result.SyncType != "person_custom_values" {
		t.Errorf("unexpected syncType: %q", result.SyncType)
	}
}

func TestRunProcessRequests_EncodesAllParams(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("session") != "3" {
			t.Errorf("expected session=3, got %q", q.Get("session"))
		}
		if q.Get("limit") != "25" {
			t.Errorf("expected limit=25, got %q", q.Get("limit"))
		}
		if q.Get("force") != "true" {
			t.Errorf("expected force=true, got %q", q.Get("force"))
		}
		if q.Get("source_field") != "bunk_with,not_bunk_with" {
			t.Errorf("expected joined source fields, got %q", q.Get("source_field"))
		}
		if q.Get("trace") != "true" {
			t.Errorf("expected trace=true, got %q", q.Get("trace"))
		}
		_, _ = w.Write([]byte(`{"status": "started"}`))
	}))

	_, err := client.RunProcessRequests(context.Background(), ProcessRequestParams{
		Session:      "3",
		Limit:        25,
		Force:        true,
		SourceFields: []string{"bunk_with", "not_bunk_with"},
		Trace:        true,
	})
	if err != nil {
		t.Fatalf("RunProcessRequests failed: %v", err)
	}
}

func TestReparse_SendsBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/custom/parse/reparse" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var body struct {
			IDs          []string `json:"ids"`
			ForceReparse bool     `json:"forceReparse"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if len(body.IDs) != 2 || body.IDs[0] != "r1" {
			t.Errorf("unexpected ids: %v", body.IDs)
		}
		if !body.ForceReparse {
			t.Error("expected forceReparse=true")
		}
		_, _ = w.Write([]byte(`{"status": "started"}`))
	}))

	if err := client.Reparse(context.Background(), []string{"r1", "r2"}, true); err != nil {
		t.Fatalf("Reparse failed: %v", err)
	}
}

func TestClearParseResults_ReturnsDeletedCount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/custom/parse/results" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"deleted": 4}`))
	}))

	deleted, err := client.ClearParseResults(context.Background(), ClearScope{IDs: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("ClearParseResults failed: %v", err)
	}
	if deleted != 4 {
		t.Errorf("expected 4 deleted, got %d", deleted)
	}
}

func TestGroupedRequests_Query(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("year") != "2026" || q.Get("session") != "2" || q.Get("sourceField") != "bunk_with" {
			t.Errorf("unexpected query: %v", q)
		}
		_, _ = w.Write([]byte(`{"campers": [{"requester_cm_id": 101, "fields": [{"id": "f1", "requester_cm_id": 101, "source_field": "bunk_with", "original_text": "with Sam"}]}]}`))
	}))

	campers, err := client.GroupedRequests(context.Background(), GroupedQuery{Year: 2026, Session: "2", SourceField: "bunk_with"})
	if err != nil {
		t.Fatalf("GroupedRequests failed: %v", err)
	}
	if len(campers) != 1 || campers[0].RequesterCMID != 101 {
		t.Errorf("unexpected campers: %+v", campers)
	}
	if len(campers[0].Fields) != 1 || campers[0].Fields[0].ID != "f1" {
		t.Errorf("unexpected fields: %+v", campers[0].Fields)
	}
}

func TestDo_RetriesOn429(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": "rate limited"}`))
			return
		}
		_, _ = w.Write([]byte(`{"persons": {"status": "idle"}}`))
	}))

	if _, err := client.SyncStatus(context.Background()); err != nil {
		t.Fatalf("SyncStatus should succeed after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestSyncRoute(t *testing.T) {
	cases := map[string]string{
		"sessions":                "sessions",
		"bunk_plans":              "bunk-plans",
		"person_custom_values":    "person-custom-values",
		"household_custom_values": "household-custom-values",
	}

	for syncType, want := range cases {
		if got := SyncRoute(syncType); got != want {
			t.Errorf("SyncRoute(%q) = %q, want %q", syncType, got, want)
		}
	}
}
