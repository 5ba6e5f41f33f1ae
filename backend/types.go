package backend

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Sync job states reported by /api/custom/sync/status
const (
	StatusIdle    = "idle"
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Stats holds the summary counters attached to a terminal sync status
type Stats struct {
	Created          int              `json:"created"`
	Updated          int              `json:"updated"`
	Deleted          int              `json:"deleted,omitempty"`
	Skipped          int              `json:"skipped"`
	Errors           int              `json:"errors"`
	Expanded         int              `json:"expanded,omitempty"`
	AlreadyProcessed int              `json:"already_processed,omitempty"`
	Duration         int              `json:"duration"` // Duration in seconds
	SubStats         map[string]Stats `json:"sub_stats,omitempty"`
}

// Status is the per-sync-type entry in the status snapshot
type Status struct {
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
	Summary   Stats      `json:"summary"`
	Year      int        `json:"year,omitempty"` // Year being synced (0 = current year)
}

// Terminal reports whether the status is a finished run
func (s Status) Terminal() bool {
	return s.Status == StatusSuccess || s.Status == StatusFailed
}

// QueuedSync describes one entry in the backend's sync queue
type QueuedSync struct {
	ID                  string `json:"id"`
	Year                int    `json:"year"`
	Type                string `json:"type"`
	Service             string `json:"service"`
	IncludeCustomValues bool   `json:"include_custom_values"`
	Position            int    `json:"position"`
	QueuedAt            string `json:"queued_at"`
}

// Meta carries the underscore-prefixed bookkeeping keys of the status payload
type Meta struct {
	DailySyncRunning      bool
	WeeklySyncRunning     bool
	HistoricalSyncRunning bool
	HistoricalSyncYear    int
	ConfiguredYear        int
	Queue                 []QueuedSync
	QueueLength           int
}

// StatusSnapshot is the decoded /api/custom/sync/status payload: per-type
// statuses plus the sequence-level meta flags.
type StatusSnapshot struct {
	Statuses map[string]Status
	Meta     Meta
}

// UnmarshalJSON splits the flat status payload into per-type entries and meta
// keys. Unknown "_"-prefixed keys are ignored so backend additions don't break
// older dashboards.
func (s *StatusSnapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding status payload: %w", err)
	}

	s.Statuses = make(map[string]Status, len(raw))
	for key, val := range raw {
		if strings.HasPrefix(key, "_") {
			if err := s.decodeMetaKey(key, val); err != nil {
				return err
			}
			continue
		}

		var st Status
		if err := json.Unmarshal(val, &st); err != nil {
			return fmt.Errorf("decoding status for %s: %w", key, err)
		}
		if st.Type == "" {
			st.Type = key
		}
		if st.Status == "" {
			st.Status = StatusIdle
		}
		s.Statuses[key] = st
	}

	return nil
}

func (s *StatusSnapshot) decodeMetaKey(key string, val json.RawMessage) error {
	var err error
	switch key {
	case "_daily_sync_running":
		err = json.Unmarshal(val, &s.Meta.DailySyncRunning)
	case "_weekly_sync_running":
		err = json.Unmarshal(val, &s.Meta.WeeklySyncRunning)
	case "_historical_sync_running":
		err = json.Unmarshal(val, &s.Meta.HistoricalSyncRunning)
	case "_historical_sync_year":
		err = json.Unmarshal(val, &s.Meta.HistoricalSyncYear)
	case "_configured_year":
		err = json.Unmarshal(val, &s.Meta.ConfiguredYear)
	case "_queue":
		err = json.Unmarshal(val, &s.Meta.Queue)
	case "_queue_length":
		err = json.Unmarshal(val, &s.Meta.QueueLength)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// AnyRunning reports whether any individual job or sync sequence is active
func (s *StatusSnapshot) AnyRunning() bool {
	if s.Meta.DailySyncRunning || s.Meta.WeeklySyncRunning || s.Meta.HistoricalSyncRunning {
		return true
	}
	for _, st := range s.Statuses {
		if st.Status == StatusRunning {
			return true
		}
	}
	return false
}

// TriggerResult reports how the backend accepted a trigger request.
// 200 responses come back as "started", 202 as "queued".
type TriggerResult struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	SyncType string `json:"syncType,omitempty"`
	QueueID  string `json:"queue_id,omitempty"`
	Position int    `json:"position,omitempty"`
}

// Queued reports whether the request was enqueued behind a running sequence
func (r *TriggerResult) Queued() bool {
	return r.Status == "queued"
}

// ProcessRequestParams holds the query parameters of a process-requests run
type ProcessRequestParams struct {
	Session      string
	Limit        int // 0 = no limit
	Force        bool
	SourceFields []string
	Debug        bool
	Trace        bool
}

// ParseIntent is one structured intent extracted from a free-text field
type ParseIntent struct {
	Kind       string  `json:"kind"`
	TargetCMID int     `json:"target_cm_id,omitempty"`
	TargetName string  `json:"target_name,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ParseResult is one result slot (debug or production) of a parsed field
type ParseResult struct {
	ID       string        `json:"id"`
	Intents  []ParseIntent `json:"intents"`
	Model    string        `json:"model,omitempty"`
	ParsedAt string        `json:"parsed_at,omitempty"`
}

// ParseField is an original free-text request field with its two result slots
type ParseField struct {
	ID               string       `json:"id"`
	RequesterCMID    int          `json:"requester_cm_id"`
	RequesterName    string       `json:"requester_name,omitempty"`
	Session          string       `json:"session,omitempty"`
	SourceField      string       `json:"source_field"`
	OriginalText     string       `json:"original_text"`
	DebugResult      *ParseResult `json:"debug_result,omitempty"`
	ProductionResult *ParseResult `json:"production_result,omitempty"`
}

// GroupedCamper is one requester with their visible request fields
type GroupedCamper struct {
	RequesterCMID int          `json:"requester_cm_id"`
	RequesterName string       `json:"requester_name,omitempty"`
	Fields        []ParseField `json:"fields"`
}

// GroupedQuery selects which campers/fields /api/custom/parse/grouped returns
type GroupedQuery struct {
	Year        int
	Session     string
	SourceField string
}

// ClearScope selects which debug parse results to delete
type ClearScope struct {
	IDs         []string `json:"ids,omitempty"`
	Session     string   `json:"session,omitempty"`
	SourceField string   `json:"source_field,omitempty"`
}
