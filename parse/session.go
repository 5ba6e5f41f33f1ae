package parse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/camp/kindred/dashboard/backend"
)

// ResultSource says which parse run a resolved result came from.
type ResultSource string

const (
	SourceDebug      ResultSource = "debug"
	SourceProduction ResultSource = "production"
	SourceNone       ResultSource = "none"
)

// Resolve returns the effective parse result for a field. Debug
// results shadow production ones so an analyst always sees the run
// they just triggered; fields with neither are unparsed.
func Resolve(field backend.ParseField) (*backend.ParseResult, ResultSource) {
	if field.DebugResult != nil {
		return field.DebugResult, SourceDebug
	}
	if field.ProductionResult != nil {
		return field.ProductionResult, SourceProduction
	}
	return nil, SourceNone
}

// FieldFilter selects request fields for the grouped view. Nil accepts
// everything.
type FieldFilter func(backend.ParseField) bool

// GroupByRequester filters fields, then groups the survivors by the
// requesting camper. Campers are ordered by CampMinder id so the view
// is stable across reloads; a camper whose fields were all filtered
// out does not appear.
func GroupByRequester(fields []backend.ParseField, filter FieldFilter) []backend.GroupedCamper {
	byRequester := make(map[int]*backend.GroupedCamper)
	for _, field := range fields {
		if filter != nil && !filter(field) {
			continue
		}
		camper, ok := byRequester[field.RequesterCMID]
		if !ok {
			camper = &backend.GroupedCamper{
				RequesterCMID: field.RequesterCMID,
				RequesterName: field.RequesterName,
			}
			byRequester[field.RequesterCMID] = camper
		}
		camper.Fields = append(camper.Fields, field)
	}

	out := make([]backend.GroupedCamper, 0, len(byRequester))
	for _, camper := range byRequester {
		out = append(out, *camper)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequesterCMID < out[j].RequesterCMID
	})
	return out
}

// ParseClient is the slice of the backend client the session needs.
// Satisfied by *backend.Client.
type ParseClient interface {
	GroupedRequests(ctx context.Context, q backend.GroupedQuery) ([]backend.GroupedCamper, error)
	Reparse(ctx context.Context, ids []string, forceReparse bool) error
	ClearParseResults(ctx context.Context, scope backend.ClearScope) (int, error)
}

// Session is one analyst's working state on the parse-analysis view:
// the loaded campers for the current query plus the ids with reparse
// or clear operations in flight. In-flight sets are copy-on-write, so
// a read taken before an operation finishes stays consistent.
type Session struct {
	client ParseClient

	mu              sync.RWMutex
	query           backend.GroupedQuery
	campers         []backend.GroupedCamper
	selectedCamper  int // requester_cm_id, 0 = none
	selectedFieldID string
	reparsing       IDSet
	clearing        IDSet
}

func NewSession(client ParseClient) *Session {
	return &Session{
		client:    client,
		reparsing: NewIDSet(),
		clearing:  NewIDSet(),
	}
}

// Load fetches the grouped requests for q and replaces the session's
// view. On error the previous view is kept.
func (s *Session) Load(ctx context.Context, q backend.GroupedQuery) error {
	campers, err := s.client.GroupedRequests(ctx, q)
	if err != nil {
		return fmt.Errorf("loading grouped requests: %w", err)
	}

	s.mu.Lock()
	s.query = q
	s.campers = campers
	s.mu.Unlock()

	slog.Debug("Parse view loaded", "campers", len(campers), "session", q.Session, "sourceField", q.SourceField)
	return nil
}

// Campers returns the loaded grouped view.
func (s *Session) Campers() []backend.GroupedCamper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.campers
}

// Query returns the query behind the current view.
func (s *Session) Query() backend.GroupedQuery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

// SelectCamper sets the active camper by CampMinder id and drops any
// field selection belonging to a different camper. Selecting does not
// fetch; Load owns the data.
func (s *Session) SelectCamper(cmID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedCamper != cmID {
		s.selectedFieldID = ""
	}
	s.selectedCamper = cmID
}

// SelectField sets the active field within the selected camper.
func (s *Session) SelectField(fieldID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedFieldID = fieldID
}

// Selection returns the active camper id and field id (zero values
// when nothing is selected).
func (s *Session) Selection() (camperCMID int, fieldID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedCamper, s.selectedFieldID
}

// SelectedField returns the selected field from the loaded view, with
// its effective parse result resolved.
func (s *Session) SelectedField() (backend.ParseField, *backend.ParseResult, ResultSource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedFieldID == "" {
		return backend.ParseField{}, nil, SourceNone, false
	}
	for _, camper := range s.campers {
		for _, field := range camper.Fields {
			if field.ID == s.selectedFieldID {
				result, source := Resolve(field)
				return field, result, source, true
			}
		}
	}
	return backend.ParseField{}, nil, SourceNone, false
}

// IsReparsing reports whether a reparse of id is in flight.
func (s *Session) IsReparsing(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reparsing.Has(id)
}

// IsClearing reports whether a clear of id is in flight.
func (s *Session) IsClearing(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clearing.Has(id)
}

// Reparse triggers a debug reparse of the given fields. Ids already
// being reparsed are skipped; the rest are marked in flight until the
// request finishes, success or not.
func (s *Session) Reparse(ctx context.Context, ids []string, force bool) error {
	s.mu.Lock()
	var pending []string
	for _, id := range ids {
		if !s.reparsing.Has(id) {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.reparsing = s.reparsing.With(pending...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reparsing = s.reparsing.Without(pending...)
		s.mu.Unlock()
	}()

	slog.Info("Reparsing request fields", "count", len(pending), "force", force)
	if err := s.client.Reparse(ctx, pending, force); err != nil {
		return fmt.Errorf("reparsing %d fields: %w", len(pending), err)
	}
	return nil
}

// ClearDebugResults deletes the debug results for the given fields.
// Only ids that actually carry a debug result in the loaded view are
// sent; clearing nothing is a no-op, not an error.
func (s *Session) ClearDebugResults(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	withDebug := s.debugResultIDsLocked()
	var pending []string
	for _, id := range ids {
		if withDebug.Has(id) && !s.clearing.Has(id) {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	s.clearing = s.clearing.With(pending...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.clearing = s.clearing.Without(pending...)
		s.mu.Unlock()
	}()

	slog.Info("Clearing debug parse results", "count", len(pending))
	deleted, err := s.client.ClearParseResults(ctx, backend.ClearScope{IDs: pending})
	if err != nil {
		return 0, fmt.Errorf("clearing %d debug results: %w", len(pending), err)
	}
	return deleted, nil
}

// ClearAllDebugResults clears every debug result in the loaded view's
// scope, letting the backend resolve the id set from the query.
func (s *Session) ClearAllDebugResults(ctx context.Context) (int, error) {
	s.mu.RLock()
	scope := backend.ClearScope{
		Session:     s.query.Session,
		SourceField: s.query.SourceField,
	}
	s.mu.RUnlock()

	deleted, err := s.client.ClearParseResults(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("clearing debug results: %w", err)
	}
	slog.Info("Cleared debug parse results", "deleted", deleted, "session", scope.Session, "sourceField", scope.SourceField)
	return deleted, nil
}

func (s *Session) debugResultIDsLocked() IDSet {
	set := NewIDSet()
	for _, camper := range s.campers {
		for _, field := range camper.Fields {
			if field.DebugResult != nil {
				set = set.With(field.ID)
			}
		}
	}
	return set
}
