package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/camp/kindred/dashboard/backend"
)

var (
	ErrUnknownSyncType = errors.New("unknown sync type")
	ErrGlobalScope     = errors.New("global sync type not valid for historical runs")
	ErrNotHistorical   = errors.New("sync type not available for historical runs")
	ErrInvalidYear     = errors.New("historical year must be before the current season")
	ErrInvalidSession  = errors.New("invalid session filter")
)

// TriggerAPI is the slice of the backend client the trigger needs.
// Satisfied by *backend.Client.
type TriggerAPI interface {
	RunUnified(ctx context.Context, year int, service string, includeCustomValues, debug bool) (*backend.TriggerResult, error)
	RunIndividual(ctx context.Context, syncType string) (*backend.TriggerResult, error)
	RunOnDemand(ctx context.Context, syncType, session string, debug bool) (*backend.TriggerResult, error)
	RunProcessRequests(ctx context.Context, params backend.ProcessRequestParams) (*backend.TriggerResult, error)
}

// Gate answers whether any sync activity is in flight. Satisfied by
// *StatusStore.
type Gate interface {
	IsAnyRunning() bool
	IsRunning(id string) bool
}

// HistoricalOptions configures a historical-year run.
type HistoricalOptions struct {
	Year                int
	Service             string // sync type id, or "all"
	IncludeCustomValues bool
	Debug               bool
}

// EntitySyncOptions configures an individual entity sync trigger.
type EntitySyncOptions struct {
	Session                  string
	Debug                    bool
	IncludeCustomFieldValues bool
}

// Trigger validates and dispatches sync jobs against the backend,
// gating whole-pipeline runs on current activity. Individual and
// on-demand runs are not gated here; the backend's 409 response is
// authoritative for per-type conflicts.
type Trigger struct {
	api         TriggerAPI
	registry    *Registry
	gate        Gate
	currentYear func() int
}

func NewTrigger(api TriggerAPI, registry *Registry, gate Gate) *Trigger {
	return &Trigger{
		api:         api,
		registry:    registry,
		gate:        gate,
		currentYear: ConfiguredYear,
	}
}

// ConfiguredYear returns the season being operated on:
// CAMPMINDER_SEASON_ID when set, the wall-clock year otherwise. The
// backend uses the same variable, so both sides agree on what
// "current" means.
func ConfiguredYear() int {
	if raw := os.Getenv("CAMPMINDER_SEASON_ID"); raw != "" {
		if year, err := strconv.Atoi(raw); err == nil && year > 2000 {
			return year
		}
		slog.Warn("Ignoring invalid CAMPMINDER_SEASON_ID", "value", raw)
	}
	return time.Now().Year()
}

// RunAll triggers the full pipeline for the configured season.
func (t *Trigger) RunAll(ctx context.Context, debug bool) (*backend.TriggerResult, error) {
	if t.gate.IsAnyRunning() {
		return nil, fmt.Errorf("full sync: %w", backend.ErrAlreadyRunning)
	}

	slog.Info("Triggering full sync", "debug", debug)
	return t.api.RunUnified(ctx, t.currentYear(), "all", false, debug)
}

// RunOne triggers a single sync type's endpoint. The id must be in the
// catalog; on-demand types go through RunOnDemand instead.
func (t *Trigger) RunOne(ctx context.Context, syncType string) (*backend.TriggerResult, error) {
	def, ok := t.registry.Lookup(syncType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSyncType, syncType)
	}
	if def.OnDemand {
		return nil, fmt.Errorf("%s is on-demand, use a session-scoped trigger", syncType)
	}

	slog.Info("Triggering individual sync", "syncType", syncType)
	return t.api.RunIndividual(ctx, syncType)
}

// RunHistorical triggers a sync of a past season. The year must be
// strictly before the current season; the service must be "all" or a
// year-scoped type marked available for historical runs. The custom
// values flag is quietly dropped when the selected service can't use
// it, matching the unified endpoint's own behavior.
func (t *Trigger) RunHistorical(ctx context.Context, opts HistoricalOptions) (*backend.TriggerResult, error) {
	if opts.Year >= t.currentYear() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidYear, opts.Year)
	}

	service := opts.Service
	if service == "" {
		service = "all"
	}

	includeCustomValues := opts.IncludeCustomValues
	if service != "all" {
		def, ok := t.registry.Lookup(service)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSyncType, service)
		}
		if def.Scope == ScopeGlobal {
			return nil, fmt.Errorf("%w: %s", ErrGlobalScope, service)
		}
		if !def.AvailableForHistorical {
			return nil, fmt.Errorf("%w: %s", ErrNotHistorical, service)
		}
		if !def.SupportsCustomValues {
			includeCustomValues = false
		}
	}

	if t.gate.IsAnyRunning() {
		return nil, fmt.Errorf("historical sync %d: %w", opts.Year, backend.ErrAlreadyRunning)
	}

	slog.Info("Triggering historical sync",
		"year", opts.Year,
		"service", service,
		"includeCustomValues", includeCustomValues)
	return t.api.RunUnified(ctx, opts.Year, service, includeCustomValues, opts.Debug)
}

// RunOnDemand triggers an on-demand sync type with a session filter.
func (t *Trigger) RunOnDemand(ctx context.Context, syncType, session string, debug bool) (*backend.TriggerResult, error) {
	def, ok := t.registry.Lookup(syncType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSyncType, syncType)
	}
	if !def.OnDemand {
		return nil, fmt.Errorf("%s is not an on-demand sync", syncType)
	}
	if session != "" && !IsValidSession(session) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, session)
	}

	slog.Info("Triggering on-demand sync", "syncType", syncType, "session", session, "debug", debug)
	return t.api.RunOnDemand(ctx, syncType, session, debug)
}

// RunEntitySync triggers one entity sync from the dashboard form. For
// persons with the custom-field-values companion enabled it fans out
// to the person and household custom value syncs as well, inheriting
// the session filter and debug flag.
func (t *Trigger) RunEntitySync(ctx context.Context, syncType string, opts EntitySyncOptions) ([]*backend.TriggerResult, error) {
	def, ok := t.registry.Lookup(syncType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSyncType, syncType)
	}
	if opts.Session != "" && opts.Session != "all" && !IsValidSession(opts.Session) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, opts.Session)
	}

	var results []*backend.TriggerResult

	if def.OnDemand {
		result, err := t.api.RunOnDemand(ctx, syncType, opts.Session, opts.Debug)
		if err != nil {
			return results, err
		}
		return append(results, result), nil
	}

	result, err := t.api.RunIndividual(ctx, syncType)
	if err != nil {
		return results, err
	}
	results = append(results, result)

	if syncType == "persons" && opts.IncludeCustomFieldValues {
		for _, companion := range []string{"person_custom_values", "household_custom_values"} {
			result, err := t.api.RunOnDemand(ctx, companion, opts.Session, opts.Debug)
			if err != nil {
				return results, fmt.Errorf("companion sync %s: %w", companion, err)
			}
			results = append(results, result)
		}
	}

	return results, nil
}

// RunProcessRequests triggers the intake-processing job. The params
// are assumed validated by the options layer; session and source
// fields are checked again as a backstop.
func (t *Trigger) RunProcessRequests(ctx context.Context, params backend.ProcessRequestParams) (*backend.TriggerResult, error) {
	if params.Session != "" && params.Session != "all" && !IsValidSession(params.Session) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, params.Session)
	}
	for _, field := range params.SourceFields {
		if !IsValidSourceField(field) {
			return nil, fmt.Errorf("invalid source field: %s", field)
		}
	}
	if t.gate.IsRunning("process_requests") {
		return nil, fmt.Errorf("process requests: %w", backend.ErrAlreadyRunning)
	}

	slog.Info("Triggering process requests",
		"session", params.Session,
		"limit", params.Limit,
		"force", params.Force,
		"debug", params.Debug)
	return t.api.RunProcessRequests(ctx, params)
}
