// Package sync implements the orchestration core for the dashboard:
// the sync type catalog, status polling, job triggering with gating,
// completion reconciliation, and the nightly watch scheduler.
package sync

import "fmt"

// Phase identifies which layer of the pipeline a sync type belongs to.
// Source syncs pull from CampMinder, expensive syncs make per-entity
// API calls, transform syncs derive collections from already-synced
// data, process covers the AI intake-processing job, and export covers
// spreadsheet generation.
type Phase string

const (
	PhaseSource    Phase = "source"
	PhaseExpensive Phase = "expensive"
	PhaseTransform Phase = "transform"
	PhaseProcess   Phase = "process"
	PhaseExport    Phase = "export"
)

// Scope says whether a sync type's data is partitioned by year.
// Global types (lookup tables, definitions) have a single copy shared
// across all years and are never valid targets for a historical run.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeYear   Scope = "year"
)

// TypeDef describes one sync type in the catalog.
type TypeDef struct {
	ID                     string
	DisplayName            string
	Phase                  Phase
	Scope                  Scope
	AvailableForHistorical bool
	SupportsCustomValues   bool
	OnDemand               bool
}

// Registry is an immutable catalog of sync types. Built once at
// startup; lookups are safe for concurrent use.
type Registry struct {
	byID  map[string]TypeDef
	order []string
}

// NewRegistry builds a registry from defs, preserving order.
// It panics on duplicate ids and on a global type marked available
// for historical runs, since both indicate a broken catalog rather
// than a runtime condition.
func NewRegistry(defs []TypeDef) *Registry {
	r := &Registry{
		byID:  make(map[string]TypeDef, len(defs)),
		order: make([]string, 0, len(defs)),
	}
	for _, def := range defs {
		if def.ID == "" {
			panic("sync: registry entry with empty id")
		}
		if _, exists := r.byID[def.ID]; exists {
			panic(fmt.Sprintf("sync: duplicate registry entry %q", def.ID))
		}
		if def.Scope == ScopeGlobal && def.AvailableForHistorical {
			panic(fmt.Sprintf("sync: global type %q cannot be historical", def.ID))
		}
		r.byID[def.ID] = def
		r.order = append(r.order, def.ID)
	}
	return r
}

// Lookup returns the definition for id.
func (r *Registry) Lookup(id string) (TypeDef, bool) {
	def, ok := r.byID[id]
	return def, ok
}

// IDs returns all sync type ids in catalog order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every definition in catalog order.
func (r *Registry) All() []TypeDef {
	out := make([]TypeDef, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// HistoricalIDs returns the ids valid as a historical run's service
// selector.
func (r *Registry) HistoricalIDs() []string {
	var out []string
	for _, id := range r.order {
		if r.byID[id].AvailableForHistorical {
			out = append(out, id)
		}
	}
	return out
}

// DefaultRegistry returns the catalog matching the backend's sync
// services. Order follows the pipeline: lookups and definitions
// first, then per-year source data, then expensive and derived
// syncs, then processing and export.
func DefaultRegistry() *Registry {
	return NewRegistry([]TypeDef{
		// Global lookup tables and definitions
		{ID: "person_tag_defs", DisplayName: "Person Tag Definitions", Phase: PhaseSource, Scope: ScopeGlobal},
		{ID: "custom_field_defs", DisplayName: "Custom Field Definitions", Phase: PhaseSource, Scope: ScopeGlobal},
		{ID: "staff_lookups", DisplayName: "Staff Lookups", Phase: PhaseSource, Scope: ScopeGlobal},
		{ID: "financial_lookups", DisplayName: "Financial Lookups", Phase: PhaseSource, Scope: ScopeGlobal},
		{ID: "divisions", DisplayName: "Divisions", Phase: PhaseSource, Scope: ScopeGlobal},

		// Year-scoped source data
		{ID: "session_groups", DisplayName: "Session Groups", Phase: PhaseSource, Scope: ScopeYear, AvailableForHistorical: true},
		{ID: "sessions", DisplayName: "Sessions", Phase: PhaseSource, Scope: ScopeYear, AvailableForHistorical: true},
		{ID: "attendees", DisplayName: "Attendees", Phase: PhaseSource, Scope: ScopeYear, AvailableForHistorical: true},
		{ID: "persons", DisplayName: "Persons", Phase: PhaseSource, Scope: ScopeYear, AvailableForHistorical: true, SupportsCustomValues: true},
		{ID: "bunks", DisplayName: "Bunks", Phase: PhaseSource, Scope: ScopeYear, AvailableForHistorical: true},
		{ID: "bunk_plans", DisplayName: "Bunk Plans", Phase: PhaseSource, Scope: ScopeYear, AvailableForHistorical: true},
		{ID: "bunk_assignments", DisplayName: "Bunk Assignments", Phase: PhaseSource, Scope: ScopeYear, AvailableForHistorical: true},
		{ID: "staff", DisplayName: "Staff", Phase: PhaseSource, Scope: ScopeYear, AvailableForHistorical: true},
		{ID: "financial_transactions", DisplayName: "Financial Transactions", Phase: PhaseSource, Scope: ScopeYear, AvailableForHistorical: true},
		{ID: "bunk_requests", DisplayName: "Bunk Requests", Phase: PhaseSource, Scope: ScopeYear, AvailableForHistorical: true},

		// Expensive per-entity custom value fetches (on-demand)
		{ID: "person_custom_values", DisplayName: "Person Custom Values", Phase: PhaseExpensive, Scope: ScopeYear, OnDemand: true},
		{ID: "household_custom_values", DisplayName: "Household Custom Values", Phase: PhaseExpensive, Scope: ScopeYear, OnDemand: true},

		// Derived collections
		{ID: "camper_history", DisplayName: "Camper History", Phase: PhaseTransform, Scope: ScopeYear, AvailableForHistorical: true},
		{ID: "family_camp_derived", DisplayName: "Family Camp Derived", Phase: PhaseTransform, Scope: ScopeYear},

		// Processing and export
		{ID: "process_requests", DisplayName: "Process Bunk Requests", Phase: PhaseProcess, Scope: ScopeYear},
		{ID: "multi_workbook_export", DisplayName: "Workbook Export", Phase: PhaseExport, Scope: ScopeYear},
	})
}
