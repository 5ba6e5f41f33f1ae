package sync

import "testing"

func TestDefaultRegistry_KnownTypes(t *testing.T) {
	r := DefaultRegistry()

	cases := []struct {
		id    string
		phase Phase
		scope Scope
	}{
		{"person_tag_defs", PhaseSource, ScopeGlobal},
		{"divisions", PhaseSource, ScopeGlobal},
		{"persons", PhaseSource, ScopeYear},
		{"person_custom_values", PhaseExpensive, ScopeYear},
		{"camper_history", PhaseTransform, ScopeYear},
		{"process_requests", PhaseProcess, ScopeYear},
		{"multi_workbook_export", PhaseExport, ScopeYear},
	}

	for _, tc := range cases {
		def, ok := r.Lookup(tc.id)
		if !ok {
			t.Errorf("missing registry entry %q", tc.id)
			continue
		}
		if def.Phase != tc.phase {
			t.Errorf("%s: phase = %q, want %q", tc.id, def.Phase, tc.phase)
		}
		if def.Scope != tc.scope {
			t.Errorf("%s: scope = %q, want %q", tc.id, def.Scope, tc.scope)
		}
	}
}

func TestDefaultRegistry_GlobalTypesNeverHistorical(t *testing.T) {
	for _, def := range DefaultRegistry().All() {
		if def.Scope == ScopeGlobal && def.AvailableForHistorical {
			t.Errorf("%s: global type marked available for historical", def.ID)
		}
	}
}

func TestDefaultRegistry_CustomValueSyncsAreOnDemand(t *testing.T) {
	r := DefaultRegistry()
	for _, id := range []string{"person_custom_values", "household_custom_values"} {
		def, ok := r.Lookup(id)
		if !ok {
			t.Fatalf("missing registry entry %q", id)
		}
		if !def.OnDemand {
			t.Errorf("%s: expected on-demand", id)
		}
		if def.AvailableForHistorical {
			t.Errorf("%s: expensive sync should not be historical", id)
		}
	}
}

func TestDefaultRegistry_PersonsSupportsCustomValues(t *testing.T) {
	def, _ := DefaultRegistry().Lookup("persons")
	if !def.SupportsCustomValues {
		t.Error("persons should support the custom values companion sync")
	}
}

func TestRegistry_IDsPreserveOrder(t *testing.T) {
	r := NewRegistry([]TypeDef{
		{ID: "b", Scope: ScopeYear},
		{ID: "a", Scope: ScopeYear},
		{ID: "c", Scope: ScopeGlobal},
	})

	ids := r.IDs()
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "a" || ids[2] != "c" {
		t.Errorf("unexpected order: %v", ids)
	}
}

func TestRegistry_HistoricalIDs(t *testing.T) {
	ids := DefaultRegistry().HistoricalIDs()
	if len(ids) == 0 {
		t.Fatal("expected historical ids")
	}

	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["persons"] || !seen["bunk_requests"] {
		t.Errorf("expected persons and bunk_requests in historical set: %v", ids)
	}
	if seen["divisions"] {
		t.Error("global divisions must not be historical")
	}
}

func TestNewRegistry_PanicsOnDuplicates(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate id")
		}
	}()
	NewRegistry([]TypeDef{{ID: "x", Scope: ScopeYear}, {ID: "x", Scope: ScopeYear}})
}

func TestNewRegistry_PanicsOnGlobalHistorical(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on global historical type")
		}
	}()
	NewRegistry([]TypeDef{{ID: "x", Scope: ScopeGlobal, AvailableForHistorical: true}})
}

func TestRegistry_LookupUnknown(t *testing.T) {
	if _, ok := DefaultRegistry().Lookup("nonexistent"); ok {
		t.Error("expected lookup miss for unknown id")
	}
}
