package parse

import (
	"sort"
	"testing"
)

func TestIDSet_Basics(t *testing.T) {
	s := NewIDSet("a", "b")
	if s.Len() != 2 || !s.Has("a") || !s.Has("b") || s.Has("c") {
		t.Errorf("unexpected set state: %v", s.Slice())
	}
}

func TestIDSet_WithDoesNotMutate(t *testing.T) {
	base := NewIDSet("a")
	grown := base.With("b", "c")

	if base.Len() != 1 || base.Has("b") {
		t.Error("With must not mutate the receiver")
	}
	if grown.Len() != 3 || !grown.Has("b") || !grown.Has("c") {
		t.Errorf("unexpected grown set: %v", grown.Slice())
	}
}

func TestIDSet_WithoutDoesNotMutate(t *testing.T) {
	base := NewIDSet("a", "b", "c")
	shrunk := base.Without("b", "missing")

	if base.Len() != 3 {
		t.Error("Without must not mutate the receiver")
	}
	if shrunk.Len() != 2 || shrunk.Has("b") {
		t.Errorf("unexpected shrunk set: %v", shrunk.Slice())
	}
}

func TestIDSet_WithDuplicates(t *testing.T) {
	s := NewIDSet("a").With("a", "a")
	if s.Len() != 1 {
		t.Errorf("expected deduplicated set, got %v", s.Slice())
	}
}

func TestIDSet_Slice(t *testing.T) {
	ids := NewIDSet("c", "a", "b").Slice()
	sort.Strings(ids)
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("unexpected slice: %v", ids)
	}
}

func TestIDSet_ZeroValueEmpty(t *testing.T) {
	var s IDSet
	if s.Len() != 0 || s.Has("a") {
		t.Error("zero value should be an empty set")
	}
	if got := s.With("a"); got.Len() != 1 {
		t.Error("With on zero value should work")
	}
}
