// Package parse implements the dashboard's parse-analysis view over
// bunk request fields: which requests are selected, which are being
// reparsed or cleared, and how debug results resolve against
// production ones.
package parse

// IDSet is an immutable set of record ids. With and Without return new
// sets, so a set handed to a goroutine stays valid while the caller
// moves on.
type IDSet struct {
	ids map[string]struct{}
}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := IDSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids in the set.
func (s IDSet) Len() int {
	return len(s.ids)
}

// With returns a new set containing this set's ids plus the given ids.
func (s IDSet) With(ids ...string) IDSet {
	next := IDSet{ids: make(map[string]struct{}, len(s.ids)+len(ids))}
	for id := range s.ids {
		next.ids[id] = struct{}{}
	}
	for _, id := range ids {
		next.ids[id] = struct{}{}
	}
	return next
}

// Without returns a new set containing this set's ids minus the given
// ids.
func (s IDSet) Without(ids ...string) IDSet {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	next := IDSet{ids: make(map[string]struct{}, len(s.ids))}
	for id := range s.ids {
		if _, skip := drop[id]; !skip {
			next.ids[id] = struct{}{}
		}
	}
	return next
}

// Slice returns the ids in unspecified order.
func (s IDSet) Slice() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}
