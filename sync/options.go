package sync

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/camp/kindred/dashboard/backend"
)

// sessionTokens are the accepted session filter values. Main sessions
// have half-session variants (2a/2b, 3a/3b); toc is Taste of Camp.
var sessionTokens = map[string]bool{
	"all": true,
	"1":   true,
	"2":   true,
	"2a":  true,
	"2b":  true,
	"3":   true,
	"3a":  true,
	"3b":  true,
	"4":   true,
	"toc": true,
}

// validSourceFields are the intake form fields the request parser
// reads from.
var validSourceFields = map[string]bool{
	"bunk_with":      true,
	"not_bunk_with":  true,
	"bunking_notes":  true,
	"internal_notes": true,
	"socialize_with": true,
}

// SessionTokens returns the accepted session filters in display order.
func SessionTokens() []string {
	return []string{"all", "1", "2", "2a", "2b", "3", "3a", "3b", "4", "toc"}
}

// SourceFields returns the accepted source fields in display order.
func SourceFields() []string {
	return []string{"bunk_with", "not_bunk_with", "bunking_notes", "internal_notes", "socialize_with"}
}

// IsValidSession reports whether token is an accepted session filter.
func IsValidSession(token string) bool {
	return sessionTokens[strings.ToLower(token)]
}

// IsValidSourceField reports whether field is an accepted source field.
func IsValidSourceField(field string) bool {
	return validSourceFields[field]
}

// ParseLimit normalizes a free-form limit input. Non-numeric input,
// zero, and negatives mean no limit (nil). Fractional values floor to
// the nearest whole number, so "2.7" limits to 2.
func ParseLimit(raw string) *int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil
	}

	n := int(math.Floor(f))
	if n <= 0 {
		return nil
	}
	return &n
}

// ProcessRequestForm holds the dashboard's process-requests controls.
type ProcessRequestForm struct {
	Session      string
	Limit        string // raw input, normalized by ParseLimit
	Force        bool
	SourceFields []string
	Debug        bool
	Trace        bool
}

// NewProcessRequestForm returns the form in its default state: all
// sessions, no limit, production parse of every source field.
func NewProcessRequestForm() ProcessRequestForm {
	return ProcessRequestForm{Session: "all"}
}

// Reset restores the defaults.
func (f *ProcessRequestForm) Reset() {
	*f = NewProcessRequestForm()
}

// Params validates the form and converts it into trigger parameters.
func (f *ProcessRequestForm) Params() (backend.ProcessRequestParams, error) {
	session := f.Session
	if session == "" {
		session = "all"
	}
	if !IsValidSession(session) {
		return backend.ProcessRequestParams{}, fmt.Errorf("%w: %s", ErrInvalidSession, session)
	}

	for _, field := range f.SourceFields {
		if !IsValidSourceField(field) {
			return backend.ProcessRequestParams{}, fmt.Errorf("invalid source field: %s", field)
		}
	}

	params := backend.ProcessRequestParams{
		Session:      session,
		Force:        f.Force,
		SourceFields: f.SourceFields,
		Debug:        f.Debug,
		Trace:        f.Trace,
	}
	if limit := ParseLimit(f.Limit); limit != nil {
		params.Limit = *limit
	}
	return params, nil
}

// EntitySyncForm holds the dashboard's individual-sync controls.
type EntitySyncForm struct {
	SyncType                 string
	Session                  string
	Debug                    bool
	IncludeCustomFieldValues bool
}

// NewEntitySyncForm returns the form defaults for the given type.
func NewEntitySyncForm(syncType string) EntitySyncForm {
	return EntitySyncForm{SyncType: syncType, Session: "all"}
}

// Reset restores the defaults, keeping the selected type.
func (f *EntitySyncForm) Reset() {
	*f = NewEntitySyncForm(f.SyncType)
}

// Options validates the form and converts it into trigger options.
func (f *EntitySyncForm) Options() (EntitySyncOptions, error) {
	session := f.Session
	if session == "" {
		session = "all"
	}
	if !IsValidSession(session) {
		return EntitySyncOptions{}, fmt.Errorf("%w: %s", ErrInvalidSession, session)
	}

	return EntitySyncOptions{
		Session:                  session,
		Debug:                    f.Debug,
		IncludeCustomFieldValues: f.IncludeCustomFieldValues,
	}, nil
}
