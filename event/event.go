// Package event defines the calendar event model for the ticker pipeline:
// raw events as produced by a source adapter, display-ready events as pushed
// to clients, and the snapshot that groups one refresh cycle's output.
package event

import "time"

// RawEvent is a calendar event as returned by a source adapter, before
// filtering and formatting. It is immutable once produced.
type RawEvent struct {
	ID           string
	Title        string
	Start        time.Time
	End          *time.Time
	CalendarID   string
	CalendarName string
	AllDay       bool
	Location     string
	Description  string
	Status       string
}

// FilterPolicy is the inclusion/exclusion policy applied to raw events.
// It is treated as a value: the pipeline never mutates it.
type FilterPolicy struct {
	// ExcludeKeywords drops events whose title contains any keyword
	// (case-insensitive substring match).
	ExcludeKeywords []string

	// IncludeAllDay controls whether all-day events are kept.
	IncludeAllDay bool

	// OnlyAccepted is carried for config parity. Cancelled events are
	// always dropped regardless of this flag.
	OnlyAccepted bool
}

// PresentationConfig holds the display-format knobs used when rendering a
// RawEvent into a DisplayEvent. Read-only during a refresh cycle.
type PresentationConfig struct {
	// TimeFormat is "12h" or "24h".
	TimeFormat string

	// RelativeThresholdMins is the minutes-until-start value at or below
	// which a relative label ("in 5 mins") replaces the clock time.
	RelativeThresholdMins int

	// CalendarColours maps calendar ID to a display colour.
	CalendarColours map[string]string

	// DefaultColour is used when a calendar has no colour mapping.
	DefaultColour string

	// ImportantKeywords flag events whose title contains any keyword
	// (case-insensitive substring match).
	ImportantKeywords []string
}

// DisplayEvent is the client-ready rendering of one RawEvent. JSON tags
// match the wire protocol pushed to display clients.
type DisplayEvent struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Start        time.Time  `json:"start"`
	End          *time.Time `json:"end"`
	TimeLabel    string     `json:"time_str"`
	MinsUntil    int        `json:"mins_until"`
	CalendarID   string     `json:"calendar_id"`
	CalendarName string     `json:"calendar_name"`
	Colour       string     `json:"colour"`
	AllDay       bool       `json:"is_all_day"`
	Important    bool       `json:"is_important"`
	Location     string     `json:"location,omitempty"`
}

// Snapshot is the ordered output of one successful refresh cycle: display
// events sorted ascending by start instant plus the generation timestamp.
// A zero RefreshedAt means "never refreshed", which is distinct from
// "refreshed with zero events".
type Snapshot struct {
	Events      []DisplayEvent
	RefreshedAt time.Time
}

// EmptySnapshot returns the initial pre-refresh snapshot: no events, no
// timestamp. The event slice is non-nil so it serializes as [] not null.
func EmptySnapshot() Snapshot {
	return Snapshot{Events: []DisplayEvent{}}
}
