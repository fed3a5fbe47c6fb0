package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/petal-labs/calticker/event"
)

// occurrenceCap bounds RRULE expansion per event inside one window.
const occurrenceCap = 1000

// ICSFeed is one ICS subscription endpoint.
type ICSFeed struct {
	// ID identifies the feed; it becomes the calendar ID on emitted events.
	ID string
	// Name is the human-friendly calendar name shown to clients.
	Name string
	// URL is the ICS endpoint.
	URL string
}

// ICSConfig configures an ICS feed source.
type ICSConfig struct {
	Feeds []ICSFeed

	// Location is the timezone used to anchor all-day event dates and the
	// fetch window. Defaults to time.Local.
	Location *time.Location

	// Client is the HTTP client used for feed fetches. Defaults to a
	// client with a 15 second timeout.
	Client *http.Client

	Logger *slog.Logger
}

// ICS fetches upcoming events from one or more ICS subscription feeds,
// expanding recurring events into concrete occurrences within the
// lookahead window.
type ICS struct {
	feeds  []ICSFeed
	loc    *time.Location
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewICS creates an ICS feed source.
func NewICS(cfg ICSConfig) (*ICS, error) {
	if len(cfg.Feeds) == 0 {
		return nil, errors.New("ics source: no feeds configured")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ICS{
		feeds:  cfg.Feeds,
		loc:    loc,
		client: client,
		logger: logger,
		now:    time.Now,
	}, nil
}

// FetchUpcoming implements Source. Per-feed failures are logged and
// skipped; the fetch is unavailable only when every feed fails.
func (s *ICS) FetchUpcoming(ctx context.Context, lookaheadHours int) ([]event.RawEvent, error) {
	now := s.now().In(s.loc)
	windowEnd := now.Add(time.Duration(lookaheadHours) * time.Hour)

	events := make([]event.RawEvent, 0)
	failed := 0
	var lastErr error

	for _, feed := range s.feeds {
		body, err := s.fetchFeed(ctx, feed)
		if err != nil {
			s.logger.Error("ics feed fetch failed", "feed_id", feed.ID, "error", err)
			failed++
			lastErr = err
			continue
		}

		feedEvents, err := s.parseFeed(feed, body, now, windowEnd)
		if err != nil {
			s.logger.Error("ics feed parse failed", "feed_id", feed.ID, "error", err)
			failed++
			lastErr = err
			continue
		}
		events = append(events, feedEvents...)
		s.logger.Info("fetched ics feed", "feed_id", feed.ID, "event_count", len(feedEvents))
	}

	if failed == len(s.feeds) {
		return nil, unavailable(lastErr)
	}
	return events, nil
}

func (s *ICS) fetchFeed(ctx context.Context, feed ICSFeed) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// parseFeed parses an ICS payload and emits raw events whose occurrence
// intersects [now, windowEnd). Recurring events are expanded per RRULE,
// honoring EXDATE and preserving the original duration.
func (s *ICS) parseFeed(feed ICSFeed, body []byte, now, windowEnd time.Time) ([]event.RawEvent, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	calName := feed.Name
	if calName == "" {
		calName = feed.ID
	}

	out := make([]event.RawEvent, 0)
	for _, ve := range cal.Events() {
		evs, err := s.expandVEvent(feed, calName, ve, now, windowEnd)
		if err != nil {
			// Skip the broken VEVENT but keep parsing the rest.
			s.logger.Warn("skipping unparseable vevent", "feed_id", feed.ID, "error", err)
			continue
		}
		out = append(out, evs...)
	}
	return out, nil
}

func (s *ICS) expandVEvent(feed ICSFeed, calName string, ve *ical.VEvent, now, windowEnd time.Time) ([]event.RawEvent, error) {
	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return nil, errors.New("missing UID")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", uid, err)
	}
	end, endErr := ve.GetEndAt()
	hasEnd := endErr == nil && !end.IsZero()

	allDay := isAllDay(ve)
	if allDay {
		// Anchor all-day dates in the display timezone.
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, s.loc)
		if !hasEnd {
			end = start.Add(24 * time.Hour)
			hasEnd = true
		}
	}

	title := propValue(ve, ical.ComponentPropertySummary)
	if title == "" {
		title = "Untitled Event"
	}

	base := event.RawEvent{
		Title:        title,
		CalendarID:   feed.ID,
		CalendarName: calName,
		AllDay:       allDay,
		Location:     propValue(ve, ical.ComponentPropertyLocation),
		Description:  propValue(ve, ical.ComponentPropertyDescription),
		Status:       strings.ToLower(propValue(ve, ical.ComponentPropertyStatus)),
	}

	rawRule := propValue(ve, ical.ComponentPropertyRrule)
	if rawRule == "" {
		if !occursWithin(start, end, hasEnd, now, windowEnd) {
			return nil, nil
		}
		single := base
		single.ID = uid
		single.Start = start
		if hasEnd {
			e := end
			single.End = &e
		}
		return []event.RawEvent{single}, nil
	}

	starts, err := expandRule(ve, rawRule, start, now, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", uid, err)
	}

	var duration time.Duration
	if hasEnd {
		duration = end.Sub(start)
	}

	out := make([]event.RawEvent, 0, len(starts))
	for _, occStart := range starts {
		occ := base
		occ.Start = occStart
		occ.ID = uid + "/" + occStart.UTC().Format(time.RFC3339)
		if hasEnd {
			occEnd := occStart.Add(duration)
			occ.End = &occEnd
		}
		out = append(out, occ)
	}
	return out, nil
}

// expandRule expands an RRULE into occurrence starts inside [now, windowEnd),
// applying any EXDATE exclusions.
func expandRule(ve *ical.VEvent, rawRule string, dtstart, now, windowEnd time.Time) ([]time.Time, error) {
	rule, err := rrule.StrToRRule(rawRule)
	if err != nil {
		return nil, fmt.Errorf("parsing RRULE: %w", err)
	}
	rule.DTStart(dtstart)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range exDates(ve) {
		set.ExDate(ex.In(dtstart.Location()))
	}

	rangeStart := now.In(dtstart.Location())
	rangeEnd := windowEnd.In(dtstart.Location())
	starts := set.Between(rangeStart, rangeEnd, true)
	if len(starts) > occurrenceCap {
		starts = starts[:occurrenceCap]
	}
	return starts, nil
}

// occursWithin reports whether a non-recurring event intersects the window:
// it must start before the window end and either still be in progress or
// not have started yet.
func occursWithin(start, end time.Time, hasEnd bool, now, windowEnd time.Time) bool {
	if !start.Before(windowEnd) {
		return false
	}
	if hasEnd {
		return end.After(now)
	}
	return !start.Before(now)
}

func isAllDay(ve *ical.VEvent) bool {
	prop := ve.GetProperty(ical.ComponentPropertyDtStart)
	if prop == nil {
		return false
	}
	if params := prop.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(prop.Value, "T")
}

func exDates(ve *ical.VEvent) []time.Time {
	var out []time.Time
	for _, prop := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(prop.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// parseICSTime parses the basic ICS date/date-time forms used by EXDATE.
func parseICSTime(v string) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

var _ Source = (*ICS)(nil)
