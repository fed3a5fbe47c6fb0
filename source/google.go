package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/petal-labs/calticker/event"
)

const maxEventsPerCalendar = 50

// GoogleConfig configures a Google Calendar source.
type GoogleConfig struct {
	// CalendarIDs lists the calendars to fetch from ("primary" for the
	// account's main calendar).
	CalendarIDs []string

	// CredentialsFile is an optional path to a service-account or OAuth
	// credentials JSON file. When empty, Application Default Credentials
	// are used.
	CredentialsFile string

	// Location is the timezone used to anchor all-day event dates.
	// Defaults to time.Local.
	Location *time.Location

	Logger *slog.Logger

	// Options are appended to the Calendar service client options.
	// Tests use this to point the client at a mock server.
	Options []option.ClientOption
}

// Google fetches upcoming events from one or more Google calendars.
type Google struct {
	service     *calendar.Service
	calendarIDs []string
	loc         *time.Location
	logger      *slog.Logger
	names       map[string]string
	now         func() time.Time
}

// NewGoogle creates a Google Calendar source. Calendar display names are
// loaded once, best-effort: a failure there degrades to showing IDs.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if len(cfg.CalendarIDs) == 0 {
		return nil, errors.New("google source: no calendar IDs configured")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := make([]option.ClientOption, 0, len(cfg.Options)+1)
	if cfg.CredentialsFile != "" {
		// #nosec G304 -- operator-supplied credentials path.
		credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, calendar.CalendarReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parsing credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	} else {
		opts = append(opts, option.WithScopes(calendar.CalendarReadonlyScope))
	}
	opts = append(opts, cfg.Options...)

	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}

	g := &Google{
		service:     service,
		calendarIDs: cfg.CalendarIDs,
		loc:         loc,
		logger:      logger,
		names:       make(map[string]string),
		now:         time.Now,
	}
	g.loadCalendarNames(ctx)
	return g, nil
}

func (g *Google) loadCalendarNames(ctx context.Context) {
	list, err := g.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		g.logger.Error("loading calendar names failed", "error", err)
		return
	}
	for _, entry := range list.Items {
		name := entry.Summary
		if name == "" {
			name = entry.Id
		}
		g.names[entry.Id] = name
	}
}

// FetchUpcoming implements Source. Per-calendar failures are logged and
// skipped; the fetch is unavailable only when every calendar fails.
func (g *Google) FetchUpcoming(ctx context.Context, lookaheadHours int) ([]event.RawEvent, error) {
	now := g.now().In(g.loc)
	timeMin := now.Format(time.RFC3339)
	timeMax := now.Add(time.Duration(lookaheadHours) * time.Hour).Format(time.RFC3339)

	events := make([]event.RawEvent, 0)
	failed := 0
	var lastErr error

	for _, calendarID := range g.calendarIDs {
		result, err := g.service.Events.List(calendarID).
			TimeMin(timeMin).
			TimeMax(timeMax).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(maxEventsPerCalendar).
			Context(ctx).
			Do()
		if err != nil {
			g.logger.Error("fetching calendar failed", "calendar_id", calendarID, "error", err)
			failed++
			lastErr = err
			continue
		}

		name := g.names[calendarID]
		if name == "" {
			name = calendarID
		}
		for _, item := range result.Items {
			raw, err := g.convertEvent(item, calendarID, name)
			if err != nil {
				g.logger.Warn("skipping unconvertible event", "calendar_id", calendarID, "event_id", item.Id, "error", err)
				continue
			}
			events = append(events, raw)
		}
		g.logger.Info("fetched calendar", "calendar_id", calendarID, "event_count", len(result.Items))
	}

	if failed == len(g.calendarIDs) {
		return nil, unavailable(lastErr)
	}
	return events, nil
}

func (g *Google) convertEvent(item *calendar.Event, calendarID, calendarName string) (event.RawEvent, error) {
	start, allDay, err := g.parseEventTime(item.Start)
	if err != nil {
		return event.RawEvent{}, fmt.Errorf("parsing start: %w", err)
	}

	var end *time.Time
	if item.End != nil {
		t, _, err := g.parseEventTime(item.End)
		if err == nil {
			end = &t
		}
	}

	title := item.Summary
	if title == "" {
		title = "Untitled Event"
	}

	return event.RawEvent{
		ID:           item.Id,
		Title:        title,
		Start:        start,
		End:          end,
		CalendarID:   calendarID,
		CalendarName: calendarName,
		AllDay:       allDay,
		Location:     item.Location,
		Description:  item.Description,
		Status:       item.Status,
	}, nil
}

// parseEventTime handles the two Calendar API time shapes: dateTime for
// timed events and date for all-day events.
func (g *Google) parseEventTime(edt *calendar.EventDateTime) (time.Time, bool, error) {
	if edt == nil {
		return time.Time{}, false, errors.New("missing event time")
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, false, nil
	}
	if edt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", edt.Date, g.loc)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
	return time.Time{}, false, errors.New("event time has neither dateTime nor date")
}

var _ Source = (*Google)(nil)
