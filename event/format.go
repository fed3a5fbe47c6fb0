package event

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// TimeFormat values accepted by PresentationConfig.
const (
	TimeFormat12h = "12h"
	TimeFormat24h = "24h"
)

// Format renders one raw event into its display form. It is deterministic
// given its inputs: now must be the single refresh-cycle reference instant,
// shared by every event in the snapshot, not re-sampled per event.
func Format(e RawEvent, cfg PresentationConfig, now time.Time) DisplayEvent {
	mins := minutesUntil(e.Start, now)

	colour := cfg.DefaultColour
	if c, ok := cfg.CalendarColours[e.CalendarID]; ok {
		colour = c
	}

	return DisplayEvent{
		ID:           e.ID,
		Title:        e.Title,
		Start:        e.Start,
		End:          e.End,
		TimeLabel:    timeLabel(e.Start, mins, cfg),
		MinsUntil:    mins,
		CalendarID:   e.CalendarID,
		CalendarName: e.CalendarName,
		Colour:       colour,
		AllDay:       e.AllDay,
		Important:    titleContainsAny(e.Title, cfg.ImportantKeywords),
		Location:     e.Location,
	}
}

// minutesUntil is floor((start - now) in minutes). Unclamped: zero or
// negative for events that have already started.
func minutesUntil(start, now time.Time) int {
	return int(math.Floor(start.Sub(now).Minutes()))
}

// timeLabel renders either a relative label ("in 5 mins", "in 1 hour") when
// the event is close enough, or a clock time in the configured format.
func timeLabel(start time.Time, mins int, cfg PresentationConfig) string {
	if mins > 0 && mins <= cfg.RelativeThresholdMins {
		if mins < 60 {
			return fmt.Sprintf("in %d %s", mins, plural(mins, "min"))
		}
		hours := mins / 60
		return fmt.Sprintf("in %d %s", hours, plural(hours, "hour"))
	}

	if cfg.TimeFormat == TimeFormat24h {
		return start.Format("15:04")
	}
	return strings.ToLower(start.Format("3:04 PM"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
