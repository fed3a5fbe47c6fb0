package event

import "strings"

// cancelled is the status value that always excludes an event. It is not
// user-configurable.
const cancelledStatus = "cancelled"

// Filter applies the policy to raw events and returns the survivors in
// their input relative order. It is a pure function: no side effects, and
// an empty input yields an empty output.
//
// An event is dropped when any of the following holds:
//   - it is all-day and the policy disallows all-day events
//   - its title contains any exclusion keyword (case-insensitive)
//   - its status indicates cancellation (always, regardless of policy)
func Filter(events []RawEvent, policy FilterPolicy) []RawEvent {
	kept := make([]RawEvent, 0, len(events))
	for _, e := range events {
		if e.AllDay && !policy.IncludeAllDay {
			continue
		}
		if strings.EqualFold(e.Status, cancelledStatus) {
			continue
		}
		if titleContainsAny(e.Title, policy.ExcludeKeywords) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// titleContainsAny reports whether title contains any of the keywords as a
// case-insensitive substring. Empty keywords never match.
func titleContainsAny(title string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(title)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
