// Package source provides calendar event source adapters for the ticker
// pipeline. A Source supplies raw events within a forward lookahead window;
// any auth, network, or API failure surfaces as an UnavailableError, which
// the caller treats identically regardless of cause.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petal-labs/calticker/event"
)

// Source supplies raw events starting within the next lookaheadHours.
type Source interface {
	FetchUpcoming(ctx context.Context, lookaheadHours int) ([]event.RawEvent, error)
}

// UnavailableError reports that an upstream calendar source could not be
// reached or refused the request. The refresh scheduler recovers locally by
// skipping the cycle and leaving the cached snapshot untouched.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("calendar source unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// unavailable wraps err as an UnavailableError.
func unavailable(err error) error {
	return &UnavailableError{Err: err}
}

// IsUnavailable reports whether err wraps an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Multi fans a fetch out to several sources and merges the results. A
// partial failure is logged and skipped; the fetch fails only when every
// source fails.
type Multi struct {
	sources []Source
	logger  *slog.Logger
}

// NewMulti creates a merging source over the given sources.
func NewMulti(sources []Source, logger *slog.Logger) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{sources: sources, logger: logger}
}

// FetchUpcoming implements Source.
func (m *Multi) FetchUpcoming(ctx context.Context, lookaheadHours int) ([]event.RawEvent, error) {
	merged := make([]event.RawEvent, 0)
	var failures []string
	succeeded := 0

	for _, src := range m.sources {
		events, err := src.FetchUpcoming(ctx, lookaheadHours)
		if err != nil {
			m.logger.Error("source fetch failed", "error", err)
			failures = append(failures, err.Error())
			continue
		}
		merged = append(merged, events...)
		succeeded++
	}

	if succeeded == 0 && len(failures) > 0 {
		return nil, unavailable(errors.New(strings.Join(failures, "; ")))
	}
	return merged, nil
}

var _ Source = (*Multi)(nil)
