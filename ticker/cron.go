package ticker

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// refreshCronParser accepts standard 5-field expressions (minute through
// day-of-week) for the refresh_cron setting.
var refreshCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// nextRefreshRunUTC returns the next scheduled refresh instant after now.
// Schedules are evaluated in UTC so every ticker instance refreshes at the
// same wall-clock moment regardless of the host zone.
func nextRefreshRunUTC(expr string, now time.Time) (time.Time, error) {
	schedule, err := parseRefreshCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now.UTC()), nil
}

func parseRefreshCron(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("refresh_cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("refresh_cron must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := refreshCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh_cron expression: %w", err)
	}
	return schedule, nil
}
