package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/petal-labs/calticker/config"
	"github.com/petal-labs/calticker/source"
)

// buildSource assembles the event source from config: Google calendars, ICS
// feeds, or both merged.
func buildSource(ctx context.Context, cfg config.Config, logger *slog.Logger) (source.Source, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var sources []source.Source

	if len(cfg.Calendars) > 0 {
		google, err := source.NewGoogle(ctx, source.GoogleConfig{
			CalendarIDs:     cfg.Calendars,
			CredentialsFile: cfg.Google.CredentialsFile,
			Location:        loc,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		sources = append(sources, google)
	}

	if len(cfg.ICSFeeds) > 0 {
		feeds := make([]source.ICSFeed, 0, len(cfg.ICSFeeds))
		for _, feed := range cfg.ICSFeeds {
			feeds = append(feeds, source.ICSFeed{
				ID:   feed.ID,
				Name: feed.Name,
				URL:  feed.URL,
			})
		}
		ics, err := source.NewICS(source.ICSConfig{
			Feeds:    feeds,
			Location: loc,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		sources = append(sources, ics)
	}

	switch len(sources) {
	case 0:
		return nil, errors.New("no calendar sources configured")
	case 1:
		return sources[0], nil
	default:
		return source.NewMulti(sources, logger), nil
	}
}

// loadConfig discovers and loads the config file, falling back to defaults
// when no file exists.
func loadConfig(explicitPath string) (config.Config, error) {
	path, found, err := config.Discover(explicitPath)
	if err != nil {
		return config.Config{}, err
	}
	if !found {
		return config.Default(), nil
	}
	return config.Load(path)
}
