package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/petal-labs/calticker/event"
)

// NewFetchCmd creates the "fetch" subcommand: a one-shot pipeline run that
// prints the display events instead of serving them. Useful for checking
// credentials and filter settings before deploying.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch, filter, and print upcoming events once",
		RunE:  runFetch,
	}

	cmd.Flags().String("config", "", "Path to calticker.yaml")
	cmd.Flags().Bool("json", false, "Print events as JSON")

	return cmd
}

func runFetch(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	configPath, _ := cmd.Flags().GetString("config")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return exitError(exitConfig, "loading config: %v", err)
	}

	logger := slog.Default()
	src, err := buildSource(cmd.Context(), cfg, logger)
	if err != nil {
		return exitError(exitSource, "building event source: %v", err)
	}

	raw, err := src.FetchUpcoming(cmd.Context(), cfg.Filters.HoursAhead)
	if err != nil {
		return exitError(exitSource, "fetching events: %v", err)
	}

	kept := event.Filter(raw, cfg.FilterPolicy())
	now := time.Now()
	pres := cfg.PresentationConfig()
	display := make([]event.DisplayEvent, 0, len(kept))
	for _, e := range kept {
		display = append(display, event.Format(e, pres, now))
	}
	sort.SliceStable(display, func(i, j int) bool {
		return display[i].Start.Before(display[j].Start)
	})

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(display)
	}

	if len(display) == 0 {
		fmt.Fprintln(out, cfg.NoEventsMessage)
		return nil
	}
	for _, e := range display {
		marker := " "
		if e.Important {
			marker = "!"
		}
		fmt.Fprintf(out, "%s %-12s %-40s %s\n", marker, e.TimeLabel, e.Title, e.CalendarName)
	}
	return nil
}
