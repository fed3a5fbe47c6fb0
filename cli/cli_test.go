package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/calticker/event"
)

func TestExitError(t *testing.T) {
	err := exitError(exitConfig, "bad %s", "config")
	if err.Code != exitConfig {
		t.Errorf("code: got %d, want %d", err.Code, exitConfig)
	}
	if err.Error() != "bad config" {
		t.Errorf("message: got %q", err.Error())
	}

	var exitErr *ExitError
	if !errors.As(error(err), &exitErr) {
		t.Error("errors.As failed to match ExitError")
	}
}

func TestServeCmdFlags(t *testing.T) {
	cmd := NewServeCmd()
	for _, name := range []string{"config", "listen", "cors-origin", "otel-endpoint", "read-timeout", "write-timeout", "max-body"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing flag %q", name)
		}
	}
}

// icsTestConfig serves a single-event ICS feed and writes a config file
// pointing at it.
func icsTestConfig(t *testing.T, extra string) string {
	t.Helper()

	start := time.Now().UTC().Add(2 * time.Hour)
	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:e1\r\nSUMMARY:Design review\r\n" +
		"DTSTART:" + start.Format("20060102T150405Z") + "\r\n" +
		"DTEND:" + start.Add(time.Hour).Format("20060102T150405Z") + "\r\n" +
		"END:VEVENT\r\nEND:VCALENDAR\r\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	cfgPath := filepath.Join(t.TempDir(), "calticker.yaml")
	content := "ics_feeds:\n  - id: team\n    name: Team\n    url: " + srv.URL + "\n" + extra
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestFetchCommand(t *testing.T) {
	cfgPath := icsTestConfig(t, "")

	cmd := NewFetchCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if !strings.Contains(out.String(), "Design review") {
		t.Errorf("output missing event title:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Team") {
		t.Errorf("output missing calendar name:\n%s", out.String())
	}
}

func TestFetchCommandJSON(t *testing.T) {
	cfgPath := icsTestConfig(t, "filters:\n  important_keywords: [review]\n")

	cmd := NewFetchCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath})
	if err := cmd.Flags().Set("json", "true"); err != nil {
		t.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		t.Fatalf("fetch error: %v", err)
	}

	var events []event.DisplayEvent
	if err := json.Unmarshal(out.Bytes(), &events); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, out.String())
	}
	if len(events) != 1 || events[0].Title != "Design review" {
		t.Fatalf("events: got %+v", events)
	}
	if !events[0].Important {
		t.Error("importance keyword not applied")
	}
}

func TestFetchCommandBadConfig(t *testing.T) {
	cmd := NewFetchCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitConfig {
		t.Fatalf("err: got %v, want config exit error", err)
	}
}
