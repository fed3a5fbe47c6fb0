package ticker

import (
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/calticker/event"
)

func TestCacheInitialSnapshot(t *testing.T) {
	c := NewCache()
	snap := c.Snapshot()
	if snap.Events == nil {
		t.Fatal("initial events slice is nil")
	}
	if len(snap.Events) != 0 {
		t.Fatalf("initial events: got %d, want 0", len(snap.Events))
	}
	if !snap.RefreshedAt.IsZero() {
		t.Fatalf("initial RefreshedAt: got %s, want zero", snap.RefreshedAt)
	}
}

func TestCacheReplace(t *testing.T) {
	c := NewCache()
	refreshed := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	c.Replace(event.Snapshot{
		Events:      []event.DisplayEvent{{ID: "e1", Title: "Standup"}},
		RefreshedAt: refreshed,
	})

	snap := c.Snapshot()
	if len(snap.Events) != 1 || snap.Events[0].ID != "e1" {
		t.Fatalf("snapshot after replace: %+v", snap.Events)
	}
	if !snap.RefreshedAt.Equal(refreshed) {
		t.Fatalf("RefreshedAt: got %s, want %s", snap.RefreshedAt, refreshed)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Replace(event.Snapshot{
					Events:      []event.DisplayEvent{{ID: "e"}},
					RefreshedAt: time.Now(),
				})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap := c.Snapshot()
				// A reader sees either the seed or a full replacement,
				// never a half-written value.
				if len(snap.Events) > 1 {
					t.Error("torn snapshot read")
					return
				}
			}
		}()
	}
	wg.Wait()
}
