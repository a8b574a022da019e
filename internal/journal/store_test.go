package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelserve/internal/manager"
)

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now()
	s.Publish(manager.Event{Name: manager.EventLoadStart, Model: "mistral-7b", Time: now})
	s.Publish(manager.Event{Name: manager.EventLoadReady, Model: "mistral-7b", Time: now, Fields: map[string]any{"est_mb": 12}})
	s.Publish(manager.Event{Name: manager.EventRescan, Fields: map[string]any{"models": 3}})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Publishing after Close is a silent no-op.
	s.Publish(manager.Event{Name: "late"})

	s, err = Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	all, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Name != manager.EventRescan || all[2].Name != manager.EventLoadStart {
		t.Fatalf("records not newest-first: %+v", all)
	}
	if got := all[0].Fields["models"]; got != float64(3) {
		t.Fatalf("fields not decoded: %#v", all[0].Fields)
	}

	mine, err := s.Recent(ctx, "mistral-7b", 1)
	if err != nil {
		t.Fatalf("Recent(model): %v", err)
	}
	if len(mine) != 1 || mine[0].Name != manager.EventLoadReady || mine[0].Time.UnixNano() != now.UnixNano() {
		t.Fatalf("unexpected filtered records: %+v", mine)
	}
}

func TestStore_AsManagerPublisher(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mem := manager.NewMemoryPublisher()
	var pub manager.EventPublisher = manager.MultiPublisher{mem, s}
	pub.Publish(manager.Event{Name: manager.EventUnloadDone, Model: "sd15"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, err := s.Recent(context.Background(), "sd15", 10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(recs) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event not persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if mem.Count(manager.EventUnloadDone, "sd15") != 1 {
		t.Fatalf("memory publisher missed the event")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
