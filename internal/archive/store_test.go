package archive

import (
	"path/filepath"
	"testing"

	"github.com/privatehub/corebus/internal/bus"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGetRoundTrips(t *testing.T) {
	s := openTestStore(t)

	e := bus.NewEvent(bus.Event{ID: "evt-1", Category: bus.CategoryCommunication, Source: "delivery", Title: "sent"})
	e.ProcessingStatus = bus.StatusCompleted
	if err := s.Record(e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, ok, err := s.Get("evt-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Title != "sent" || got.ProcessingStatus != bus.StatusCompleted {
		t.Fatalf("Get() = %+v, want matching title/status", got)
	}
}

func TestRecordUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)

	e := bus.NewEvent(bus.Event{ID: "evt-2", Category: bus.CategorySystem})
	e.ProcessingStatus = bus.StatusRetrying
	if err := s.Record(e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	e.ProcessingStatus = bus.StatusFailed
	if err := s.Record(e); err != nil {
		t.Fatalf("Record() (update) error = %v", err)
	}

	got, ok, err := s.Get("evt-2")
	if err != nil || !ok {
		t.Fatalf("Get() = %+v, %v, %v", got, ok, err)
	}
	if got.ProcessingStatus != bus.StatusFailed {
		t.Fatalf("ProcessingStatus = %q, want failed", got.ProcessingStatus)
	}
}

func TestGetUnknownIDReturnsNotOK(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get("missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("Get() ok = true for an unrecorded id")
	}
}

func TestRecentForUserOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i, id := range []string{"a", "b", "c"} {
		e := bus.NewEvent(bus.Event{ID: id, Category: bus.CategoryUser, UserID: "u1"})
		e.ProcessingStatus = bus.StatusCompleted
		if err := s.Record(e); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}

	events, err := s.RecentForUser("u1", 10)
	if err != nil {
		t.Fatalf("RecentForUser() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].ID != "c" || events[1].ID != "b" || events[2].ID != "a" {
		t.Fatalf("RecentForUser() order = [%s %s %s], want [c b a]", events[0].ID, events[1].ID, events[2].ID)
	}
}

func TestRecentForUserFiltersByUser(t *testing.T) {
	s := openTestStore(t)

	e1 := bus.NewEvent(bus.Event{ID: "u1-evt", Category: bus.CategoryUser, UserID: "u1"})
	e1.ProcessingStatus = bus.StatusCompleted
	e2 := bus.NewEvent(bus.Event{ID: "u2-evt", Category: bus.CategoryUser, UserID: "u2"})
	e2.ProcessingStatus = bus.StatusCompleted
	if err := s.Record(e1); err != nil {
		t.Fatalf("Record(e1) error = %v", err)
	}
	if err := s.Record(e2); err != nil {
		t.Fatalf("Record(e2) error = %v", err)
	}

	events, err := s.RecentForUser("u1", 10)
	if err != nil {
		t.Fatalf("RecentForUser() error = %v", err)
	}
	if len(events) != 1 || events[0].ID != "u1-evt" {
		t.Fatalf("RecentForUser(u1) = %+v, want [u1-evt]", events)
	}
}
