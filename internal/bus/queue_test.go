package bus

import (
	"context"
	"testing"
	"time"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := NewQueue(nil, 10)
	ids := []string{"e1", "e2", "e3"}
	for _, id := range ids {
		q.Enqueue(Event{ID: id, Priority: PriorityNormal})
	}

	ctx := context.Background()
	for _, want := range ids {
		got, ok := q.Dequeue(ctx)
		if !ok || got.ID != want {
			t.Fatalf("Dequeue() = %v, %v, want %q", got.ID, ok, want)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	q := NewQueue(nil, 10)
	q.Enqueue(Event{ID: "normal", Priority: PriorityNormal})
	q.Enqueue(Event{ID: "emergency", Priority: PriorityEmergency})

	ctx := context.Background()
	first, _ := q.Dequeue(ctx)
	if first.ID != "emergency" {
		t.Fatalf("first dequeued = %q, want emergency", first.ID)
	}
	second, _ := q.Dequeue(ctx)
	if second.ID != "normal" {
		t.Fatalf("second dequeued = %q, want normal", second.ID)
	}
}

func TestCapacityBound(t *testing.T) {
	q := NewQueue(nil, 2)
	outcomes := []EnqueueOutcome{
		q.Enqueue(Event{ID: "a", Priority: PriorityNormal}),
		q.Enqueue(Event{ID: "b", Priority: PriorityNormal}),
		q.Enqueue(Event{ID: "c", Priority: PriorityNormal}),
	}
	if outcomes[0] != EnqueueAccepted || outcomes[1] != EnqueueAccepted {
		t.Fatalf("first two enqueues should be accepted, got %v", outcomes)
	}
	if outcomes[2] != EnqueueDroppedFull {
		t.Fatalf("third enqueue = %v, want dropped-full", outcomes[2])
	}
	dropped := q.Dropped()
	if dropped[PriorityNormal] != 1 {
		t.Fatalf("dropped[normal] = %d, want 1", dropped[PriorityNormal])
	}
}

func TestEmergencyOwnLevelBound(t *testing.T) {
	q := NewQueue(nil, 1)
	q.Enqueue(Event{ID: "normal-full", Priority: PriorityNormal})

	// A full normal level must not affect emergency's own bound.
	outcome := q.Enqueue(Event{ID: "emergency", Priority: PriorityEmergency})
	if outcome != EnqueueAccepted {
		t.Fatalf("emergency enqueue = %v, want accepted despite normal being full", outcome)
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue(nil, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan Event, 1)
	go func() {
		e, ok := q.Dequeue(ctx)
		if ok {
			done <- e
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(Event{ID: "late", Priority: PriorityLow})

	select {
	case e := <-done:
		if e.ID != "late" {
			t.Fatalf("got %q, want late", e.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dequeue")
	}
}

func TestDequeueCancellation(t *testing.T) {
	q := NewQueue(nil, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Dequeue(ctx)
	if ok {
		t.Fatal("expected Dequeue to return false after cancellation")
	}
}

func TestEnqueueRoutesUnsetPriorityToNormal(t *testing.T) {
	q := NewQueue(nil, 10)
	q.Enqueue(Event{ID: "unset"}) // Priority left at its zero value, PriorityUnset

	depth := q.Depth()
	if depth[PriorityNormal] != 1 {
		t.Fatalf("depth[normal] = %d, want 1 (unset priority should land in normal)", depth[PriorityNormal])
	}
	if depth[PriorityUnset] != 0 {
		t.Fatalf("depth[unset] = %d, want 0 (nothing should ever sit in the unset slot)", depth[PriorityUnset])
	}
}

func TestDepthReflectsPendingCounts(t *testing.T) {
	q := NewQueue(nil, 10)
	q.Enqueue(Event{ID: "a", Priority: PriorityHigh})
	q.Enqueue(Event{ID: "b", Priority: PriorityHigh})
	q.Enqueue(Event{ID: "c", Priority: PriorityLow})

	depth := q.Depth()
	if depth[PriorityHigh] != 2 {
		t.Errorf("depth[high] = %d, want 2", depth[PriorityHigh])
	}
	if depth[PriorityLow] != 1 {
		t.Errorf("depth[low] = %d, want 1", depth[PriorityLow])
	}
}
