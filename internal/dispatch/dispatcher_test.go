package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/privatehub/corebus/internal/bus"
)

func TestDispatchCompletedOnSuccess(t *testing.T) {
	q := bus.NewQueue(nil, 10)
	r := NewRegistry()
	r.Register(bus.CategoryUser, "h1", func(ctx context.Context, e bus.Event) error { return nil })

	var got bus.Event
	done := make(chan struct{})
	d := New(nil, q, r, Config{Workers: 1}, func(e bus.Event) {
		got = e
		close(done)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer cancel()

	q.Enqueue(bus.NewEvent(bus.Event{Category: bus.CategoryUser}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminal callback")
	}
	if got.ProcessingStatus != bus.StatusCompleted {
		t.Fatalf("status = %v, want completed", got.ProcessingStatus)
	}
}

func TestDispatchIsolatesSiblingHandlerFailure(t *testing.T) {
	q := bus.NewQueue(nil, 10)
	r := NewRegistry()

	var ranSecond atomic.Bool
	r.Register(bus.CategoryUser, "fails", func(ctx context.Context, e bus.Event) error {
		return errors.New("boom")
	})
	r.Register(bus.CategoryUser, "succeeds", func(ctx context.Context, e bus.Event) error {
		ranSecond.Store(true)
		return nil
	})

	done := make(chan bus.Event, 1)
	d := New(nil, q, r, Config{Workers: 1, RetryDelay: time.Hour}, func(e bus.Event) {
		done <- e
	})

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer cancel()

	q.Enqueue(bus.NewEvent(bus.Event{Category: bus.CategoryUser}))

	select {
	case <-time.After(200 * time.Millisecond):
	case <-done:
		t.Fatal("event should be retrying, not terminal, after first failure")
	}

	if !ranSecond.Load() {
		t.Fatal("sibling handler did not run despite the first handler's failure")
	}
}

func TestDispatchFailsAfterMaxRetryAttempts(t *testing.T) {
	q := bus.NewQueue(nil, 10)
	r := NewRegistry()
	r.Register(bus.CategoryUser, "always-fails", func(ctx context.Context, e bus.Event) error {
		return errors.New("boom")
	})

	done := make(chan bus.Event, 1)
	d := New(nil, q, r, Config{Workers: 1, MaxRetryAttempts: 2, RetryDelay: time.Millisecond}, func(e bus.Event) {
		if e.ProcessingStatus == bus.StatusFailed {
			select {
			case done <- e:
			default:
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer cancel()

	q.Enqueue(bus.NewEvent(bus.Event{Category: bus.CategoryUser}))

	select {
	case e := <-done:
		if e.ProcessingStatus != bus.StatusFailed {
			t.Fatalf("status = %v, want failed", e.ProcessingStatus)
		}
		if e.RetryCount != 2 {
			t.Fatalf("retry count = %d, want 2", e.RetryCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event to reach failed")
	}
}

func TestShutdownStopsPendingRetryTimers(t *testing.T) {
	q := bus.NewQueue(nil, 10)
	r := NewRegistry()
	r.Register(bus.CategoryUser, "always-fails", func(ctx context.Context, e bus.Event) error {
		return errors.New("boom")
	})

	var mu sync.Mutex
	var terminalCount int
	d := New(nil, q, r, Config{Workers: 1, RetryDelay: time.Hour}, func(e bus.Event) {
		mu.Lock()
		terminalCount++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	q.Enqueue(bus.NewEvent(bus.Event{Category: bus.CategoryUser}))
	time.Sleep(50 * time.Millisecond)

	d.Shutdown(time.Second)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if terminalCount != 0 {
		t.Fatalf("terminalCount = %d, want 0 (retry timer should have been cancelled)", terminalCount)
	}
}
