package limiter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGateAcquireRelease(t *testing.T) {
	g := New(2, 0)
	ctx := context.Background()

	if !g.Acquire(ctx) || !g.Acquire(ctx) {
		t.Fatal("could not fill the gate")
	}
	if g.InFlight() != 2 {
		t.Fatalf("InFlight = %d, want 2", g.InFlight())
	}

	g.Release()
	if g.InFlight() != 1 {
		t.Fatalf("InFlight after release = %d, want 1", g.InFlight())
	}
	if !g.Acquire(ctx) {
		t.Fatal("released slot not reusable")
	}
	g.Release()
	g.Release()
}

func TestGateRejectsBeyondQueue(t *testing.T) {
	g := New(1, 0)
	ctx := context.Background()

	if !g.Acquire(ctx) {
		t.Fatal("first acquire failed")
	}
	// No queue: the second caller is dropped immediately.
	if g.Acquire(ctx) {
		t.Fatal("second acquire succeeded on a full gate with no queue")
	}
	if g.Rejected() != 1 {
		t.Fatalf("Rejected = %d, want 1", g.Rejected())
	}
	g.Release()
}

func TestGateQueuedAcquireWaits(t *testing.T) {
	g := New(1, 1)
	ctx := context.Background()

	if !g.Acquire(ctx) {
		t.Fatal("first acquire failed")
	}

	got := make(chan bool, 1)
	go func() { got <- g.Acquire(ctx) }()

	// The waiter should block until the slot frees.
	select {
	case <-got:
		t.Fatal("queued acquire returned before release")
	case <-time.After(20 * time.Millisecond):
	}

	g.Release()
	select {
	case ok := <-got:
		if !ok {
			t.Fatal("queued acquire failed after release")
		}
	case <-time.After(time.Second):
		t.Fatal("queued acquire never woke up")
	}
	g.Release()
}

func TestGateQueuedAcquireHonoursContext(t *testing.T) {
	g := New(1, 1)
	if !g.Acquire(context.Background()) {
		t.Fatal("first acquire failed")
	}
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if g.Acquire(ctx) {
		t.Fatal("acquire succeeded despite held slot and expired context")
	}
	if g.Rejected() != 1 {
		t.Fatalf("Rejected = %d, want 1", g.Rejected())
	}
}

func TestGateConcurrentUse(t *testing.T) {
	g := New(4, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire(ctx) {
				time.Sleep(time.Millisecond)
				g.Release()
			}
		}()
	}
	wg.Wait()

	if g.InFlight() != 0 {
		t.Fatalf("InFlight after drain = %d, want 0", g.InFlight())
	}
}
