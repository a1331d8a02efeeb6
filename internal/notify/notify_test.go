package notify

import (
	"context"
	"testing"
	"time"
)

func TestWaitWakesOnNotify(t *testing.T) {
	b := NewBus()
	woken := make(chan bool, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		woken <- b.Wait(ctx, "rev-1")
	}()

	time.Sleep(20 * time.Millisecond)
	b.Notify("rev-1")

	select {
	case got := <-woken:
		if !got {
			t.Fatalf("Wait returned false, expected wake from Notify")
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Notify")
	}
}

func TestWaitTimesOutWithoutNotify(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if b.Wait(ctx, "rev-2") {
		t.Fatalf("expected Wait to time out, not wake")
	}
}

func TestNotifyWakesAllConcurrentWaiters(t *testing.T) {
	b := NewBus()
	const waiters = 5
	results := make(chan bool, waiters)

	for i := 0; i < waiters; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			results <- b.Wait(ctx, "rev-3")
		}()
	}

	time.Sleep(20 * time.Millisecond)
	b.Notify("rev-3")

	for i := 0; i < waiters; i++ {
		select {
		case got := <-results:
			if !got {
				t.Fatalf("waiter %d was not woken by Notify", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never returned", i)
		}
	}
}

func TestNotifyWithNoWaitersIsANoop(t *testing.T) {
	b := NewBus()
	b.Notify("rev-4") // must not panic or block
}

func TestSubsequentWaitAfterNotifyGetsFreshChannel(t *testing.T) {
	b := NewBus()
	b.Notify("rev-5")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if b.Wait(ctx, "rev-5") {
		t.Fatalf("a new Wait after an old Notify should not immediately fire")
	}
}
