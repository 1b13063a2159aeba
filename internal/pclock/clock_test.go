package pclock

import (
	"context"
	"testing"
	"time"
)

func TestVirtualFreezesDuringPause(t *testing.T) {
	c := New()
	time.Sleep(20 * time.Millisecond)
	c.Pause()
	frozen := c.Virtual()
	time.Sleep(30 * time.Millisecond)
	if got := c.Virtual(); got != frozen {
		t.Fatalf("virtual advanced while paused: frozen=%v got=%v", frozen, got)
	}
	c.Resume()
	time.Sleep(10 * time.Millisecond)
	if got := c.Virtual(); got <= frozen {
		t.Fatalf("virtual did not advance after resume: frozen=%v got=%v", frozen, got)
	}
}

func TestVirtualMonotoneAcrossPauseResume(t *testing.T) {
	c := New()
	prev := c.Virtual()
	for i := 0; i < 5; i++ {
		c.Pause()
		time.Sleep(2 * time.Millisecond)
		c.Resume()
		time.Sleep(2 * time.Millisecond)
		next := c.Virtual()
		if next < prev {
			t.Fatalf("virtual went backwards: prev=%v next=%v", prev, next)
		}
		prev = next
	}
}

func TestVirtualSleepHonorsPause(t *testing.T) {
	c := New()
	done := make(chan struct{})
	c.Pause()
	go func() {
		_ = c.VirtualSleep(context.Background(), 20*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("virtual sleep returned while clock paused")
	case <-time.After(40 * time.Millisecond):
	}
	c.Resume()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("virtual sleep did not return after resume")
	}
}

func TestVirtualSleepCancellable(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.VirtualSleep(ctx, time.Hour) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error from cancelled virtual sleep")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("virtual sleep did not observe cancellation promptly")
	}
}
