package firmware

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDiscoverer_SelectsGreatest(t *testing.T) {
	ctrl := newMockController()
	ctrl.candidates = []Candidate{
		{Version: "2.3.0"},
		{Version: "2.10.0", ChangeLog: "latest"},
		{Version: "bogus"},
	}
	d := NewDiscoverer(ctrl, NewLimiter(1), "key")

	got, err := d.Discover(context.Background(), newMockNode("n1", "1.0"))
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if got == nil || got.Version != "2.10.0" || got.ChangeLog != "latest" {
		t.Errorf("Discover() = %+v, want 2.10.0", got)
	}
}

func TestDiscoverer_NoCandidates(t *testing.T) {
	d := NewDiscoverer(newMockController(), NewLimiter(1), "key")

	got, err := d.Discover(context.Background(), newMockNode("n1", "1.0"))
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if got != nil {
		t.Errorf("Discover() = %+v, want nil", got)
	}
}

func TestDiscoverer_TransportError(t *testing.T) {
	ctrl := newMockController()
	ctrl.listErr = errors.New("controller offline")
	l := NewLimiter(1)
	d := NewDiscoverer(ctrl, l, "key")

	if _, err := d.Discover(context.Background(), newMockNode("n1", "1.0")); err == nil {
		t.Fatal("Discover() error = nil, want transport error")
	}
	if l.InUse() != 0 {
		t.Errorf("slot leaked after error: InUse() = %d", l.InUse())
	}
}

func TestDiscoverer_HoldsLimiterSlot(t *testing.T) {
	l := NewLimiter(1)
	mustAcquire(t, l)
	ctrl := newMockController()
	d := NewDiscoverer(ctrl, l, "key")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := d.Discover(ctx, newMockNode("n1", "1.0")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Discover() error = %v, want deadline exceeded", err)
	}
	if ctrl.listCount() != 0 {
		t.Error("controller queried without a limiter slot")
	}
}

func TestDiscoverer_SharedLimiterBoundsConcurrency(t *testing.T) {
	ctrl := newMockController()
	ctrl.listBlock = make(chan struct{})
	l := NewLimiter(3)

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		d := NewDiscoverer(ctrl, l, "key")
		node := newMockNode("n"+string(rune('1'+i)), "1.0")
		go func() {
			_, _ = d.Discover(context.Background(), node) //nolint:errcheck // result irrelevant
			done <- struct{}{}
		}()
	}

	waitFor(t, "three active queries", func() bool { return ctrl.listCount() == 3 })
	time.Sleep(30 * time.Millisecond)
	if n := ctrl.listCount(); n != 3 {
		t.Fatalf("queries started = %d, want 3 while slots are held", n)
	}

	close(ctrl.listBlock)
	for i := 0; i < 5; i++ {
		<-done
	}
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.maxActive != 3 {
		t.Errorf("max concurrent queries = %d, want 3", ctrl.maxActive)
	}
}
