package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeAnalyzer struct {
	calls   atomic.Int32
	text    string
	err     error
	release chan struct{}
	started chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, image string) (string, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCoordinator(a Analyzer, clock *fakeClock) *Coordinator {
	return NewCoordinator(a, Config{
		Cooldown: 10 * time.Second,
		Timeout:  time.Second,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      clock.Now,
	})
}

var testInput = Input{Image: "data:image/png;base64,AAAA", ShapeCounts: map[string]int{"text": 2}}

func TestCoordinator_CachedWithinCooldown(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := &fakeAnalyzer{text: "The student wrote 2x = 8."}
	c := newTestCoordinator(a, clock)

	first := c.Request(context.Background(), testInput)
	if first.Kind != Fresh || first.Text != a.text {
		t.Fatalf("first=%+v", first)
	}

	clock.Advance(5 * time.Second)
	second := c.Request(context.Background(), testInput)
	if second.Kind != Cached || second.Text != a.text {
		t.Fatalf("second=%+v, want cached", second)
	}
	if second.Age != 5*time.Second {
		t.Fatalf("age=%v, want 5s", second.Age)
	}
	if got := a.calls.Load(); got != 1 {
		t.Fatalf("analyzer calls=%d, want 1", got)
	}
}

func TestCoordinator_InvalidateForcesFresh(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := &fakeAnalyzer{text: "desc"}
	c := newTestCoordinator(a, clock)

	c.Request(context.Background(), testInput)
	clock.Advance(time.Second)
	if out := c.Request(context.Background(), testInput); out.Kind != Cached {
		t.Fatalf("second kind=%v, want cached", out.Kind)
	}

	c.Invalidate()
	clock.Advance(time.Second)
	if out := c.Request(context.Background(), testInput); out.Kind != Fresh {
		t.Fatalf("third kind=%v, want fresh", out.Kind)
	}
	if got := a.calls.Load(); got != 2 {
		t.Fatalf("analyzer calls=%d, want 2", got)
	}
}

func TestCoordinator_FreshAfterCooldownExpires(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := &fakeAnalyzer{text: "desc"}
	c := newTestCoordinator(a, clock)

	c.Request(context.Background(), testInput)
	clock.Advance(10 * time.Second)
	if out := c.Request(context.Background(), testInput); out.Kind != Fresh {
		t.Fatalf("kind=%v, want fresh", out.Kind)
	}
}

func TestCoordinator_BusyWhileInFlight(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := &fakeAnalyzer{text: "desc", release: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newTestCoordinator(a, clock)

	done := make(chan Outcome, 1)
	go func() { done <- c.Request(context.Background(), testInput) }()
	<-a.started

	for i := 0; i < 5; i++ {
		if out := c.Request(context.Background(), testInput); out.Kind != Busy {
			t.Fatalf("concurrent request %d kind=%v, want busy", i, out.Kind)
		}
	}
	if !c.InProgress() {
		t.Fatalf("expected in-progress while analyzer blocked")
	}

	close(a.release)
	if out := <-done; out.Kind != Fresh || out.Text != "desc" {
		t.Fatalf("first=%+v", out)
	}
	if c.InProgress() {
		t.Fatalf("in-progress not cleared")
	}
	if got := a.calls.Load(); got != 1 {
		t.Fatalf("analyzer calls=%d, want 1", got)
	}
}

func TestCoordinator_FailureDegradesAndDoesNotCache(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := &fakeAnalyzer{err: errors.New("timeout")}
	c := newTestCoordinator(a, clock)

	out := c.Request(context.Background(), testInput)
	if out.Kind != Fresh || !out.Degraded {
		t.Fatalf("out=%+v, want degraded fresh", out)
	}
	if !strings.Contains(out.Text, "2 text element(s)") {
		t.Fatalf("fallback text=%q", out.Text)
	}

	clock.Advance(time.Second)
	if out := c.Request(context.Background(), testInput); out.Kind != Fresh {
		t.Fatalf("kind after failure=%v, want fresh", out.Kind)
	}
	if got := a.calls.Load(); got != 2 {
		t.Fatalf("analyzer calls=%d, want 2", got)
	}
}

func TestCoordinator_NoImageDegradesWithoutCall(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := &fakeAnalyzer{text: "desc"}
	c := newTestCoordinator(a, clock)

	out := c.Request(context.Background(), Input{ShapeCounts: map[string]int{"draw": 1}})
	if !out.Degraded {
		t.Fatalf("out=%+v, want degraded", out)
	}
	if got := a.calls.Load(); got != 0 {
		t.Fatalf("analyzer calls=%d, want 0", got)
	}
}

func TestCoordinator_InvalidateDuringFlightDiscardsResult(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := &fakeAnalyzer{text: "old canvas", release: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newTestCoordinator(a, clock)

	done := make(chan Outcome, 1)
	go func() { done <- c.Request(context.Background(), testInput) }()
	<-a.started
	c.Invalidate()
	close(a.release)
	<-done

	clock.Advance(time.Second)
	a.release = nil
	a.started = nil
	if out := c.Request(context.Background(), testInput); out.Kind != Fresh {
		t.Fatalf("kind=%v, want fresh after invalidation during flight", out.Kind)
	}
}
