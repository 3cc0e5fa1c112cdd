// Package analysis turns canvas screenshots into text for the tutor, guarding the slow
// vision call with a busy flag and a cooldown cache.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-tutor/pkg/tutor/canvas"
)

// Kind classifies an Outcome.
type Kind int

const (
	Fresh Kind = iota
	Cached
	Busy
)

func (k Kind) String() string {
	switch k {
	case Fresh:
		return "fresh"
	case Cached:
		return "cached"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of a Request. Busy and Cached are throttling decisions, not errors.
type Outcome struct {
	Kind Kind
	Text string
	// Age is how long ago the cached result was requested.
	Age time.Duration
	// Degraded is set when Text was derived from shape counts because the analyzer failed.
	Degraded bool
}

// Input is what a request analyzes.
type Input struct {
	// Image is a data URL or raw base64 image of the canvas.
	Image       string
	ShapeCounts map[string]int
}

// Analyzer describes a canvas image.
type Analyzer interface {
	Analyze(ctx context.Context, image string) (string, error)
}

var (
	ErrNoImage     = errors.New("no canvas image to analyze")
	ErrNoAnalyzer  = errors.New("no analyzer configured")
	ErrEmptyResult = errors.New("analyzer returned no description")
)

const (
	DefaultCooldown = 10 * time.Second
	DefaultTimeout  = 30 * time.Second
)

type Config struct {
	Cooldown time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Coordinator allows at most one analysis in flight and serves a cached result
// within the cooldown window.
type Coordinator struct {
	analyzer Analyzer
	cooldown time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	inProgress  bool
	hasResult   bool
	lastResult  string
	lastRequest time.Time
	// generation is bumped by Invalidate so a call that started before it cannot
	// repopulate the cache with a description of the old canvas.
	generation uint64
}

func NewCoordinator(analyzer Analyzer, cfg Config) *Coordinator {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		analyzer: analyzer,
		cooldown: cfg.Cooldown,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Request analyzes in.Image unless a call is already running (Busy) or a result from
// within the cooldown window is cached (Cached). It always returns some text for
// Fresh outcomes, degrading to a shape-count description on failure.
func (c *Coordinator) Request(ctx context.Context, in Input) Outcome {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		return Outcome{Kind: Busy}
	}
	now := c.now()
	if age := now.Sub(c.lastRequest); c.hasResult && age < c.cooldown {
		out := Outcome{Kind: Cached, Text: c.lastResult, Age: age}
		c.mu.Unlock()
		return out
	}
	c.inProgress = true
	c.lastRequest = now
	gen := c.generation
	c.mu.Unlock()

	text, err := c.run(ctx, in.Image, gen)
	if err != nil {
		c.logger.Warn("canvas analysis failed", "error", err)
		return Outcome{Kind: Fresh, Text: Fallback(in.ShapeCounts), Degraded: true}
	}
	return Outcome{Kind: Fresh, Text: text}
}

func (c *Coordinator) run(ctx context.Context, image string, gen uint64) (text string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("analyzer panic: %v", v)
		}
		c.mu.Lock()
		c.inProgress = false
		if err == nil && gen == c.generation {
			c.lastResult = text
			c.hasResult = true
		}
		c.mu.Unlock()
	}()

	if c.analyzer == nil {
		return "", ErrNoAnalyzer
	}
	if strings.TrimSpace(image) == "" {
		return "", ErrNoImage
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err = c.analyzer.Analyze(callCtx, image)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}

// Invalidate drops the cached result. Call it whenever the canvas changes.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasResult = false
	c.lastResult = ""
	c.generation++
}

// InProgress reports whether an analysis call is running.
func (c *Coordinator) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// Fallback describes the canvas from shape counts alone.
func Fallback(counts map[string]int) string {
	return "I couldn't get a clear look at the canvas image just now. " + canvas.DescribeCounts(counts)
}
