package toolcall

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler executes one tool call. isLast reports whether the queue was empty right
// after req was dequeued; only that handler should ask the model for a reply.
type Handler func(ctx context.Context, req Request, isLast bool) error

// Config wires a Sequencer.
type Config struct {
	// Handlers must have an entry for every Kind returned by Kinds.
	Handlers map[Kind]Handler
	Logger   *slog.Logger
	// OnUnanswered runs when a batch ends on an item that could not request the
	// reply itself: an unknown tool, or a handler that failed.
	OnUnanswered func(ctx context.Context)
}

// Sequencer is a single-consumer FIFO of tool calls. Enqueue never blocks; Run drains
// the queue one item at a time until its context ends.
type Sequencer struct {
	handlers     [kindCount]Handler
	logger       *slog.Logger
	onUnanswered func(ctx context.Context)

	mu    sync.Mutex
	queue []Request
	wake  chan struct{}
	batch uint64
}

func NewSequencer(cfg Config) (*Sequencer, error) {
	s := &Sequencer{
		logger:       cfg.Logger,
		onUnanswered: cfg.OnUnanswered,
		wake:         make(chan struct{}, 1),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, k := range Kinds() {
		h := cfg.Handlers[k]
		if h == nil {
			return nil, fmt.Errorf("toolcall: no handler for %s", k)
		}
		s.handlers[k] = h
	}
	return s, nil
}

// Enqueue appends req to the queue. It is safe to call from any goroutine, including
// while a batch is draining.
func (s *Sequencer) Enqueue(req Request) {
	s.mu.Lock()
	s.queue = append(s.queue, req)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, not yet started calls.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Run drains the queue until ctx is done. Items still queued at that point are dropped.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if dropped := s.discard(); dropped > 0 {
				s.logger.Info("tool calls dropped at shutdown", "pending", dropped)
			}
			return nil
		case <-s.wake:
		}
		s.drain(ctx)
	}
}

func (s *Sequencer) drain(ctx context.Context) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.batch++
	batch := s.batch
	s.mu.Unlock()

	count := 0
	for ctx.Err() == nil {
		req, isLast, ok := s.pop()
		if !ok {
			break
		}
		count++
		answered := s.execute(ctx, batch, req, isLast)
		if isLast && !answered && s.onUnanswered != nil && ctx.Err() == nil {
			s.onUnanswered(ctx)
		}
	}
	s.logger.Debug("tool batch drained", "batch", batch, "calls", count)
}

// pop removes the head of the queue and reports whether the queue is now empty.
func (s *Sequencer) pop() (Request, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Request{}, false, false
	}
	req := s.queue[0]
	s.queue[0] = Request{}
	s.queue = s.queue[1:]
	return req, len(s.queue) == 0, true
}

func (s *Sequencer) discard() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = nil
	return n
}

// execute runs one handler and reports whether it completed. Errors and panics are
// logged and never stop the drain.
func (s *Sequencer) execute(ctx context.Context, batch uint64, req Request, isLast bool) (ok bool) {
	logger := s.logger.With("batch", batch, "tool", req.Name, "call_id", req.CallID)
	if req.Kind <= KindUnknown || req.Kind >= kindCount {
		logger.Warn("unknown tool call skipped")
		return false
	}

	defer func() {
		if v := recover(); v != nil {
			logger.Error("tool handler panic", "panic", v)
			ok = false
		}
	}()

	if err := s.handlers[req.Kind](ctx, req, isLast); err != nil {
		logger.Error("tool handler failed", "error", err)
		return false
	}
	logger.Debug("tool call complete", "is_last", isLast)
	return true
}
