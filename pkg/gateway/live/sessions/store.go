package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

var (
	ErrAtCapacity = errors.New("sessions: at capacity")
	ErrDraining   = errors.New("sessions: store is draining")
)

// Handle lets the store stop or notify a live session.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

type StoreConfig struct {
	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Store is the registry of live sessions. It is created once per process and passed
// to the websocket handler.
type Store struct {
	maxSessions int
	logger      *slog.Logger
	now         func() time.Time

	draining atomic.Bool

	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

type entry struct {
	state  *State
	handle Handle
	once   sync.Once
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		maxSessions: cfg.MaxSessions,
		logger:      cfg.Logger,
		now:         cfg.Now,
		sessions:    make(map[string]*entry),
	}
}

// Create registers a new session. The returned release func removes it and must be
// called when the connection ends; it is safe to call more than once.
func (s *Store) Create(h Handle) (*State, func(), error) {
	if s.draining.Load() {
		return nil, func() {}, ErrDraining
	}

	st := newState(uuid.NewString(), s.now)
	e := &entry{state: st, handle: h}

	s.mu.Lock()
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return nil, func() {}, ErrAtCapacity
	}
	s.sessions[st.ID] = e
	s.wg.Add(1)
	s.mu.Unlock()

	return st, func() { s.release(st.ID, e) }, nil
}

func (s *Store) release(id string, e *entry) {
	e.once.Do(func() {
		s.mu.Lock()
		if s.sessions[id] == e {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		s.wg.Done()
	})
}

// Attach sets the handle of a session created before its live connection existed.
func (s *Store) Attach(id string, h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return false
	}
	e.handle = h
	return true
}

func (s *Store) Get(id string) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return e.state, true
}

// Remove cancels and unregisters a session.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	e, ok := s.sessions[id]
	var cancel func()
	if ok {
		cancel = e.handle.Cancel
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if cancel != nil {
		cancel()
	}
	s.release(id, e)
	return true
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) SetDraining(draining bool) {
	s.draining.Store(draining)
}

func (s *Store) IsDraining() bool {
	return s.draining.Load()
}

// CleanupStale removes sessions idle for longer than maxAge and returns how many
// were removed.
func (s *Store) CleanupStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	now := s.now()
	var stale []string
	s.mu.Lock()
	for id, e := range s.sessions {
		if now.Sub(e.state.LastActivity()) > maxAge {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	removed := 0
	for _, id := range stale {
		if s.Remove(id) {
			removed++
		}
	}
	return removed
}

// ScheduleSweep registers a CleanupStale run on c under the given cron spec.
func (s *Store) ScheduleSweep(c *cron.Cron, spec string, maxAge time.Duration) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if n := s.CleanupStale(maxAge); n > 0 {
			s.logger.Info("stale sessions removed", "count", n, "max_age", maxAge.String())
		}
	})
}

func (s *Store) handles() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Handle, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, e.handle)
	}
	return out
}

// WarnAll notifies every live session, best effort.
func (s *Store) WarnAll(code, message string) (sent int) {
	for _, h := range s.handles() {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(code, message)
		sent++
	}
	return sent
}

func (s *Store) CancelAll() (canceled int) {
	for _, h := range s.handles() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every session has been released or ctx ends. It reports whether
// all sessions finished.
func (s *Store) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
