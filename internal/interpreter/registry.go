package interpreter

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/shsh-exec/internal/domain"
	"github.com/ashureev/shsh-exec/internal/metrics"
)

// ErrRegistryClosed is returned by GetOrCreate after Close.
var ErrRegistryClosed = errors.New("session registry is closed")

// Registry maps session ids to live interpreter sessions. A session is
// created on first use and kept for the life of the registry; a session
// whose process has exited is replaced on the next lookup.
type Registry struct {
	spawner Spawner
	opts    Options
	logger  *slog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*Session
	restarts map[string]int
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(spawner Spawner, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		spawner:  spawner,
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
		restarts: make(map[string]int),
	}
}

// RequireSessionID validates a candidate id taken from a request.
func RequireSessionID(candidate *string) (string, error) {
	if candidate == nil || *candidate == "" {
		return "", &domain.Error{Kind: domain.KindMissingSessionID, Text: domain.MissingSessionIDText}
	}
	return *candidate, nil
}

// GetOrCreate returns the live session for id, spawning one if there is
// none or the previous one has closed. Concurrent callers with the same id
// share a single spawn.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if s, ok := r.lookup(id); ok {
		return s, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		if s, ok := r.lookup(id); ok {
			return s, nil
		}

		r.mu.RLock()
		closed := r.closed
		previous := r.sessions[id]
		r.mu.RUnlock()
		if closed {
			return nil, ErrRegistryClosed
		}

		s, err := NewSession(context.WithoutCancel(ctx), id, r.spawner, r.opts)
		if err != nil {
			r.logger.Error("Failed to spawn interpreter session", "session_id", id, "error", err)
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			s.Dispose()
			return nil, ErrRegistryClosed
		}
		r.sessions[id] = s
		if previous != nil {
			r.restarts[id]++
		}
		r.mu.Unlock()

		metrics.SessionsActive.Inc()
		go func() {
			<-s.Done()
			metrics.SessionsActive.Dec()
		}()

		if previous != nil {
			metrics.SessionRestartsTotal.Inc()
			r.logger.Info("Interpreter session replaced", "session_id", id)
		} else {
			r.logger.Info("Interpreter session registered", "session_id", id)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// Snapshot returns the state of every registered session, sorted by id.
func (r *Registry) Snapshot() []domain.SessionInfo {
	r.mu.RLock()
	infos := make([]domain.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		info := s.Info()
		info.Restarts = r.restarts[info.ID]
		infos = append(infos, info)
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of registered sessions, closed ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close shuts down every session and rejects further lookups.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Shutdown(ctx)
		}(s)
	}
	wg.Wait()
	r.logger.Info("Session registry closed", "sessions", len(sessions))
}

// Submit runs code in the session for id, creating the session if needed.
func (r *Registry) Submit(ctx context.Context, id, code string) (string, error) {
	s, err := r.GetOrCreate(ctx, id)
	if err != nil {
		return "", err
	}
	return s.Submit(ctx, code)
}
