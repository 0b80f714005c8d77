// Package session holds the process-wide table of import progress snapshots.
// Sessions are best-effort and in-memory only: they are owned by the import
// run that created them and expire after a retention window once terminal.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sami/medbank/internal/domain"
)

// Store is a mutex-guarded map of import sessions with a periodic TTL sweep.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ImportSession

	retention   time.Duration
	maxLogLines int

	stopOnce sync.Once
	stop     chan struct{}
}

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	Retention     time.Duration // how long terminal sessions are kept
	SweepInterval time.Duration // cleanup cadence
	MaxLogLines   int           // per-session log line cap
}

// NewStore creates a session store and starts its cleanup sweep.
func NewStore(opts Options) *Store {
	if opts.Retention <= 0 {
		opts.Retention = 30 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.MaxLogLines <= 0 {
		opts.MaxLogLines = 200
	}

	s := &Store{
		sessions:    make(map[string]*domain.ImportSession),
		retention:   opts.Retention,
		maxLogLines: opts.MaxLogLines,
		stop:        make(chan struct{}),
	}

	go s.sweepLoop(opts.SweepInterval)

	return s
}

// Stop terminates the cleanup sweep. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Create registers a new session in the validating phase and returns its id.
func (s *Store) Create() string {
	id := uuid.New().String()
	now := time.Now()

	s.mu.Lock()
	s.sessions[id] = &domain.ImportSession{
		ID:          id,
		Phase:       domain.PhaseValidating,
		Message:     "preparing import",
		CreatedAt:   now,
		LastUpdated: now,
	}
	s.mu.Unlock()

	return id
}

// Get returns a copy of the session snapshot, or false if the id is unknown
// or already swept. Absence is a benign signal, not an error.
func (s *Store) Get(id string) (domain.ImportSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ImportSession{}, false
	}
	return snapshot(sess), true
}

// Update describes a partial mutation of a session. Zero-valued fields are
// left unchanged except Progress, which is always applied (clamped to 0-100).
type Update struct {
	Progress int
	Message  string
	Log      string
	Phase    domain.ImportPhase
	Stats    *domain.ImportStats
}

// Apply applies an update to the session. Updating an absent or already swept
// session is a silent no-op: late progress callbacks racing the cleanup sweep
// must not fail the caller.
func (s *Store) Apply(id string, u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}

	p := u.Progress
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	sess.Progress = p

	if u.Message != "" {
		sess.Message = u.Message
	}
	if u.Log != "" {
		sess.Logs = append(sess.Logs, u.Log)
		if len(sess.Logs) > s.maxLogLines {
			sess.Logs = sess.Logs[len(sess.Logs)-s.maxLogLines:]
		}
	}
	// Cancel forces the terminal phase; a run that has not yet observed the
	// flag must not resurrect the session into an active phase.
	if u.Phase != "" && !sess.Cancelled {
		sess.Phase = u.Phase
	}
	if u.Stats != nil {
		sess.Stats = *u.Stats
	}
	sess.LastUpdated = time.Now()
}

// Cancel marks the session cancelled and forces it terminal so polling
// clients see the run end immediately. Work in flight observes the flag at
// its next checkpoint. Returns false when the id is unknown. Idempotent.
func (s *Store) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Cancelled = true
	sess.Phase = domain.PhaseComplete
	sess.Message = "import cancelled"
	sess.LastUpdated = time.Now()
	return true
}

// IsCancelled reports the cancel flag; unknown sessions read as cancelled so
// an orphaned run stops at its next checkpoint.
func (s *Store) IsCancelled(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return true
	}
	return sess.Cancelled
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stop:
			return
		}
	}
}

// sweep deletes terminal sessions past the retention window.
func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.Phase == domain.PhaseComplete && now.Sub(sess.LastUpdated) > s.retention {
			delete(s.sessions, id)
		}
	}
}

// snapshot copies a session so callers never share slices with the store.
func snapshot(sess *domain.ImportSession) domain.ImportSession {
	out := *sess
	out.Logs = append([]string(nil), sess.Logs...)
	out.Stats.Errors = append([]string(nil), sess.Stats.Errors...)
	return out
}
