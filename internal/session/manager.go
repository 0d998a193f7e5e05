package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/codebuildervaibhav/speaker-transcription/internal/audio"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// DefaultStopTimeout bounds how long Deactivate waits for a worker.
const DefaultStopTimeout = 3 * time.Second

// Manager owns the process-wide session table.
type Manager struct {
	recordingsDir string
	queueCapacity int
	logger        *log.Logger
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	issued   map[string]struct{}
}

// NewManager creates a manager writing chunk logs under recordingsDir.
func NewManager(recordingsDir string, queueCapacity int, logger *log.Logger) *Manager {
	return &Manager{
		recordingsDir: recordingsDir,
		queueCapacity: queueCapacity,
		logger:        logger,
		now:           time.Now,
		sessions:      make(map[string]*Session),
		issued:        make(map[string]struct{}),
	}
}

// NewID returns a time-derived identifier never issued before by this manager.
func (m *Manager) NewID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.now().Format("20060102_150405")
	id := base
	for n := 1; ; n++ {
		if _, taken := m.issued[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
	m.issued[id] = struct{}{}
	return id
}

// Create registers a new inactive session. worker runs on every activation.
func (m *Manager) Create(id string, worker WorkerFunc) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session %s already exists", id)
	}
	m.issued[id] = struct{}{}

	s := &Session{
		id:         id,
		startTime:  m.now(),
		log:        audio.NewChunkLog(filepath.Join(m.recordingsDir, fmt.Sprintf("recording_%s.raw", id))),
		worker:     worker,
		sampleRate: DefaultSampleRate,
	}
	m.sessions[id] = s
	return s, nil
}

// Get looks a session up by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// All returns the live sessions.
func (m *Manager) All() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Activate starts a recognition worker bound to a fresh transfer queue at
// the given sample rate. It returns false without side effects when the
// session is already active.
func (m *Manager) Activate(s *Session, sampleRate int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return false
	}
	if sampleRate <= 0 {
		sampleRate = s.sampleRate
	}

	ctx, cancel := context.WithCancel(context.Background())
	act := &activation{
		queue:  audio.NewTransferQueue(m.queueCapacity),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	s.active = act

	go func() {
		defer close(act.done)
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("recognition worker panic", "session", s.id, "panic", r)
			}
		}()
		if s.worker != nil {
			s.worker(ctx, s, act.queue, sampleRate)
		}
	}()

	m.logger.Info("recording started", "session", s.id, "sample_rate", sampleRate)
	return true
}

// Deactivate pushes the end marker and waits up to timeout for the worker.
// The session is inactive afterwards whether or not the worker finished; a
// worker still running is cancelled and abandoned. It reports whether the
// worker was joined.
func (m *Manager) Deactivate(s *Session, timeout time.Duration) bool {
	s.mu.Lock()
	act := s.active
	s.mu.Unlock()

	if act == nil {
		return true
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	act.queue.Finish()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	joined := true
	select {
	case <-act.done:
	case <-timer.C:
		joined = false
		m.logger.Warn("recognition worker did not stop in time, abandoning", "session", s.id, "timeout", timeout)
	}
	act.cancel()

	if dropped := act.queue.Dropped(); dropped > 0 {
		m.logger.Warn("chunks skipped by recognition while the worker lagged", "session", s.id, "dropped", dropped)
	}

	s.mu.Lock()
	if s.active == act {
		s.active = nil
	}
	s.mu.Unlock()

	return joined
}

// Stats computes the session's accounting snapshot.
func (m *Manager) Stats(s *Session) types.Stats {
	return s.stats(m.now())
}

// Destroy removes the session from the table. The chunk log is kept.
func (m *Manager) Destroy(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		delete(m.sessions, s.id)
	}
}
