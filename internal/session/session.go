package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/codebuildervaibhav/speaker-transcription/internal/audio"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// DefaultSampleRate applies until the client negotiates a format.
const DefaultSampleRate = 48000

// WorkerFunc runs the recognition worker for one activation. It must return
// once it has consumed the queue's end marker or ctx is cancelled.
type WorkerFunc func(ctx context.Context, s *Session, q *audio.TransferQueue, sampleRate int)

// activation exists exactly while a worker owns the session's queue.
type activation struct {
	queue  *audio.TransferQueue
	done   chan struct{}
	cancel context.CancelFunc
}

// Session is the state of one client connection's recording.
type Session struct {
	id        string
	startTime time.Time
	log       *audio.ChunkLog
	worker    WorkerFunc

	mu         sync.Mutex
	chunks     int
	totalBytes int64
	lines      []types.TranscriptLine
	sampleRate int
	active     *activation
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// StartTime returns when the session was created.
func (s *Session) StartTime() time.Time { return s.startTime }

// LogPath returns where the chunk log lives.
func (s *Session) LogPath() string { return s.log.Path() }

// Active reports whether a recognition worker currently owns the queue.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// SampleRate returns the rate the next activation will use.
func (s *Session) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

// SetSampleRate records a negotiated sample rate. Non-positive rates are ignored.
func (s *Session) SetSampleRate(rate int) {
	if rate <= 0 {
		return
	}
	s.mu.Lock()
	s.sampleRate = rate
	s.mu.Unlock()
}

// Ingest appends chunk to the durable log and, while the session is active,
// hands non-empty chunks to the recognition worker. A log failure is
// returned and the chunk is not counted.
func (s *Session) Ingest(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.log.Append(chunk); err != nil {
		return err
	}
	s.chunks++
	s.totalBytes += int64(len(chunk))

	if s.active == nil || len(chunk) == 0 {
		return nil
	}
	if err := s.active.queue.Put(chunk); err != nil && !errors.Is(err, audio.ErrQueueFull) {
		return err
	}
	return nil
}

// AddTranscriptLine appends a finalized turn.
func (s *Session) AddTranscriptLine(line types.TranscriptLine) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

// TranscriptLines returns a copy of the finalized turns.
func (s *Session) TranscriptLines() []types.TranscriptLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TranscriptLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// TotalBytes returns the running byte count.
func (s *Session) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

func (s *Session) stats(now time.Time) types.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.Stats{
		SessionID:       s.id,
		ChunksReceived:  s.chunks,
		TotalBytes:      s.totalBytes,
		TotalMB:         round2(float64(s.totalBytes) / (1024 * 1024)),
		DurationSeconds: round2(now.Sub(s.startTime).Seconds()),
		FilePath:        s.log.Path(),
		TranscriptLines: len(s.lines),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
