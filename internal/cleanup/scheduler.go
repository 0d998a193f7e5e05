package cleanup

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Scheduler periodically removes stale files from the temp directory
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	logger   *log.Logger
	now      func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(tempDir string, intervalMinutes, maxAgeHours int, logger *log.Logger) *Scheduler {
	return &Scheduler{
		tempDir:  tempDir,
		interval: time.Duration(intervalMinutes) * time.Minute,
		maxAge:   time.Duration(maxAgeHours) * time.Hour,
		logger:   logger.WithPrefix("cleanup"),
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start sweeps once, then keeps sweeping every interval until Stop.
func (s *Scheduler) Start() {
	s.started.Store(true)
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				return
			}
		}
	}()

	s.logger.Info("cleanup scheduler started", "interval", s.interval, "max_age", s.maxAge)
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.started.Load() {
			<-s.done
		}
		s.logger.Info("cleanup scheduler stopped")
	})
}

// Sweep removes files older than the max age and reports how many went.
func (s *Scheduler) Sweep() (deleted int, freed int64) {
	now := s.now()

	err := filepath.WalkDir(s.tempDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age <= s.maxAge {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to delete old file", "path", path, "error", err)
			return nil
		}
		deleted++
		freed += info.Size()
		s.logger.Debug("deleted old temp file", "file", filepath.Base(path), "age", age.Round(time.Hour), "kb", info.Size()/1024)
		return nil
	})
	if err != nil {
		s.logger.Error("cleanup walk failed", "error", err)
	}

	if deleted > 0 {
		s.logger.Info("cleanup complete", "deleted", deleted, "freed_mb", float64(freed)/(1024*1024))
	}
	return deleted, freed
}

// EnsureDirs creates each directory if it doesn't exist
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
