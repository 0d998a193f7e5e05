package audio

import (
	"fmt"
	"os"
	"path/filepath"
)

// ChunkLog is an append-only file of every audio chunk received for a
// session. The file is created on the first append.
type ChunkLog struct {
	path string
}

// NewChunkLog returns a log that will write to path. Nothing touches the
// filesystem until the first Append.
func NewChunkLog(path string) *ChunkLog {
	return &ChunkLog{path: path}
}

// Path returns the log file location.
func (l *ChunkLog) Path() string {
	return l.path
}

// Append writes chunk at the end of the log. The file is opened and closed
// around each write so nothing stays buffered in the process.
func (l *ChunkLog) Append(chunk []byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create recordings directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open chunk log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close chunk log: %w", cerr)
		}
	}()

	if _, err := f.Write(chunk); err != nil {
		return fmt.Errorf("failed to append chunk: %w", err)
	}
	return nil
}

// Size reports the current byte length of the log, zero if it does not exist yet.
func (l *ChunkLog) Size() (int64, error) {
	info, err := os.Stat(l.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
