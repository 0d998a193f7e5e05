package main

import (
	"strings"
	"sync"
)

const logBufferLines = 1000

// LogBuffer keeps the most recent log lines in memory for GET /logs.
type LogBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
}

// NewLogBuffer creates a buffer holding at most limit lines.
func NewLogBuffer(limit int) *LogBuffer {
	return &LogBuffer{max: limit, lines: make([]string, 0, limit)}
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		lb.lines = append(lb.lines, line)
	}
	if len(lb.lines) > lb.max {
		lb.lines = append(lb.lines[:0], lb.lines[len(lb.lines)-lb.max:]...)
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first.
func (lb *LogBuffer) Lines() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
