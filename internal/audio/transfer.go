package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueCapacity bounds the chunks waiting for the recognizer. At
// typical 100ms frames this is several minutes of audio.
const DefaultQueueCapacity = 2048

var (
	// ErrQueueClosed is returned by Put after the end marker was pushed.
	ErrQueueClosed = errors.New("transfer queue closed")
	// ErrQueueFull is returned by Put when the consumer has fallen behind.
	ErrQueueFull = errors.New("transfer queue full")
)

// Item is one entry handed to the recognition worker. End marks that no
// further audio follows for this activation.
type Item struct {
	Chunk []byte
	End   bool
}

// TransferQueue hands audio chunks from the connection loop to a
// recognition worker. Put never blocks; when the queue is full the chunk is
// dropped from recognition (it is already in the chunk log) and counted.
type TransferQueue struct {
	items   chan []byte
	end     chan struct{}
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewTransferQueue creates a queue holding at most capacity chunks.
func NewTransferQueue(capacity int) *TransferQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &TransferQueue{
		items: make(chan []byte, capacity),
		end:   make(chan struct{}),
	}
}

// Put enqueues a chunk for the worker.
func (q *TransferQueue) Put(chunk []byte) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.items <- chunk:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Finish pushes the end marker. Items already queued are still delivered
// before the marker. Calling Finish more than once is harmless.
func (q *TransferQueue) Finish() {
	q.once.Do(func() {
		q.closed.Store(true)
		close(q.end)
	})
}

// Poll waits up to timeout for the next item. ok is false when nothing
// arrived in time.
func (q *TransferQueue) Poll(timeout time.Duration) (item Item, ok bool) {
	select {
	case c := <-q.items:
		return Item{Chunk: c}, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c := <-q.items:
		return Item{Chunk: c}, true
	case <-q.end:
		// The producer stops before Finish, so an empty channel here means drained.
		select {
		case c := <-q.items:
			return Item{Chunk: c}, true
		default:
			return Item{End: true}, true
		}
	case <-timer.C:
		return Item{}, false
	}
}

// Len returns the number of chunks waiting.
func (q *TransferQueue) Len() int {
	return len(q.items)
}

// Dropped returns how many chunks were refused because the queue was full.
func (q *TransferQueue) Dropped() int64 {
	return q.dropped.Load()
}
