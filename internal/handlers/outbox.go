package handlers

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gofiber/websocket/v2"
)

const outboxSize = 256

// wsConn is the part of a websocket connection the stream handler uses.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// outbox serializes every write to a connection through one goroutine, in
// submission order. Sends after close are dropped.
type outbox struct {
	conn   wsConn
	logger *log.Logger

	msgs    chan []byte
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newOutbox(conn wsConn, logger *log.Logger) *outbox {
	o := &outbox{
		conn:    conn,
		logger:  logger,
		msgs:    make(chan []byte, outboxSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

// send queues v as a JSON text frame.
func (o *outbox) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("failed to encode message", "error", err)
		return
	}

	select {
	case <-o.closing:
		return
	default:
	}
	select {
	case o.msgs <- data:
	case <-o.closing:
	}
}

func (o *outbox) run() {
	defer close(o.done)

	broken := false
	write := func(data []byte) {
		if broken {
			return
		}
		if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			o.logger.Debug("websocket write failed", "error", err)
			broken = true
		}
	}

	for {
		select {
		case data := <-o.msgs:
			write(data)
		case <-o.closing:
			for {
				select {
				case data := <-o.msgs:
					write(data)
				default:
					return
				}
			}
		}
	}
}

// close flushes what is already queued and stops the writer.
func (o *outbox) close() {
	o.once.Do(func() {
		close(o.closing)
		<-o.done
	})
}
