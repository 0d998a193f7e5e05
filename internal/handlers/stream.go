package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/speaker-transcription/internal/audio"
	"github.com/codebuildervaibhav/speaker-transcription/internal/queue"
	"github.com/codebuildervaibhav/speaker-transcription/internal/recognition"
	"github.com/codebuildervaibhav/speaker-transcription/internal/session"
	"github.com/codebuildervaibhav/speaker-transcription/internal/summary"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

// JobQueue accepts post-processing jobs.
type JobQueue interface {
	EnqueueJob(job *queue.Job) error
}

// StreamOptions configures a StreamHandler. Jobs is nil when recordings
// are not post-processed on stop.
type StreamOptions struct {
	Sessions     *session.Manager
	Recognizer   recognition.Recognizer
	Config       recognition.StreamConfig
	Summarizer   summary.Summarizer
	Jobs         JobQueue
	StopTimeout  time.Duration
	PollInterval time.Duration
	// ReadLimit caps one inbound frame in bytes. Zero leaves the default.
	ReadLimit int64
	Logger    *log.Logger
}

// StreamHandler handles WebSocket audio streaming
type StreamHandler struct {
	opts   StreamOptions
	logger *log.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(opts StreamOptions) *StreamHandler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = session.DefaultStopTimeout
	}
	return &StreamHandler{opts: opts, logger: logger.WithPrefix("stream")}
}

// Outbound messages.
type (
	connectedMessage struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}

	transcriptMessage struct {
		Type         string   `json:"type"`
		Text         string   `json:"text"`
		Final        bool     `json:"final"`
		Speaker      string   `json:"speaker"`
		Language     string   `json:"language"`
		LanguageName string   `json:"language_name"`
		Confidence   *float32 `json:"confidence"`
		Timestamp    string   `json:"ts"`
	}

	formatAckMessage struct {
		Type            string `json:"type"`
		SampleRateHertz int    `json:"sampleRateHertz"`
		Encoding        string `json:"encoding"`
		Channels        int    `json:"channels"`
	}

	stoppedAckMessage struct {
		Type    string        `json:"type"`
		Message string        `json:"message"`
		Summary types.Summary `json:"summary"`
	}

	savedMessage struct {
		Type  string      `json:"type"`
		Stats types.Stats `json:"stats"`
	}

	postProcessedMessage struct {
		Type        string        `json:"type"`
		Transcripts []types.Turn  `json:"transcripts"`
		Summary     types.Summary `json:"summary"`
	}

	errorMessage struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
)

// controlMessage is any inbound text frame.
type controlMessage struct {
	Type            string `json:"type"`
	SampleRateHertz *int   `json:"sampleRateHertz"`
	Encoding        string `json:"encoding"`
	Channels        *int   `json:"channels"`
}

// Handle processes WebSocket connections
func (h *StreamHandler) Handle(c *websocket.Conn) {
	if h.opts.ReadLimit > 0 {
		c.SetReadLimit(h.opts.ReadLimit)
	}
	h.serve(c)
}

// conn is the per-connection state of the event loop.
type conn struct {
	h       *StreamHandler
	out     *outbox
	session *session.Session
	logger  *log.Logger
	ctx     context.Context
}

func (h *StreamHandler) serve(ws wsConn) {
	defer ws.Close()

	id := h.opts.Sessions.NewID()
	logger := h.logger.With("session", id)
	out := newOutbox(ws, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &conn{h: h, out: out, logger: logger, ctx: ctx}
	s, err := h.opts.Sessions.Create(id, c.recognize)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		out.close()
		return
	}
	c.session = s

	defer func() {
		h.opts.Sessions.Deactivate(s, h.opts.StopTimeout)
		stats := h.opts.Sessions.Stats(s)
		h.opts.Sessions.Destroy(s)
		out.close()
		logger.Info("client disconnected", "total_mb", stats.TotalMB, "duration_seconds", stats.DurationSeconds)
	}()

	logger.Info("new client")
	out.send(connectedMessage{Type: "connected", SessionID: id, Message: "WebSocket connection established"})

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			logger.Debug("websocket read ended", "error", err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := c.ingest(message); err != nil {
				logger.Error("failed to record audio, closing connection", "error", err)
				return
			}
		case websocket.TextMessage:
			c.control(message)
		}
	}
}

// ingest persists a chunk, starting recognition on the first one.
func (c *conn) ingest(chunk []byte) error {
	if !c.session.Active() {
		c.h.opts.Sessions.Activate(c.session, c.session.SampleRate())
	}
	return c.session.Ingest(chunk)
}

func (c *conn) control(raw []byte) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Debug("ignoring malformed message", "error", err)
		return
	}

	switch msg.Type {
	case "audio_format":
		c.audioFormat(msg)
	case "recording_stopped":
		c.stop()
	case "recording_complete":
		stats := c.h.opts.Sessions.Stats(c.session)
		c.logger.Info("recording complete", "total_mb", stats.TotalMB, "duration_seconds", stats.DurationSeconds)
		c.out.send(savedMessage{Type: "recording_saved", Stats: stats})
	default:
		c.logger.Debug("ignoring unknown message", "type", msg.Type)
	}
}

func (c *conn) audioFormat(msg controlMessage) {
	if msg.SampleRateHertz != nil {
		c.session.SetSampleRate(*msg.SampleRateHertz)
	}
	encoding := msg.Encoding
	if encoding == "" {
		encoding = "LINEAR16"
	}
	channels := 1
	if msg.Channels != nil {
		channels = *msg.Channels
	}

	c.logger.Info("audio format", "encoding", encoding, "sample_rate", c.session.SampleRate())
	c.out.send(formatAckMessage{
		Type:            "audio_format_ack",
		SampleRateHertz: c.session.SampleRate(),
		Encoding:        encoding,
		Channels:        channels,
	})
}

// stop ends recognition, then summarizes off the event loop.
func (c *conn) stop() {
	c.logger.Info("recording stopped")
	c.h.opts.Sessions.Deactivate(c.session, c.h.opts.StopTimeout)

	entries := summary.FromLines(c.session.TranscriptLines())
	go func() {
		sum := c.h.opts.Summarizer.Summarize(c.ctx, entries)
		c.out.send(stoppedAckMessage{Type: "recording_stopped_ack", Message: "Recording stopped", Summary: sum})
	}()

	if c.h.opts.Jobs != nil && c.session.TotalBytes() > 0 {
		c.postProcess()
	}
}

func (c *conn) postProcess() {
	notify := func(result *types.TranscriptionResult, err error) {
		if err != nil {
			c.out.send(errorMessage{Type: "post_processing_error", Error: err.Error()})
			return
		}
		c.out.send(postProcessedMessage{Type: "post_processing_complete", Transcripts: result.Turns, Summary: result.Summary})
	}

	job := queue.NewRecordingJob(uuid.New().String(), c.session.ID(), c.session.LogPath(), c.session.SampleRate(), notify)
	if err := c.h.opts.Jobs.EnqueueJob(job); err != nil {
		c.logger.Warn("failed to queue recording for post-processing", "error", err)
		notify(nil, err)
		return
	}
	c.logger.Info("recording queued for post-processing", "job", job.ID)
}

// recognize is the session's recognition worker.
func (c *conn) recognize(ctx context.Context, s *session.Session, q *audio.TransferQueue, sampleRate int) {
	lines := transcription.NewIncremental(s)
	b := &recognition.Bridge{
		Recognizer:   c.h.opts.Recognizer,
		Config:       c.h.opts.Config.WithSampleRate(sampleRate),
		Source:       q,
		PollInterval: c.h.opts.PollInterval,
		Logger:       c.logger,
		OnEvent: func(ev types.TranscriptEvent) {
			lines.Observe(ev)
			c.out.send(newTranscriptMessage(ev))
		},
		OnError: func(err error) {
			c.out.send(errorMessage{Type: "recognition_error", Error: err.Error()})
		},
	}

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("recognition worker exited", "error", err)
	}
}

func newTranscriptMessage(ev types.TranscriptEvent) transcriptMessage {
	return transcriptMessage{
		Type:         "transcript",
		Text:         ev.Text,
		Final:        ev.Final,
		Speaker:      recognition.SpeakerName(ev.Speaker),
		Language:     ev.Language,
		LanguageName: ev.LanguageName,
		Confidence:   ev.Confidence,
		Timestamp:    ev.Timestamp.UTC().Format(timestampLayout),
	}
}

// sessionView is one live session as reported by GET /sessions.
type sessionView struct {
	types.Stats
	Active bool `json:"active"`
}

// Sessions lists the live sessions.
func (h *StreamHandler) Sessions(c *fiber.Ctx) error {
	all := h.opts.Sessions.All()
	views := make([]sessionView, 0, len(all))
	for _, s := range all {
		views = append(views, sessionView{Stats: h.opts.Sessions.Stats(s), Active: s.Active()})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].SessionID < views[j].SessionID })
	return c.JSON(fiber.Map{
		"count":    len(views),
		"sessions": views,
	})
}
