package handlers

import (
	"errors"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// TranscriptStore reads the job table.
type TranscriptStore interface {
	GetTranscript(jobID string) (*storage.TranscriptRecord, error)
	ListTranscripts(limit int) ([]storage.TranscriptRecord, error)
}

// TranscriptsHandler serves finished transcripts.
type TranscriptsHandler struct {
	store  TranscriptStore
	logger *log.Logger
}

// NewTranscriptsHandler creates a transcripts handler
func NewTranscriptsHandler(store TranscriptStore, logger *log.Logger) *TranscriptsHandler {
	return &TranscriptsHandler{store: store, logger: logger.WithPrefix("transcripts")}
}

// List returns the newest records, ?limit= bounded.
func (h *TranscriptsHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	records, err := h.store.ListTranscripts(limit)
	if err != nil {
		h.logger.Error("failed to list transcripts", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list transcripts",
			"code":  "ERR_DB",
		})
	}
	return c.JSON(records)
}

// Get returns one record with its summary.
func (h *TranscriptsHandler) Get(c *fiber.Ctx) error {
	record, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	return c.JSON(record)
}

// Text returns the saved transcript file.
func (h *TranscriptsHandler) Text(c *fiber.Ctx) error {
	record, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	if record.LocalPath == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Transcript file path not found",
			"code":  "ERR_NO_FILE",
		})
	}

	content, err := os.ReadFile(record.LocalPath)
	if err != nil {
		h.logger.Error("failed to read transcript file", "path", record.LocalPath, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read transcript file",
			"code":  "ERR_READ_FAILED",
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Send(content)
}

// lookup loads the record named by :id. When ok is false the error
// response has already been written and err is what the handler returns.
func (h *TranscriptsHandler) lookup(c *fiber.Ctx) (record *storage.TranscriptRecord, ok bool, err error) {
	record, err = h.store.GetTranscript(c.Params("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, false, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Transcript not found",
			"code":  "ERR_NOT_FOUND",
		})
	case err != nil:
		h.logger.Error("failed to load transcript", "job", c.Params("id"), "error", err)
		return nil, false, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load transcript",
			"code":  "ERR_DB",
		})
	}
	return record, true, nil
}
