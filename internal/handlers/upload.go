package handlers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/speaker-transcription/internal/queue"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// UploadHandler handles file uploads
type UploadHandler struct {
	jobs      JobQueue
	tempDir   string
	maxSizeMB int
	logger    *log.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(jobs JobQueue, tempDir string, maxSizeMB int, logger *log.Logger) *UploadHandler {
	return &UploadHandler{
		jobs:      jobs,
		tempDir:   tempDir,
		maxSizeMB: maxSizeMB,
		logger:    logger.WithPrefix("upload"),
	}
}

// Handle processes the upload request
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	requestName := c.FormValue("name")
	if requestName == "" {
		requestName = "untitled"
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	if !transcription.ValidateAudioFormat(file.Filename) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.tempDir, jobID+filepath.Ext(file.Filename))

	if err := c.SaveFile(file, tempPath); err != nil {
		h.logger.Error("failed to save uploaded file", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	job := queue.NewJob(jobID, requestName, types.SourceUpload, tempPath)
	if err := h.jobs.EnqueueJob(job); err != nil {
		os.Remove(tempPath)
		return queueUnavailable(c, err)
	}

	h.logger.Info("upload queued", "job", jobID, "name", requestName, "file", file.Filename, "bytes", file.Size)
	return c.JSON(fiber.Map{
		"job_id":  jobID,
		"status":  "queued",
		"message": "File uploaded successfully, processing started",
	})
}

func queueUnavailable(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": err.Error(),
		"code":  "ERR_QUEUE_UNAVAILABLE",
	})
}
