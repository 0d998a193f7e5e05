package handlers

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/speaker-transcription/internal/queue"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

const gdriveDownloadURL = "https://drive.google.com/uc"

var (
	gdriveFilePath  = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	gdriveIDParam   = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	gdriveBareID    = regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`)
	gdriveIDPattern = []*regexp.Regexp{gdriveFilePath, gdriveIDParam, gdriveBareID}
)

// GDriveHandler handles Google Drive link processing
type GDriveHandler struct {
	jobs        JobQueue
	tempDir     string
	client      *http.Client
	downloadURL string
	logger      *log.Logger
}

// NewGDriveHandler creates a new Google Drive handler
func NewGDriveHandler(jobs JobQueue, tempDir string, client *http.Client, logger *log.Logger) *GDriveHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &GDriveHandler{
		jobs:        jobs,
		tempDir:     tempDir,
		client:      client,
		downloadURL: gdriveDownloadURL,
		logger:      logger.WithPrefix("gdrive"),
	}
}

// GDriveRequest represents the request body
type GDriveRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Handle processes Google Drive link requests
func (h *GDriveHandler) Handle(c *fiber.Ctx) error {
	var req GDriveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "URL is required",
			"code":  "ERR_NO_URL",
		})
	}

	fileID := extractGDriveFileID(req.URL)
	if fileID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid Google Drive URL",
			"code":  "ERR_INVALID_URL",
		})
	}

	if req.Name == "" {
		req.Name = "gdrive_file"
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.tempDir, jobID+".mp3")

	h.logger.Info("downloading from google drive", "file_id", fileID, "job", jobID)
	status, err := h.download(c, fileID, tempPath)
	if err != nil {
		os.Remove(tempPath)
		h.logger.Error("google drive download failed", "file_id", fileID, "error", err)
		if status == http.StatusBadRequest {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "File not accessible (may be private or doesn't exist)",
				"code":  "ERR_FILE_NOT_ACCESSIBLE",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to download file from Google Drive",
			"code":  "ERR_DOWNLOAD_FAILED",
		})
	}

	job := queue.NewJob(jobID, req.Name, types.SourceGDrive, tempPath)
	if err := h.jobs.EnqueueJob(job); err != nil {
		os.Remove(tempPath)
		return queueUnavailable(c, err)
	}

	return c.JSON(fiber.Map{
		"job_id":  jobID,
		"status":  "queued",
		"message": "Google Drive file downloaded, processing started",
	})
}

// download fetches the shared file into dst. On failure the returned status
// is 400 when Drive refused the file and 500 otherwise.
func (h *GDriveHandler) download(c *fiber.Ctx, fileID, dst string) (int, error) {
	u := h.downloadURL + "?" + url.Values{"export": {"download"}, "id": {fileID}}.Encode()
	req, err := http.NewRequestWithContext(c.UserContext(), http.MethodGet, u, nil)
	if err != nil {
		return http.StatusInternalServerError, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return http.StatusBadRequest, fmt.Errorf("drive returned %s", resp.Status)
	}

	out, err := os.Create(dst)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return http.StatusInternalServerError, fmt.Errorf("failed to write downloaded file: %w", err)
	}
	if err := out.Close(); err != nil {
		return http.StatusInternalServerError, err
	}
	return http.StatusOK, nil
}

// extractGDriveFileID extracts the file ID from the share link formats
// Drive hands out, or accepts a bare ID.
func extractGDriveFileID(link string) string {
	for _, re := range gdriveIDPattern {
		if m := re.FindStringSubmatch(link); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
