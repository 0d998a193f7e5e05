package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// LocalStorage handles saving transcripts to the local filesystem
type LocalStorage struct {
	outputDir string
	now       func() time.Time
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
		now:       time.Now,
	}
}

// transcriptMeta is the _meta.json document written next to each transcript.
type transcriptMeta struct {
	JobID       string        `json:"job_id"`
	RequestName string        `json:"request_name"`
	Language    string        `json:"language"`
	WordCount   int           `json:"word_count"`
	CreatedAt   time.Time     `json:"created_at"`
	ObjectURI   string        `json:"object_uri,omitempty"`
	LocalPath   string        `json:"local_path,omitempty"`
	GDriveURL   string        `json:"gdrive_url,omitempty"`
	Turns       []types.Turn  `json:"turns"`
	Summary     types.Summary `json:"summary"`
}

func newTranscriptMeta(requestName string, result *types.TranscriptionResult) transcriptMeta {
	turns := result.Turns
	if turns == nil {
		turns = []types.Turn{}
	}
	return transcriptMeta{
		JobID:       result.JobID,
		RequestName: requestName,
		Language:    result.Language,
		WordCount:   result.WordCount,
		CreatedAt:   result.ProcessedAt,
		ObjectURI:   result.ObjectURI,
		LocalPath:   result.LocalPath,
		GDriveURL:   result.GDriveURL,
		Turns:       turns,
		Summary:     result.Summary,
	}
}

// baseFilename is "<timestamp>_<name>", e.g. 20250123_143022_standup.
func baseFilename(t time.Time, requestName string) string {
	return fmt.Sprintf("%s_%s", t.Format("20060102_150405"), sanitizeFilename(requestName))
}

// SaveTranscript writes the transcript text and its metadata under a dated
// directory and returns the text file's path.
func (ls *LocalStorage) SaveTranscript(requestName string, result *types.TranscriptionResult) (string, error) {
	now := ls.now()
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}

	base := baseFilename(now, requestName)
	txtPath := filepath.Join(dateDir, base+".txt")
	metaPath := filepath.Join(dateDir, base+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(result.Text()), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	meta := newTranscriptMeta(requestName, result)
	meta.LocalPath = txtPath
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to save metadata: %w", err)
	}

	return txtPath, nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
)

// sanitizeFilename makes name safe to use as a single path element.
func sanitizeFilename(name string) string {
	result := strings.Trim(filenameReplacer.Replace(strings.TrimSpace(name)), "._")
	if result == "" {
		result = "untitled"
	}
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}
