package types

import (
	"strings"
	"time"
)

// Job status constants
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Source type constants
const (
	SourceUpload = "upload"
	SourceGDrive = "gdrive"
	SourceStream = "stream"
)

// PlaceholderSpeaker labels text with no speaker attribution.
const PlaceholderSpeaker = "Speaker"

// TranscriptEvent is one recognition hypothesis relayed to the client.
type TranscriptEvent struct {
	Text         string
	Final        bool
	Speaker      string // empty when no word carried a speaker label
	Language     string
	LanguageName string
	Confidence   *float32 // set only for final results
	Timestamp    time.Time
}

// TranscriptLine is a finalized speaker turn kept on the session.
type TranscriptLine struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is a contiguous block of text attributed to one speaker.
type Turn struct {
	ID        int      `json:"id"`
	Speaker   string   `json:"speaker"`
	Text      string   `json:"text"`
	Language  string   `json:"language,omitempty"`
	StartTime *float64 `json:"start_time,omitempty"`
}

// Stats is the per-session accounting snapshot.
type Stats struct {
	SessionID       string  `json:"session_id"`
	ChunksReceived  int     `json:"chunks_received"`
	TotalBytes      int64   `json:"total_bytes"`
	TotalMB         float64 `json:"total_mb"`
	DurationSeconds float64 `json:"duration_seconds"`
	FilePath        string  `json:"filepath"`
	TranscriptLines int     `json:"transcript_lines"`
}

// Summary is the summarizer's answer. KeyPoints is emitted only when non-nil.
type Summary struct {
	Text      *string  `json:"summary"`
	KeyPoints []string `json:"key_points,omitzero"`
	Error     *string  `json:"error"`
}

// TranscriptionResult is the output of a post-processing job.
type TranscriptionResult struct {
	JobID       string
	Turns       []Turn
	Summary     Summary
	Language    string
	WordCount   int
	ProcessedAt time.Time
	ObjectURI   string
	LocalPath   string
	GDriveURL   string
}

// Text renders the turns as "Speaker: text" lines.
func (r *TranscriptionResult) Text() string {
	var sb strings.Builder
	for i, t := range r.Turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(t.Speaker)
		sb.WriteString(": ")
		sb.WriteString(t.Text)
	}
	return sb.String()
}
