package queue

import (
	"time"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// NotifyFunc receives a job's outcome: the result on success, the error on
// failure.
type NotifyFunc func(result *types.TranscriptionResult, err error)

// Job represents a post-processing job
type Job struct {
	ID          string
	RequestName string
	SourceType  string
	FilePath    string

	// Raw marks headerless 16-bit PCM at SampleRate, as written by the
	// stream chunk log.
	Raw        bool
	SampleRate int

	// KeepSource leaves FilePath on disk after the job.
	KeepSource bool

	Notify NotifyFunc

	Status    string
	Error     error
	Result    *types.TranscriptionResult
	CreatedAt time.Time
}

// NewJob creates a new job with default values
func NewJob(id, requestName, sourceType, filePath string) *Job {
	return &Job{
		ID:          id,
		RequestName: requestName,
		SourceType:  sourceType,
		FilePath:    filePath,
		Status:      types.StatusQueued,
		CreatedAt:   time.Now(),
	}
}

// NewRecordingJob creates a job for a session chunk log. The log is kept.
func NewRecordingJob(id, sessionID, logPath string, sampleRate int, notify NotifyFunc) *Job {
	job := NewJob(id, "stream_"+sessionID, types.SourceStream, logPath)
	job.Raw = true
	job.SampleRate = sampleRate
	job.KeepSource = true
	job.Notify = notify
	return job
}
