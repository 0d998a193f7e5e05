package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/codebuildervaibhav/speaker-transcription/internal/recognition"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/summary"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

const (
	defaultQueueSize = 100
	driveAttempts    = 3
)

var (
	// ErrPoolFull is returned when the job buffer is full.
	ErrPoolFull = errors.New("job queue is full")
	// ErrPoolStopped is returned after Stop.
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// TranscriptSaver writes a finished transcript and returns where it went.
type TranscriptSaver interface {
	SaveTranscript(requestName string, result *types.TranscriptionResult) (string, error)
}

// Archiver copies a finished transcript somewhere durable and returns a link.
type Archiver interface {
	Upload(ctx context.Context, requestName string, result *types.TranscriptionResult) (string, error)
}

// JobStore tracks job state.
type JobStore interface {
	CreateJob(jobID, requestName, sourceType string) error
	MarkProcessing(jobID string) error
	MarkFailed(jobID, reason string) error
	SaveTranscript(requestName, sourceType string, result *types.TranscriptionResult) error
}

// Deps are the pool's collaborators. Objects, Drive and DB are optional and
// must be left nil, not typed nil, when absent.
type Deps struct {
	Transcoder    transcription.Transcoder
	Recognizer    recognition.BatchRecognizer
	Summarizer    summary.Summarizer
	Local         TranscriptSaver
	Objects       storage.ObjectStore
	ObjectPrefix  string
	DeleteObjects bool
	Drive         Archiver
	DB            JobStore
	BatchTimeout  time.Duration
	Logger        *log.Logger
}

// WorkerPool manages a pool of workers processing post-processing jobs
type WorkerPool struct {
	deps        Deps
	workerCount int
	logger      *log.Logger
	backoff     func(attempt int) time.Duration

	mu       sync.RWMutex
	jobQueue chan *Job
	stopped  bool
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workerCount int, deps Deps) *WorkerPool {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &WorkerPool{
		deps:        deps,
		workerCount: workerCount,
		logger:      logger.WithPrefix("queue"),
		backoff:     func(attempt int) time.Duration { return time.Duration(attempt*attempt) * time.Second },
		jobQueue:    make(chan *Job, defaultQueueSize),
	}
}

// Start launches the workers. Jobs run under ctx.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.logger.Info("starting worker pool", "workers", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go func(id int) {
			defer wp.wg.Done()
			wp.worker(ctx, id)
		}(i)
	}
}

// Stop stops accepting jobs and waits for queued ones to finish.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		close(wp.jobQueue)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
}

// EnqueueJob adds a job to the queue without blocking.
func (wp *WorkerPool) EnqueueJob(job *Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrPoolStopped
	}

	job.Status = types.StatusQueued
	job.CreatedAt = time.Now()

	if wp.deps.DB != nil {
		if err := wp.deps.DB.CreateJob(job.ID, job.RequestName, job.SourceType); err != nil {
			wp.logger.Warn("failed to record job", "job", job.ID, "error", err)
		}
	}

	select {
	case wp.jobQueue <- job:
	default:
		if wp.deps.DB != nil {
			wp.deps.DB.MarkFailed(job.ID, ErrPoolFull.Error())
		}
		return ErrPoolFull
	}
	wp.logger.Info("job enqueued", "job", job.ID, "source", job.SourceType, "name", job.RequestName)
	return nil
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	logger := wp.logger.With("worker", id)
	logger.Debug("worker started")

	for job := range wp.jobQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic processing job", "job", job.ID, "panic", r, "stack", string(debug.Stack()))
					wp.fail(job, fmt.Errorf("worker panic: %v", r))
				}
			}()
			wp.processJob(ctx, logger, job)
		}()
	}
}

// processJob runs the complete post-processing pipeline for one job.
func (wp *WorkerPool) processJob(ctx context.Context, logger *log.Logger, job *Job) {
	logger = logger.With("job", job.ID)
	logger.Info("processing job", "source", job.SourceType, "file", job.FilePath)
	job.Status = types.StatusProcessing
	if wp.deps.DB != nil {
		if err := wp.deps.DB.MarkProcessing(job.ID); err != nil {
			logger.Warn("failed to mark job processing", "error", err)
		}
	}

	// Step 1: normalise to mono 16 kHz FLAC
	flacPath, err := wp.deps.Transcoder.ToFLAC(ctx, transcription.Input{
		Path:       job.FilePath,
		Raw:        job.Raw,
		SampleRate: job.SampleRate,
	})
	if err != nil {
		wp.fail(job, fmt.Errorf("audio conversion failed: %w", err))
		return
	}
	defer wp.removeFile(flacPath)

	// Step 2: upload for recognition
	ref := recognition.AudioRef{Path: flacPath}
	if wp.deps.Objects != nil {
		uri, err := wp.deps.Objects.Put(ctx, storage.ObjectKey(wp.deps.ObjectPrefix, job.ID, flacPath), flacPath)
		if err != nil {
			wp.fail(job, fmt.Errorf("upload failed: %w", err))
			return
		}
		ref.URI = uri
		logger.Info("uploaded audio", "uri", uri)
		// A failed or panicking job never leaves its upload behind.
		defer func() {
			if wp.deps.DeleteObjects || job.Status != types.StatusCompleted {
				wp.deleteObject(logger, uri)
			}
		}()
	}

	// Step 3: batch recognition
	recCtx := ctx
	if wp.deps.BatchTimeout > 0 {
		var cancel context.CancelFunc
		recCtx, cancel = context.WithTimeout(ctx, wp.deps.BatchTimeout)
		defer cancel()
	}
	results, err := wp.deps.Recognizer.RecognizeFile(recCtx, ref)
	if err != nil {
		wp.fail(job, fmt.Errorf("transcription failed: %w", err))
		return
	}

	// Step 4: speaker turns and summary
	turns := transcription.GroupResults(results)
	result := &types.TranscriptionResult{
		JobID:       job.ID,
		Turns:       turns,
		Language:    transcription.DominantLanguage(turns),
		WordCount:   transcription.WordCount(turns),
		ProcessedAt: time.Now(),
		ObjectURI:   ref.URI,
	}
	result.Summary = wp.deps.Summarizer.Summarize(ctx, summary.FromTurns(turns))
	logger.Info("transcription complete", "turns", len(turns), "words", result.WordCount)

	// Step 5: persist
	localPath, err := wp.deps.Local.SaveTranscript(job.RequestName, result)
	if err != nil {
		wp.fail(job, fmt.Errorf("local save failed: %w", err))
		return
	}
	result.LocalPath = localPath

	if wp.deps.Drive != nil {
		result.GDriveURL = wp.archive(ctx, logger, job, result)
	}

	if wp.deps.DB != nil {
		if err := wp.deps.DB.SaveTranscript(job.RequestName, job.SourceType, result); err != nil {
			logger.Error("database save failed", "error", err)
		}
	}

	// Step 6: cleanup and notify
	if !job.KeepSource {
		wp.removeFile(job.FilePath)
	}
	job.Status = types.StatusCompleted
	job.Result = result
	logger.Info("job completed", "local", localPath, "gdrive", result.GDriveURL)
	wp.notify(job, result, nil)
}

// archive uploads to Drive with retries. Failure only costs the link.
func (wp *WorkerPool) archive(ctx context.Context, logger *log.Logger, job *Job, result *types.TranscriptionResult) string {
	var err error
	for attempt := 1; attempt <= driveAttempts; attempt++ {
		var url string
		url, err = wp.deps.Drive.Upload(ctx, job.RequestName, result)
		if err == nil {
			return url
		}
		logger.Warn("google drive upload failed", "attempt", attempt, "of", driveAttempts, "error", err)
		if attempt < driveAttempts {
			select {
			case <-time.After(wp.backoff(attempt)):
			case <-ctx.Done():
				return ""
			}
		}
	}
	logger.Warn("google drive upload gave up, transcript saved locally only", "error", err)
	return ""
}

func (wp *WorkerPool) fail(job *Job, err error) {
	wp.logger.Error("job failed", "job", job.ID, "error", err)
	job.Status = types.StatusFailed
	job.Error = err
	if wp.deps.DB != nil {
		if dbErr := wp.deps.DB.MarkFailed(job.ID, err.Error()); dbErr != nil {
			wp.logger.Warn("failed to record job failure", "job", job.ID, "error", dbErr)
		}
	}
	if !job.KeepSource {
		wp.removeFile(job.FilePath)
	}
	wp.notify(job, nil, err)
}

func (wp *WorkerPool) notify(job *Job, result *types.TranscriptionResult, err error) {
	if job.Notify == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("job callback panicked", "job", job.ID, "panic", r)
		}
	}()
	job.Notify(result, err)
}

func (wp *WorkerPool) deleteObject(logger *log.Logger, uri string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := wp.deps.Objects.Delete(ctx, uri); err != nil {
		logger.Warn("object cleanup failed", "uri", uri, "error", err)
		return
	}
	logger.Debug("deleted uploaded object", "uri", uri)
}

// removeFile removes a temporary file
func (wp *WorkerPool) removeFile(filePath string) {
	if filePath == "" {
		return
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		wp.logger.Warn("failed to clean up file", "path", filePath, "error", err)
	}
}
