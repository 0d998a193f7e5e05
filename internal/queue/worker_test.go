package queue

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/codebuildervaibhav/speaker-transcription/internal/recognition"
	"github.com/codebuildervaibhav/speaker-transcription/internal/summary"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

type fakeTranscoder struct {
	dir    string
	err    error
	mu     sync.Mutex
	inputs []transcription.Input
	out    string
}

func (f *fakeTranscoder) ToFLAC(_ context.Context, in transcription.Input) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return "", f.err
	}
	f.out = filepath.Join(f.dir, "normalized.flac")
	return f.out, os.WriteFile(f.out, []byte("fLaC"), 0o644)
}

type fakeBatch struct {
	results []recognition.Result
	err     error
	panics  bool
	mu      sync.Mutex
	refs    []recognition.AudioRef
}

func (f *fakeBatch) RecognizeFile(_ context.Context, ref recognition.AudioRef) ([]recognition.Result, error) {
	f.mu.Lock()
	f.refs = append(f.refs, ref)
	f.mu.Unlock()
	if f.panics {
		panic("recognizer blew up")
	}
	return f.results, f.err
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(_ context.Context, entries []summary.Entry) types.Summary {
	text := "summary of " + entries[0].Text
	return types.Summary{Text: &text}
}

type fakeSaver struct {
	dir string
}

func (f fakeSaver) SaveTranscript(name string, _ *types.TranscriptionResult) (string, error) {
	return filepath.Join(f.dir, name+".txt"), nil
}

type fakeObjects struct {
	mu      sync.Mutex
	puts    []string
	deletes []string
}

func (f *fakeObjects) Put(_ context.Context, key, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, key)
	return "gs://bucket/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, uri)
	return nil
}

type flakyDrive struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyDrive) Upload(context.Context, string, *types.TranscriptionResult) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("drive unavailable")
	}
	return "https://drive.google.com/file/d/x/view", nil
}

type fakeDB struct {
	mu       sync.Mutex
	statuses map[string]string
	saved    map[string]*types.TranscriptionResult
	reasons  map[string]string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		statuses: map[string]string{},
		saved:    map[string]*types.TranscriptionResult{},
		reasons:  map[string]string{},
	}
}

func (d *fakeDB) CreateJob(id, _, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[id] = types.StatusQueued
	return nil
}

func (d *fakeDB) MarkProcessing(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[id] = types.StatusProcessing
	return nil
}

func (d *fakeDB) MarkFailed(id, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[id] = types.StatusFailed
	d.reasons[id] = reason
	return nil
}

func (d *fakeDB) SaveTranscript(_, _ string, r *types.TranscriptionResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[r.JobID] = types.StatusCompleted
	d.saved[r.JobID] = r
	return nil
}

func (d *fakeDB) status(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statuses[id]
}

type outcome struct {
	result *types.TranscriptionResult
	err    error
}

func waitOutcome(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
		return outcome{}
	}
}

func notifyInto(ch chan<- outcome) NotifyFunc {
	return func(r *types.TranscriptionResult, err error) { ch <- outcome{r, err} }
}

func sourceFile(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "upload.mp3")
	if err := os.WriteFile(p, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func labeledResults() []recognition.Result {
	return []recognition.Result{{
		LanguageCode: "en-us",
		Alternatives: []recognition.Alternative{{
			Transcript: "hi there ok",
			Words: []recognition.Word{
				{Text: "hi", SpeakerLabel: "1"},
				{Text: "there", SpeakerLabel: "1"},
				{Text: "ok", SpeakerLabel: "2"},
			},
		}},
	}}
}

func startPool(t *testing.T, deps Deps) *WorkerPool {
	t.Helper()
	deps.Logger = log.New(io.Discard)
	if deps.Summarizer == nil {
		deps.Summarizer = fakeSummarizer{}
	}
	wp := NewWorkerPool(2, deps)
	wp.backoff = func(int) time.Duration { return 0 }
	wp.Start(context.Background())
	t.Cleanup(wp.Stop)
	return wp
}

func TestWorkerPoolProcessesJob(t *testing.T) {
	dir := t.TempDir()
	tc := &fakeTranscoder{dir: dir}
	batch := &fakeBatch{results: labeledResults()}
	objects := &fakeObjects{}
	drive := &flakyDrive{failures: 1}
	db := newFakeDB()

	wp := startPool(t, Deps{
		Transcoder:    tc,
		Recognizer:    batch,
		Local:         fakeSaver{dir: dir},
		Objects:       objects,
		ObjectPrefix:  "transcription-jobs",
		DeleteObjects: true,
		Drive:         drive,
		DB:            db,
	})

	done := make(chan outcome, 1)
	src := sourceFile(t, dir)
	job := NewJob("job-1", "meeting", types.SourceUpload, src)
	job.Notify = notifyInto(done)
	if err := wp.EnqueueJob(job); err != nil {
		t.Fatal(err)
	}

	o := waitOutcome(t, done)
	if o.err != nil {
		t.Fatalf("job error: %v", o.err)
	}
	r := o.result
	if len(r.Turns) != 2 || r.Turns[0].Text != "hi there" || r.Turns[1].Speaker != "Speaker 2" {
		t.Errorf("turns = %+v", r.Turns)
	}
	if r.WordCount != 3 || r.Language != "en-us" {
		t.Errorf("word count/language = %d/%q", r.WordCount, r.Language)
	}
	if r.Summary.Text == nil || *r.Summary.Text != "summary of hi there" {
		t.Errorf("summary = %+v", r.Summary)
	}
	if r.ObjectURI != "gs://bucket/transcription-jobs/job-1.flac" {
		t.Errorf("ObjectURI = %q", r.ObjectURI)
	}
	if r.GDriveURL == "" {
		t.Error("drive link missing after a retried upload")
	}
	if r.LocalPath != filepath.Join(dir, "meeting.txt") {
		t.Errorf("LocalPath = %q", r.LocalPath)
	}

	batch.mu.Lock()
	if len(batch.refs) != 1 || batch.refs[0].URI != r.ObjectURI {
		t.Errorf("recognizer refs = %+v", batch.refs)
	}
	batch.mu.Unlock()

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source file not removed")
	}
	if _, err := os.Stat(tc.out); !os.IsNotExist(err) {
		t.Error("normalised file not removed")
	}

	// Cleanup of the object runs after notify returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		objects.mu.Lock()
		n := len(objects.deletes)
		objects.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			if n != 1 {
				t.Errorf("object deletes = %d, want 1", n)
			}
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := db.status("job-1"); got != types.StatusCompleted {
		t.Errorf("db status = %q", got)
	}
}

func TestWorkerPoolKeepsRecordingSource(t *testing.T) {
	dir := t.TempDir()
	tc := &fakeTranscoder{dir: dir}
	wp := startPool(t, Deps{
		Transcoder: tc,
		Recognizer: &fakeBatch{results: labeledResults()},
		Local:      fakeSaver{dir: dir},
	})

	logPath := filepath.Join(dir, "recording_s1.raw")
	if err := os.WriteFile(logPath, make([]byte, 64), 0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan outcome, 1)
	if err := wp.EnqueueJob(NewRecordingJob("job-2", "s1", logPath, 16000, notifyInto(done))); err != nil {
		t.Fatal(err)
	}
	if o := waitOutcome(t, done); o.err != nil {
		t.Fatalf("job error: %v", o.err)
	}

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("chunk log removed: %v", err)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if len(tc.inputs) != 1 || !tc.inputs[0].Raw || tc.inputs[0].SampleRate != 16000 {
		t.Errorf("transcoder inputs = %+v", tc.inputs)
	}
}

func TestWorkerPoolTranscodeFailure(t *testing.T) {
	dir := t.TempDir()
	db := newFakeDB()
	wp := startPool(t, Deps{
		Transcoder: &fakeTranscoder{dir: dir, err: errors.New("ffmpeg missing")},
		Recognizer: &fakeBatch{},
		Local:      fakeSaver{dir: dir},
		DB:         db,
	})

	done := make(chan outcome, 1)
	src := sourceFile(t, dir)
	job := NewJob("job-3", "bad", types.SourceUpload, src)
	job.Notify = notifyInto(done)
	if err := wp.EnqueueJob(job); err != nil {
		t.Fatal(err)
	}

	o := waitOutcome(t, done)
	if o.err == nil || !strings.Contains(o.err.Error(), "ffmpeg missing") {
		t.Errorf("err = %v", o.err)
	}
	if o.result != nil {
		t.Error("failed job produced a result")
	}
	if got := db.status("job-3"); got != types.StatusFailed {
		t.Errorf("db status = %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source file kept after failure")
	}
}

func TestWorkerPoolRecoversPanic(t *testing.T) {
	dir := t.TempDir()
	wp := startPool(t, Deps{
		Transcoder: &fakeTranscoder{dir: dir},
		Recognizer: &fakeBatch{panics: true},
		Local:      fakeSaver{dir: dir},
	})

	done := make(chan outcome, 2)
	for _, id := range []string{"p1", "p2"} {
		job := NewJob(id, id, types.SourceUpload, sourceFile(t, dir))
		job.Notify = notifyInto(done)
		if err := wp.EnqueueJob(job); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		o := waitOutcome(t, done)
		if o.err == nil || !strings.Contains(o.err.Error(), "panic") {
			t.Errorf("err = %v, want a panic failure", o.err)
		}
	}
}

func TestWorkerPoolDeletesUploadOnFailure(t *testing.T) {
	tests := []struct {
		name        string
		batch       *fakeBatch
		wantDeletes int
	}{
		{"recognition error", &fakeBatch{err: errors.New("quota exceeded")}, 1},
		{"recognizer panic", &fakeBatch{panics: true}, 1},
		{"success keeps object", &fakeBatch{results: labeledResults()}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			objects := &fakeObjects{}
			wp := startPool(t, Deps{
				Transcoder:    &fakeTranscoder{dir: dir},
				Recognizer:    tt.batch,
				Local:         fakeSaver{dir: dir},
				Objects:       objects,
				ObjectPrefix:  "transcription-jobs",
				DeleteObjects: false,
			})

			done := make(chan outcome, 1)
			job := NewJob("job-d", "upload", types.SourceUpload, sourceFile(t, dir))
			job.Notify = notifyInto(done)
			if err := wp.EnqueueJob(job); err != nil {
				t.Fatal(err)
			}
			o := waitOutcome(t, done)
			if (o.err != nil) != (tt.wantDeletes > 0) {
				t.Errorf("err = %v", o.err)
			}

			// Stop waits for the worker, including its deferred cleanup.
			wp.Stop()
			objects.mu.Lock()
			defer objects.mu.Unlock()
			if len(objects.puts) != 1 {
				t.Fatalf("object puts = %v, want 1", objects.puts)
			}
			if len(objects.deletes) != tt.wantDeletes {
				t.Errorf("object deletes = %v, want %d", objects.deletes, tt.wantDeletes)
			}
			if tt.wantDeletes > 0 && objects.deletes[0] != "gs://bucket/transcription-jobs/job-d.flac" {
				t.Errorf("deleted %q", objects.deletes[0])
			}
		})
	}
}

func TestEnqueueFullAndStopped(t *testing.T) {
	wp := NewWorkerPool(1, Deps{Logger: log.New(io.Discard)})

	for i := 0; i < defaultQueueSize; i++ {
		if err := wp.EnqueueJob(NewJob("j", "n", types.SourceUpload, "")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := wp.EnqueueJob(NewJob("j", "n", types.SourceUpload, "")); !errors.Is(err, ErrPoolFull) {
		t.Errorf("err = %v, want ErrPoolFull", err)
	}

	// Drain without workers so Stop returns immediately.
	for len(wp.jobQueue) > 0 {
		<-wp.jobQueue
	}
	wp.Stop()
	wp.Stop()
	if err := wp.EnqueueJob(NewJob("j", "n", types.SourceUpload, "")); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("err = %v, want ErrPoolStopped", err)
	}
}
