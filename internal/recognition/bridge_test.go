package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/codebuildervaibhav/speaker-transcription/internal/audio"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// streamScript describes how one opened fake stream behaves.
type streamScript struct {
	openErr   error
	failAfter int // fail once this many chunks were accepted; 0 never fails
	failErr   error
	responses []*Response
}

type fakeRecognizer struct {
	mu        sync.Mutex
	scripts   []streamScript
	opened    int
	delivered [][]byte
	configs   []StreamConfig
}

func (r *fakeRecognizer) OpenStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	script := streamScript{}
	if len(r.scripts) > 0 {
		idx := r.opened
		if idx >= len(r.scripts) {
			idx = len(r.scripts) - 1
		}
		script = r.scripts[idx]
	}
	r.opened++
	r.configs = append(r.configs, cfg)
	if script.openErr != nil {
		return nil, script.openErr
	}

	s := &fakeStream{
		ctx:       ctx,
		rec:       r,
		script:    script,
		failed:    make(chan struct{}),
		closed:    make(chan struct{}),
		responses: make(chan *Response, len(script.responses)),
	}
	for _, resp := range script.responses {
		s.responses <- resp
	}
	return s, nil
}

func (r *fakeRecognizer) record(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, append([]byte(nil), chunk...))
}

func (r *fakeRecognizer) deliveredChunks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.delivered))
	for i, c := range r.delivered {
		out[i] = string(c)
	}
	return out
}

type fakeStream struct {
	ctx    context.Context
	rec    *fakeRecognizer
	script streamScript

	mu         sync.Mutex
	accepted   int
	failedOnce sync.Once
	closeOnce  sync.Once
	failed     chan struct{}
	closed     chan struct{}
	responses  chan *Response
}

func (s *fakeStream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.failed:
		return errors.New("stream already failed")
	default:
	}
	s.rec.record(chunk)
	s.accepted++
	if s.script.failAfter > 0 && s.accepted >= s.script.failAfter {
		s.failedOnce.Do(func() { close(s.failed) })
	}
	return nil
}

func (s *fakeStream) CloseSend() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) Recv() (*Response, error) {
	select {
	case resp := <-s.responses:
		return resp, nil
	default:
	}
	select {
	case resp := <-s.responses:
		return resp, nil
	case <-s.failed:
		return nil, s.script.failErr
	case <-s.closed:
		return nil, io.EOF
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func queueWith(t *testing.T, chunks ...string) *audio.TransferQueue {
	t.Helper()
	q := audio.NewTransferQueue(len(chunks) + 1)
	for _, c := range chunks {
		if err := q.Put([]byte(c)); err != nil {
			t.Fatalf("Put(%q): %v", c, err)
		}
	}
	q.Finish()
	return q
}

func newTestBridge(rec Recognizer, src AudioSource) *Bridge {
	return &Bridge{
		Recognizer:   rec,
		Config:       StreamConfig{Encoding: "LINEAR16", SampleRateHertz: 16000, LanguageCode: "en-US"},
		Source:       src,
		PollInterval: 5 * time.Millisecond,
		RetryDelay:   time.Millisecond,
		Logger:       log.New(io.Discard),
	}
}

func TestBridgeRetriesSilenceTimeoutWithoutLosingAudio(t *testing.T) {
	timeout := status.Error(codes.OutOfRange, "Audio Timeout Error: Long duration elapsed without audio.")
	rec := &fakeRecognizer{scripts: []streamScript{
		{failAfter: 3, failErr: timeout},
		{failAfter: 3, failErr: timeout},
		{},
	}}

	var want []string
	for i := 0; i < 9; i++ {
		want = append(want, fmt.Sprintf("chunk-%d", i))
	}
	b := newTestBridge(rec, queueWith(t, want...))

	var errs []error
	b.OnError = func(err error) { errs = append(errs, err) }

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if got := b.Opens(); got != 3 {
		t.Errorf("Opens() = %d, want 3", got)
	}
	if len(errs) != 0 {
		t.Errorf("OnError called with %v", errs)
	}
	if b.State() != StateTerminated {
		t.Errorf("State() = %v, want terminated", b.State())
	}

	got := rec.deliveredChunks()
	if len(got) != len(want) {
		t.Fatalf("delivered %d chunks %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBridgeFatalErrorIsReported(t *testing.T) {
	fatal := status.Error(codes.PermissionDenied, "credentials rejected")
	rec := &fakeRecognizer{scripts: []streamScript{{failAfter: 1, failErr: fatal}}}
	b := newTestBridge(rec, queueWith(t, "a", "b", "c"))

	var reported error
	b.OnError = func(err error) { reported = err }

	err := b.Run(context.Background())
	if err == nil {
		t.Fatal("Run() = nil, want error")
	}
	if status.Code(reported) != codes.PermissionDenied {
		t.Errorf("OnError got %v, want PermissionDenied", reported)
	}
	if b.Opens() != 1 {
		t.Errorf("Opens() = %d, want 1", b.Opens())
	}
}

func TestBridgeOpenFailure(t *testing.T) {
	rec := &fakeRecognizer{scripts: []streamScript{{openErr: errors.New("dial failed")}}}
	b := newTestBridge(rec, queueWith(t))

	var reported error
	b.OnError = func(err error) { reported = err }

	if err := b.Run(context.Background()); err == nil {
		t.Fatal("Run() = nil, want error")
	}
	if reported == nil {
		t.Error("OnError not called")
	}
}

func TestBridgeWaitsBetweenSilenceRetries(t *testing.T) {
	timeout := status.Error(codes.OutOfRange, "Audio Timeout Error: Long duration elapsed without audio.")
	rec := &fakeRecognizer{scripts: []streamScript{{openErr: timeout}}}
	b := newTestBridge(rec, audio.NewTransferQueue(4))
	b.RetryDelay = 40 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := b.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want context.DeadlineExceeded", err)
	}
	if got := b.Opens(); got < 2 || got > 5 {
		t.Errorf("Opens() = %d, want between 2 and 5", got)
	}
	if got := b.State(); got != StateTerminated {
		t.Errorf("State() = %v, want %v", got, StateTerminated)
	}
}

func TestBridgeProviderClosedEarly(t *testing.T) {
	rec := &fakeRecognizer{scripts: []streamScript{{failAfter: 1, failErr: io.EOF}}}
	b := newTestBridge(rec, queueWith(t, "a", "b"))

	err := b.Run(context.Background())
	if !errors.Is(err, errProviderClosed) {
		t.Errorf("Run() = %v, want errProviderClosed", err)
	}
}

func TestBridgeCancel(t *testing.T) {
	rec := &fakeRecognizer{}
	q := audio.NewTransferQueue(4)
	b := newTestBridge(rec, q)

	called := false
	b.OnError = func(error) { called = true }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if called {
		t.Error("OnError called for cancellation")
	}
}

func TestBridgeEvents(t *testing.T) {
	rec := &fakeRecognizer{scripts: []streamScript{{responses: []*Response{
		{Results: []Result{{
			Alternatives: []Alternative{{Transcript: "hel", Confidence: 0.1}},
		}}},
		{Results: []Result{{
			Alternatives: []Alternative{{
				Transcript: "hello there",
				Confidence: 0.9,
				Words: []Word{
					{Text: "hello", SpeakerLabel: "2"},
					{Text: "there", SpeakerLabel: "2"},
					{Text: "you", SpeakerLabel: "1"},
				},
			}},
			IsFinal: true,
		}}},
		{Results: []Result{{Alternatives: nil, IsFinal: true}}},
		{Results: []Result{{
			Alternatives: []Alternative{{Transcript: "こんにちは", Confidence: 0.8}},
			IsFinal:      true,
			LanguageCode: "ja-jp",
		}}},
	}}}}

	b := newTestBridge(rec, queueWith(t))
	fixed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.FixedZone("JST", 9*3600))
	b.Now = func() time.Time { return fixed }

	var events []types.TranscriptEvent
	b.OnEvent = func(ev types.TranscriptEvent) { events = append(events, ev) }

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	interim := events[0]
	if interim.Final || interim.Confidence != nil {
		t.Errorf("interim event = %+v, want non-final without confidence", interim)
	}
	if interim.Speaker != "" {
		t.Errorf("interim speaker = %q, want empty", interim.Speaker)
	}
	if interim.Language != "en-US" || interim.LanguageName != "English" {
		t.Errorf("interim language = %q/%q", interim.Language, interim.LanguageName)
	}

	final := events[1]
	if !final.Final || final.Confidence == nil || *final.Confidence != 0.9 {
		t.Errorf("final event = %+v, want final with confidence 0.9", final)
	}
	if final.Speaker != "2" {
		t.Errorf("final speaker = %q, want 2", final.Speaker)
	}
	if !final.Timestamp.Equal(fixed) || final.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v, want %v in UTC", final.Timestamp, fixed)
	}

	if events[2].LanguageName != "Japanese" {
		t.Errorf("LanguageName = %q, want Japanese", events[2].LanguageName)
	}
}

func TestBridgeRecoversFromHandlerPanic(t *testing.T) {
	resp := func(text string) *Response {
		return &Response{Results: []Result{{
			Alternatives: []Alternative{{Transcript: text}},
			IsFinal:      true,
		}}}
	}
	rec := &fakeRecognizer{scripts: []streamScript{{responses: []*Response{resp("one"), resp("two")}}}}
	b := newTestBridge(rec, queueWith(t))

	var seen []string
	b.OnEvent = func(ev types.TranscriptEvent) {
		seen = append(seen, ev.Text)
		if ev.Text == "one" {
			panic("handler exploded")
		}
	}

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(seen) != 2 || seen[1] != "two" {
		t.Errorf("seen = %v, want [one two]", seen)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNegotiating, "negotiating"},
		{StateStreaming, "streaming"},
		{StateDraining, "draining"},
		{StateRetrying, "retrying"},
		{StateTerminated, "terminated"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int32(tt.state), got, tt.want)
		}
	}
}
