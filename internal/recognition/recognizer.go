package recognition

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/codebuildervaibhav/speaker-transcription/internal/audio"
)

// ErrSilenceTimeout is the provider's "no audio for too long" failure.
// Streams failing with it are reopened transparently.
var ErrSilenceTimeout = errors.New("recognition stream audio timeout")

// StreamConfig is the per-stream recognition setup.
type StreamConfig struct {
	Encoding                 string
	SampleRateHertz          int
	Channels                 int
	LanguageCode             string
	AlternativeLanguageCodes []string
	MinSpeakers              int
	MaxSpeakers              int
	Model                    string
	UseEnhanced              bool
	InterimResults           bool
}

// WithSampleRate returns a copy of c using rate.
func (c StreamConfig) WithSampleRate(rate int) StreamConfig {
	if rate > 0 {
		c.SampleRateHertz = rate
	}
	return c
}

// Word is one recognized word. SpeakerLabel is empty when the provider did
// not attribute it.
type Word struct {
	Text         string
	SpeakerLabel string
	Start        time.Duration
	End          time.Duration
	Confidence   float32
}

// Alternative is one hypothesis for a result.
type Alternative struct {
	Transcript string
	Confidence float32
	Words      []Word
}

// Result is one recognition result, most likely alternative first.
type Result struct {
	Alternatives []Alternative
	IsFinal      bool
	LanguageCode string
}

// Response is one message received from a provider stream.
type Response struct {
	Results []Result
}

// Stream is an open bidirectional recognition call. Send and Recv may be
// used from different goroutines.
type Stream interface {
	Send(chunk []byte) error
	CloseSend() error
	// Recv returns io.EOF once the provider has flushed everything.
	Recv() (*Response, error)
}

// Recognizer opens streaming recognition calls.
type Recognizer interface {
	OpenStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// AudioRef points at audio for batch recognition: a storage URI when the
// audio was uploaded, otherwise a local file read inline.
type AudioRef struct {
	URI  string
	Path string
}

// BatchRecognizer transcribes a complete file.
type BatchRecognizer interface {
	RecognizeFile(ctx context.Context, ref AudioRef) ([]Result, error)
}

// AudioSource is where a bridge pulls audio from.
type AudioSource interface {
	Poll(timeout time.Duration) (audio.Item, bool)
}

// IsSilenceTimeout reports whether err is the provider's silence timeout.
func IsSilenceTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSilenceTimeout) {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.OutOfRange {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Audio Timeout") || strings.Contains(msg, "OUT_OF_RANGE")
}
