package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// DefaultPollInterval is how long the sender waits on an empty queue before
// checking for cancellation again.
const DefaultPollInterval = time.Second

// DefaultRetryDelay is the pause before reopening a stream that timed out.
const DefaultRetryDelay = 250 * time.Millisecond

// State is a bridge worker's position in its lifecycle.
type State int32

const (
	StateNegotiating State = iota
	StateStreaming
	StateDraining
	StateRetrying
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateRetrying:
		return "retrying"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// errProviderClosed means the provider ended the stream before the end marker.
var errProviderClosed = errors.New("recognition stream closed by provider before end of audio")

// Bridge keeps one provider stream alive for an activation, feeding it from
// Source and turning its responses into transcript events. After a silence
// timeout it waits RetryDelay before opening the next stream.
type Bridge struct {
	Recognizer   Recognizer
	Config       StreamConfig
	Source       AudioSource
	PollInterval time.Duration
	RetryDelay   time.Duration
	Logger       *log.Logger

	// OnEvent receives every transcript event in provider order.
	OnEvent func(types.TranscriptEvent)
	// OnError receives the error that terminated the bridge, if any.
	OnError func(error)

	Now func() time.Time

	state   atomic.Int32
	opens   atomic.Int32
	pending []byte
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Opens returns how many provider streams have been opened.
func (b *Bridge) Opens() int {
	return int(b.opens.Load())
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
}

// Run drives the bridge until the end marker is drained, ctx is cancelled,
// or the provider fails with a non-retryable error.
func (b *Bridge) Run(ctx context.Context) error {
	if b.PollInterval <= 0 {
		b.PollInterval = DefaultPollInterval
	}
	if b.RetryDelay <= 0 {
		b.RetryDelay = DefaultRetryDelay
	}
	if b.Now == nil {
		b.Now = time.Now
	}
	if b.Logger == nil {
		b.Logger = log.Default()
	}

	b.setState(StateNegotiating)
	for {
		switch b.State() {
		case StateNegotiating:
			ended, err := b.attempt(ctx)
			switch {
			case ctx.Err() != nil:
				b.setState(StateTerminated)
				b.Logger.Debug("recognition cancelled", "opens", b.Opens())
				return ctx.Err()
			case err == nil:
				b.setState(StateTerminated)
				b.Logger.Info("recognition stream closed", "opens", b.Opens())
				return nil
			case IsSilenceTimeout(err) && ended:
				b.setState(StateTerminated)
				b.Logger.Warn("recognition stream timed out while draining", "error", err)
				return nil
			case IsSilenceTimeout(err):
				b.setState(StateRetrying)
			default:
				b.setState(StateTerminated)
				b.Logger.Error("recognition failed", "error", err)
				if b.OnError != nil {
					b.OnError(err)
				}
				return err
			}

		case StateRetrying:
			b.Logger.Info("restarting recognition stream after silence timeout", "delay", b.RetryDelay)
			select {
			case <-ctx.Done():
				b.setState(StateTerminated)
				return ctx.Err()
			case <-time.After(b.RetryDelay):
			}
			b.setState(StateNegotiating)

		default:
			return nil
		}
	}
}

// attempt opens one provider stream and pumps it until it ends. ended
// reports whether the end marker was consumed.
func (b *Bridge) attempt(ctx context.Context) (ended bool, err error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The stream lives on the group context so a failure on either side
	// also aborts the other side's blocking call.
	g, gctx := errgroup.WithContext(streamCtx)

	b.opens.Add(1)
	stream, err := b.Recognizer.OpenStream(gctx, b.Config)
	if err != nil {
		return false, fmt.Errorf("open recognition stream: %w", err)
	}
	b.setState(StateStreaming)
	b.Logger.Debug("recognition stream active", "sample_rate", b.Config.SampleRateHertz, "attempt", b.Opens())

	var sawEnd atomic.Bool
	g.Go(func() error {
		return b.pump(gctx, stream, &sawEnd)
	})
	g.Go(func() error {
		return b.receive(gctx, stream, &sawEnd)
	})
	err = g.Wait()
	return sawEnd.Load(), err
}

// pump moves audio from the source into the stream. A chunk the stream
// refused is kept for the next stream.
func (b *Bridge) pump(ctx context.Context, stream Stream, sawEnd *atomic.Bool) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		chunk := b.pending
		if chunk == nil {
			item, ok := b.Source.Poll(b.PollInterval)
			if !ok {
				continue
			}
			if item.End {
				sawEnd.Store(true)
				b.setState(StateDraining)
				if err := stream.CloseSend(); err != nil {
					return fmt.Errorf("close recognition send side: %w", err)
				}
				return nil
			}
			if len(item.Chunk) == 0 {
				continue
			}
			chunk = item.Chunk
		}

		if err := stream.Send(chunk); err != nil {
			// The receive side surfaces the stream's actual failure.
			b.pending = chunk
			return nil
		}
		b.pending = nil
	}
}

func (b *Bridge) receive(ctx context.Context, stream Stream, sawEnd *atomic.Bool) error {
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			if sawEnd.Load() {
				return nil
			}
			return errProviderClosed
		}
		if err != nil {
			return err
		}
		b.dispatch(ctx, resp)
	}
}

// dispatch turns one response into events. A panic while handling it is
// logged and the stream carries on.
func (b *Bridge) dispatch(ctx context.Context, resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger.Error("failed to handle recognition response", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if resp == nil {
		return
	}
	for _, res := range resp.Results {
		if len(res.Alternatives) == 0 {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		ev := b.event(res)
		if b.OnEvent != nil {
			b.OnEvent(ev)
		}
	}
}

func (b *Bridge) event(res Result) types.TranscriptEvent {
	alt := res.Alternatives[0]

	lang := res.LanguageCode
	if lang == "" {
		lang = b.Config.LanguageCode
	}

	ev := types.TranscriptEvent{
		Text:         alt.Transcript,
		Final:        res.IsFinal,
		Speaker:      DominantSpeaker(alt.Words),
		Language:     lang,
		LanguageName: LanguageName(lang),
		Timestamp:    b.Now().UTC(),
	}
	if res.IsFinal {
		c := alt.Confidence
		ev.Confidence = &c
	}
	return ev
}
