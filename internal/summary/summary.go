// Package summary condenses a speaker-attributed transcript with a chat model.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/sashabaranov/go-openai"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// NoTranscription is the summary given for an empty transcript.
const NoTranscription = "No transcription available"

const (
	systemPrompt = "You are a helpful assistant that summarizes conversations. Provide a concise brief summary and extract 3-5 key points."
	userPrompt   = "Summarize this conversation:\n\n%s\n\nProvide:\n1. A brief summary (2-3 sentences)\n2. Key points (3-5 bullet points)"
)

// ErrNotConfigured is reported when no API key was provided.
var ErrNotConfigured = errors.New("summarization is not configured")

// Entry is one speaker turn handed to the summarizer.
type Entry struct {
	Speaker string
	Text    string
}

// Summarizer produces a summary. Failures are carried in Summary.Error.
type Summarizer interface {
	Summarize(ctx context.Context, entries []Entry) types.Summary
}

// FromLines adapts session transcript lines.
func FromLines(lines []types.TranscriptLine) []Entry {
	out := make([]Entry, 0, len(lines))
	for _, l := range lines {
		out = append(out, Entry{Speaker: l.Speaker, Text: l.Text})
	}
	return out
}

// FromTurns adapts diarized turns.
func FromTurns(turns []types.Turn) []Entry {
	out := make([]Entry, 0, len(turns))
	for _, t := range turns {
		out = append(out, Entry{Speaker: t.Speaker, Text: t.Text})
	}
	return out
}

// Empty is the summary for a transcript with nothing in it.
func Empty() types.Summary {
	text := NoTranscription
	return types.Summary{Text: &text, KeyPoints: []string{}}
}

// Failed wraps err as a summary.
func Failed(err error) types.Summary {
	msg := err.Error()
	return types.Summary{Error: &msg}
}

// Config configures the OpenAI summarizer.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAI summarizes through the chat completions API.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *log.Logger
}

// NewOpenAI builds a summarizer. An empty API key yields ErrNotConfigured.
func NewOpenAI(cfg Config, logger *log.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

// Summarize asks the model for a brief summary of entries.
func (s *OpenAI) Summarize(ctx context.Context, entries []Entry) types.Summary {
	if len(entries) == 0 {
		return Empty()
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(userPrompt, render(entries))},
		},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		s.logger.Error("summary generation failed", "error", err)
		return Failed(err)
	}
	if len(resp.Choices) == 0 {
		s.logger.Error("summary generation returned no choices")
		return Failed(errors.New("summary model returned no choices"))
	}

	text := resp.Choices[0].Message.Content
	s.logger.Info("summary generated", "chars", len(text))
	return types.Summary{Text: &text}
}

// Unavailable answers every request with a fixed error, except that empty
// transcripts still get the empty summary.
type Unavailable struct {
	Err error
}

func (u Unavailable) Summarize(_ context.Context, entries []Entry) types.Summary {
	if len(entries) == 0 {
		return Empty()
	}
	err := u.Err
	if err == nil {
		err = ErrNotConfigured
	}
	return Failed(err)
}

func render(entries []Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.Speaker)
		sb.WriteString(": ")
		sb.WriteString(e.Text)
	}
	return sb.String()
}
