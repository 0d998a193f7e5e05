package transcription

import (
	"strings"

	"github.com/codebuildervaibhav/speaker-transcription/internal/recognition"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// LineSink receives finalized transcript lines.
type LineSink interface {
	AddTranscriptLine(types.TranscriptLine)
}

// Incremental turns live recognition events into transcript lines.
type Incremental struct {
	sink LineSink
}

// NewIncremental returns an aggregator appending to sink.
func NewIncremental(sink LineSink) *Incremental {
	return &Incremental{sink: sink}
}

// Observe records ev if it is final and carries text. It reports whether a
// line was appended.
func (a *Incremental) Observe(ev types.TranscriptEvent) bool {
	if !ev.Final {
		return false
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return false
	}
	a.sink.AddTranscriptLine(types.TranscriptLine{
		Speaker:   recognition.SpeakerName(ev.Speaker),
		Text:      text,
		Language:  ev.LanguageName,
		Timestamp: ev.Timestamp,
	})
	return true
}

// LabeledWord is a word with its display speaker. An empty Speaker continues
// whatever turn is open.
type LabeledWord struct {
	Speaker  string
	Text     string
	Language string
	Start    *float64
}

// GroupWords folds words into turns, opening a new turn whenever the speaker
// changes.
func GroupWords(words []LabeledWord) []types.Turn {
	var (
		turns []types.Turn
		cur   *types.Turn
		parts []string
	)
	flush := func() {
		if cur == nil || len(parts) == 0 {
			return
		}
		cur.Text = strings.Join(parts, " ")
		cur.ID = len(turns) + 1
		turns = append(turns, *cur)
	}

	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		speaker := w.Speaker
		if speaker == "" {
			if cur != nil {
				parts = append(parts, text)
				continue
			}
			speaker = types.PlaceholderSpeaker
		}
		if cur == nil || speaker != cur.Speaker {
			flush()
			cur = &types.Turn{Speaker: speaker, Language: w.Language, StartTime: w.Start}
			parts = parts[:0]
		}
		parts = append(parts, text)
	}
	flush()
	return turns
}

// GroupResults builds turns from batch recognition output. A result with no
// speaker labels contributes its whole transcript under the placeholder.
func GroupResults(results []recognition.Result) []types.Turn {
	var words []LabeledWord
	for _, res := range results {
		if len(res.Alternatives) == 0 {
			continue
		}
		alt := res.Alternatives[0]

		if recognition.DominantSpeaker(alt.Words) == "" {
			words = append(words, LabeledWord{
				Speaker:  types.PlaceholderSpeaker,
				Text:     alt.Transcript,
				Language: res.LanguageCode,
				Start:    firstStart(alt.Words),
			})
			continue
		}

		for _, w := range alt.Words {
			lw := LabeledWord{Text: w.Text, Language: res.LanguageCode}
			if w.SpeakerLabel != "" {
				lw.Speaker = recognition.SpeakerName(w.SpeakerLabel)
			}
			start := w.Start.Seconds()
			lw.Start = &start
			words = append(words, lw)
		}
	}
	return GroupWords(words)
}

// WordCount counts whitespace-separated words across turns.
func WordCount(turns []types.Turn) int {
	n := 0
	for _, t := range turns {
		n += len(strings.Fields(t.Text))
	}
	return n
}

// DominantLanguage returns the language of the most turns, first seen on ties.
func DominantLanguage(turns []types.Turn) string {
	counts := make(map[string]int)
	best := ""
	for _, t := range turns {
		if t.Language == "" {
			continue
		}
		counts[t.Language]++
		if best == "" || counts[t.Language] > counts[best] {
			best = t.Language
		}
	}
	return best
}

func firstStart(words []recognition.Word) *float64 {
	if len(words) == 0 {
		return nil
	}
	s := words[0].Start.Seconds()
	return &s
}
