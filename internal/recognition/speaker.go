package recognition

import (
	"strings"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// DominantSpeaker picks the most frequent speaker label among words.
// Ties go to the label seen first; "" means no word was labeled.
func DominantSpeaker(words []Word) string {
	counts := make(map[string]int)
	var order []string
	for _, w := range words {
		if w.SpeakerLabel == "" {
			continue
		}
		if counts[w.SpeakerLabel] == 0 {
			order = append(order, w.SpeakerLabel)
		}
		counts[w.SpeakerLabel]++
	}

	best := ""
	for _, label := range order {
		if best == "" || counts[label] > counts[best] {
			best = label
		}
	}
	return best
}

// SpeakerName renders a label for display.
func SpeakerName(label string) string {
	if label == "" {
		return types.PlaceholderSpeaker
	}
	return types.PlaceholderSpeaker + " " + label
}

// LanguageName maps a BCP-47 tag to a display name.
func LanguageName(tag string) string {
	lower := strings.ToLower(tag)
	switch {
	case strings.HasPrefix(lower, "en"):
		return "English"
	case strings.HasPrefix(lower, "ja"):
		return "Japanese"
	default:
		return tag
	}
}
