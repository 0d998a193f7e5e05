package recognition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1p1beta1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestBuildRecognitionConfig(t *testing.T) {
	cfg := StreamConfig{
		Encoding:                 "linear16",
		SampleRateHertz:          48000,
		Channels:                 1,
		LanguageCode:             "en-US",
		AlternativeLanguageCodes: []string{"ja-JP"},
		MinSpeakers:              2,
		MaxSpeakers:              2,
		Model:                    "default",
		UseEnhanced:              true,
	}
	rc := buildRecognitionConfig(cfg)

	if rc.GetEncoding() != speechpb.RecognitionConfig_LINEAR16 {
		t.Errorf("Encoding = %v", rc.GetEncoding())
	}
	if rc.GetSampleRateHertz() != 48000 || rc.GetAudioChannelCount() != 1 {
		t.Errorf("rate/channels = %d/%d", rc.GetSampleRateHertz(), rc.GetAudioChannelCount())
	}
	if rc.GetLanguageCode() != "en-US" || len(rc.GetAlternativeLanguageCodes()) != 1 {
		t.Errorf("languages = %q %v", rc.GetLanguageCode(), rc.GetAlternativeLanguageCodes())
	}
	d := rc.GetDiarizationConfig()
	if d == nil || !d.GetEnableSpeakerDiarization() || d.GetMinSpeakerCount() != 2 || d.GetMaxSpeakerCount() != 2 {
		t.Errorf("DiarizationConfig = %v", d)
	}
	if !rc.GetUseEnhanced() || rc.GetModel() != "default" {
		t.Errorf("model = %q enhanced = %v", rc.GetModel(), rc.GetUseEnhanced())
	}
	if !rc.GetEnableWordConfidence() || !rc.GetEnableWordTimeOffsets() {
		t.Errorf("word confidence = %v time offsets = %v", rc.GetEnableWordConfidence(), rc.GetEnableWordTimeOffsets())
	}

	// Diarization stays on without configured speaker counts.
	d = buildRecognitionConfig(StreamConfig{Encoding: "FLAC"}).GetDiarizationConfig()
	if d == nil || !d.GetEnableSpeakerDiarization() {
		t.Fatalf("DiarizationConfig = %v, want enabled", d)
	}
	if d.GetMinSpeakerCount() != 0 || d.GetMaxSpeakerCount() != 0 {
		t.Errorf("speaker counts = %d/%d, want unset", d.GetMinSpeakerCount(), d.GetMaxSpeakerCount())
	}
}

func TestConvertBatchResultsAttributesCumulativeWords(t *testing.T) {
	word := func(text string, tag int32) *speechpb.WordInfo {
		return &speechpb.WordInfo{Word: text, SpeakerTag: tag, StartTime: durationpb.New(0), EndTime: durationpb.New(0)}
	}
	result := func(transcript string, words ...*speechpb.WordInfo) *speechpb.SpeechRecognitionResult {
		return &speechpb.SpeechRecognitionResult{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: transcript, Words: words}},
			LanguageCode: "en-us",
		}
	}

	tests := []struct {
		name string
		in   []*speechpb.SpeechRecognitionResult
		want [][]string // text/label per word, per result
	}{
		{
			name: "last result repeats every word",
			in: []*speechpb.SpeechRecognitionResult{
				result("hi there", word("hi", 0), word("there", 0)),
				result("ok", word("hi", 1), word("there", 1), word("ok", 2)),
			},
			want: [][]string{{"hi/1", "there/1"}, {"ok/2"}},
		},
		{
			name: "trailing result holds only tags",
			in: []*speechpb.SpeechRecognitionResult{
				result("hi there", word("hi", 0), word("there", 0)),
				result("ok", word("ok", 0)),
				result("", word("hi", 1), word("there", 1), word("ok", 2)),
			},
			want: [][]string{{"hi/1", "there/1"}, {"ok/2"}},
		},
		{
			name: "untagged results are left alone",
			in: []*speechpb.SpeechRecognitionResult{
				result("hi there", word("hi", 0), word("there", 0)),
				result("ok", word("ok", 0)),
			},
			want: [][]string{{"hi/", "there/"}, {"ok/"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertBatchResults(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.want))
			}
			for i, res := range got {
				var words []string
				for _, w := range res.Alternatives[0].Words {
					words = append(words, w.Text+"/"+w.SpeakerLabel)
				}
				if fmt.Sprint(words) != fmt.Sprint(tt.want[i]) {
					t.Errorf("result %d words = %v, want %v", i, words, tt.want[i])
				}
				if !res.IsFinal {
					t.Errorf("result %d not final", i)
				}
			}
		})
	}
}

func TestParseEncoding(t *testing.T) {
	tests := map[string]speechpb.RecognitionConfig_AudioEncoding{
		"LINEAR16": speechpb.RecognitionConfig_LINEAR16,
		"flac":     speechpb.RecognitionConfig_FLAC,
		"bogus":    speechpb.RecognitionConfig_LINEAR16,
		"":         speechpb.RecognitionConfig_LINEAR16,
	}
	for in, want := range tests {
		if got := parseEncoding(in); got != want {
			t.Errorf("parseEncoding(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConvertStreamingResponse(t *testing.T) {
	resp := &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			IsFinal:      true,
			LanguageCode: "en-us",
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{
				Transcript: "hi there",
				Confidence: 0.75,
				Words: []*speechpb.WordInfo{
					{Word: "hi", SpeakerTag: 1, StartTime: durationpb.New(500 * time.Millisecond), EndTime: durationpb.New(time.Second)},
					{Word: "there", SpeakerTag: 0},
				},
			}},
		}},
	}

	got := convertStreamingResponse(resp)
	if len(got.Results) != 1 {
		t.Fatalf("got %d results", len(got.Results))
	}
	res := got.Results[0]
	if !res.IsFinal || res.LanguageCode != "en-us" {
		t.Errorf("result = %+v", res)
	}
	alt := res.Alternatives[0]
	if alt.Transcript != "hi there" || alt.Confidence != 0.75 {
		t.Errorf("alternative = %+v", alt)
	}
	if len(alt.Words) != 2 {
		t.Fatalf("got %d words", len(alt.Words))
	}
	if alt.Words[0].SpeakerLabel != "1" || alt.Words[0].Start != 500*time.Millisecond || alt.Words[0].End != time.Second {
		t.Errorf("word 0 = %+v", alt.Words[0])
	}
	if alt.Words[1].SpeakerLabel != "" {
		t.Errorf("untagged word got label %q", alt.Words[1].SpeakerLabel)
	}
}

func TestRecognitionAudio(t *testing.T) {
	a, err := recognitionAudio(AudioRef{URI: "gs://bucket/key.flac", Path: "/ignored"})
	if err != nil {
		t.Fatal(err)
	}
	if a.GetUri() != "gs://bucket/key.flac" {
		t.Errorf("Uri = %q", a.GetUri())
	}

	path := filepath.Join(t.TempDir(), "a.flac")
	if err := os.WriteFile(path, []byte("fLaC"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err = recognitionAudio(AudioRef{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if string(a.GetContent()) != "fLaC" {
		t.Errorf("Content = %q", a.GetContent())
	}

	if _, err := recognitionAudio(AudioRef{}); err == nil {
		t.Error("empty reference accepted")
	}
}

func TestIsSilenceTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrSilenceTimeout, true},
		{"wrapped sentinel", fmt.Errorf("stream: %w", ErrSilenceTimeout), true},
		{"grpc out of range", status.Error(codes.OutOfRange, "exceeded"), true},
		{"message only", errors.New("Audio Timeout Error: Long duration elapsed without audio"), true},
		{"code name in message", errors.New("rpc error: OUT_OF_RANGE"), true},
		{"permission", status.Error(codes.PermissionDenied, "denied"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSilenceTimeout(tt.err); got != tt.want {
				t.Errorf("IsSilenceTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
