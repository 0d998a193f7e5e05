package recognition

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	speech "cloud.google.com/go/speech/apiv1p1beta1"
	"cloud.google.com/go/speech/apiv1p1beta1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"
)

// Batch audio is normalised to FLAC mono 16 kHz before recognition.
const (
	batchSampleRate = 16000
	batchEncoding   = "FLAC"
)

// GoogleOptions configures the Cloud Speech client.
type GoogleOptions struct {
	CredentialsFile string
	Endpoint        string
	// BatchConfig is used for whole-file recognition. Its sample rate and
	// encoding are overridden to match normalised audio.
	BatchConfig StreamConfig
}

// GoogleRecognizer talks to Google Cloud Speech-to-Text.
type GoogleRecognizer struct {
	client *speech.Client
	batch  StreamConfig
}

// NewGoogleRecognizer dials the speech service.
func NewGoogleRecognizer(ctx context.Context, opts GoogleOptions) (*GoogleRecognizer, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	client, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleRecognizer{client: client, batch: opts.BatchConfig}, nil
}

// Close releases the underlying connection.
func (g *GoogleRecognizer) Close() error {
	return g.client.Close()
}

// OpenStream starts a streaming call and sends its configuration.
func (g *GoogleRecognizer) OpenStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	call, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}

	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         buildRecognitionConfig(cfg),
				InterimResults: cfg.InterimResults,
			},
		},
	}
	if err := call.Send(req); err != nil {
		return nil, fmt.Errorf("send streaming config: %w", err)
	}
	return &googleStream{call: call}, nil
}

// RecognizeFile runs long-running recognition on normalised audio and waits
// for the operation to finish.
func (g *GoogleRecognizer) RecognizeFile(ctx context.Context, ref AudioRef) ([]Result, error) {
	audio, err := recognitionAudio(ref)
	if err != nil {
		return nil, err
	}

	cfg := g.batch
	cfg.SampleRateHertz = batchSampleRate
	cfg.Encoding = batchEncoding
	cfg.Channels = 1

	op, err := g.client.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: buildRecognitionConfig(cfg),
		Audio:  audio,
	})
	if err != nil {
		return nil, fmt.Errorf("start recognition: %w", err)
	}

	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("recognition operation failed: %w", err)
	}

	return convertBatchResults(resp.GetResults()), nil
}

func convertBatchResults(in []*speechpb.SpeechRecognitionResult) []Result {
	results := make([]Result, 0, len(in))
	for _, r := range in {
		results = append(results, Result{
			Alternatives: convertAlternatives(r.GetAlternatives()),
			IsFinal:      true,
			LanguageCode: r.GetLanguageCode(),
		})
	}
	return attributeDiarizedWords(results)
}

// attributeDiarizedWords spreads the speaker tags of the last result over
// the earlier ones. With diarization on, the last result repeats every word
// of the audio and is the only one whose words carry tags; it keeps just
// the words past the earlier results, or is dropped when it has none.
func attributeDiarizedWords(results []Result) []Result {
	if len(results) < 2 {
		return results
	}
	last := &results[len(results)-1]
	if len(last.Alternatives) == 0 || !hasSpeakerLabels(last.Alternatives[0].Words) {
		return results
	}
	tagged := last.Alternatives[0].Words

	offset := 0
	for i := range results[:len(results)-1] {
		r := &results[i]
		if len(r.Alternatives) == 0 {
			continue
		}
		n := len(r.Alternatives[0].Words)
		if n == 0 {
			n = len(strings.Fields(r.Alternatives[0].Transcript))
		}
		if offset+n > len(tagged) {
			return results
		}
		r.Alternatives[0].Words = tagged[offset : offset+n]
		offset += n
	}
	last.Alternatives[0].Words = tagged[offset:]
	if len(last.Alternatives[0].Words) == 0 && strings.TrimSpace(last.Alternatives[0].Transcript) == "" {
		return results[:len(results)-1]
	}
	return results
}

func hasSpeakerLabels(words []Word) bool {
	for _, w := range words {
		if w.SpeakerLabel != "" {
			return true
		}
	}
	return false
}

func recognitionAudio(ref AudioRef) (*speechpb.RecognitionAudio, error) {
	if ref.URI != "" {
		return &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: ref.URI},
		}, nil
	}
	if ref.Path == "" {
		return nil, fmt.Errorf("audio reference has neither a URI nor a path")
	}
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return &speechpb.RecognitionAudio{
		AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
	}, nil
}

type googleStream struct {
	call speechpb.Speech_StreamingRecognizeClient
}

func (s *googleStream) Send(chunk []byte) error {
	return s.call.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
	})
}

func (s *googleStream) CloseSend() error {
	return s.call.CloseSend()
}

func (s *googleStream) Recv() (*Response, error) {
	resp, err := s.call.Recv()
	if err != nil {
		return nil, err
	}
	if e := resp.GetError(); e != nil && e.GetCode() != 0 {
		return nil, status.ErrorProto(e)
	}
	return convertStreamingResponse(resp), nil
}

func convertStreamingResponse(resp *speechpb.StreamingRecognizeResponse) *Response {
	out := &Response{Results: make([]Result, 0, len(resp.GetResults()))}
	for _, r := range resp.GetResults() {
		out.Results = append(out.Results, Result{
			Alternatives: convertAlternatives(r.GetAlternatives()),
			IsFinal:      r.GetIsFinal(),
			LanguageCode: r.GetLanguageCode(),
		})
	}
	return out
}

func convertAlternatives(alts []*speechpb.SpeechRecognitionAlternative) []Alternative {
	out := make([]Alternative, 0, len(alts))
	for _, a := range alts {
		alt := Alternative{
			Transcript: a.GetTranscript(),
			Confidence: a.GetConfidence(),
		}
		for _, w := range a.GetWords() {
			word := Word{
				Text:       w.GetWord(),
				Confidence: w.GetConfidence(),
			}
			if tag := w.GetSpeakerTag(); tag > 0 {
				word.SpeakerLabel = strconv.Itoa(int(tag))
			}
			if w.GetStartTime() != nil {
				word.Start = w.GetStartTime().AsDuration()
			}
			if w.GetEndTime() != nil {
				word.End = w.GetEndTime().AsDuration()
			}
			alt.Words = append(alt.Words, word)
		}
		out = append(out, alt)
	}
	return out
}

func buildRecognitionConfig(cfg StreamConfig) *speechpb.RecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseEncoding(cfg.Encoding),
		SampleRateHertz:            int32(cfg.SampleRateHertz),
		AudioChannelCount:          int32(cfg.Channels),
		LanguageCode:               cfg.LanguageCode,
		AlternativeLanguageCodes:   cfg.AlternativeLanguageCodes,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		EnableWordConfidence:       true,
		Model:                      cfg.Model,
		UseEnhanced:                cfg.UseEnhanced,
	}
	rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{EnableSpeakerDiarization: true}
	if cfg.MinSpeakers > 0 {
		rc.DiarizationConfig.MinSpeakerCount = int32(cfg.MinSpeakers)
	}
	if cfg.MaxSpeakers > 0 {
		rc.DiarizationConfig.MaxSpeakerCount = int32(cfg.MaxSpeakers)
	}
	return rc
}

func parseEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[strings.ToUpper(name)]; ok {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}
