package transcription

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Normalised output format for batch recognition.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
)

var audioExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm", ".aac", ".wma", ".raw", ".pcm"}

var videoExtensions = []string{".mp4", ".webm", ".mov", ".avi", ".mkv"}

// Input describes audio to normalise. Raw inputs are headerless 16-bit
// little-endian PCM at SampleRate.
type Input struct {
	Path       string
	Raw        bool
	SampleRate int
	Channels   int
}

// Transcoder converts an input into mono 16 kHz FLAC and returns its path.
type Transcoder interface {
	ToFLAC(ctx context.Context, in Input) (string, error)
}

// FFmpeg shells out to the ffmpeg binary.
type FFmpeg struct {
	Binary  string
	TempDir string
}

// NewFFmpeg returns a transcoder writing into tempDir.
func NewFFmpeg(tempDir string) *FFmpeg {
	return &FFmpeg{Binary: "ffmpeg", TempDir: tempDir}
}

// ToFLAC runs ffmpeg and returns the output path.
func (f *FFmpeg) ToFLAC(ctx context.Context, in Input) (string, error) {
	if err := os.MkdirAll(f.TempDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	outputPath := filepath.Join(f.TempDir, fmt.Sprintf("normalized_%s.flac", uuid.New().String()))

	cmd := exec.CommandContext(ctx, f.Binary, ffmpegArgs(in, outputPath)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}
	return outputPath, nil
}

func ffmpegArgs(in Input, outputPath string) []string {
	var args []string
	if in.Raw {
		rate := in.SampleRate
		if rate <= 0 {
			rate = 48000
		}
		channels := in.Channels
		if channels <= 0 {
			channels = 1
		}
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(rate),
			"-ac", strconv.Itoa(channels),
		)
	}
	args = append(args, "-i", in.Path)
	if IsVideo(in.Path) {
		args = append(args, "-vn")
	}
	return append(args,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", strconv.Itoa(TargetChannels),
		"-c:a", "flac",
		"-y",
		outputPath,
	)
}

// ValidateAudioFormat checks if the file format is supported
func ValidateAudioFormat(filename string) bool {
	return hasExt(filename, audioExtensions) || IsVideo(filename)
}

// IsVideo reports whether filename looks like a video container.
func IsVideo(filename string) bool {
	return hasExt(filename, videoExtensions)
}

func hasExt(filename string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
