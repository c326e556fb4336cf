package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Silence detection parameters: anything quieter than NoiseFloor for at
// least MinSilence counts as silence.
const (
	NoiseFloor = "-30dB"
	MinSilence = 0.5
)

// Paths locates the external binaries.
type Paths struct {
	FFmpeg  string
	FFprobe string
	Whisper string
}

// TranscribeOptions selects the whisper model and language for a run.
type TranscribeOptions struct {
	Model    string
	Language string // empty or "auto" lets whisper detect it
	// OutBase is the output path without extension; whisper writes OutBase.txt.
	OutBase string
}

// Toolkit runs ffmpeg, ffprobe and whisper.cpp.
type Toolkit struct {
	paths    Paths
	runner   Runner
	readFile func(string) ([]byte, error)
}

// NewToolkit constructs a toolkit with OS dependencies.
func NewToolkit(paths Paths) *Toolkit {
	return newToolkit(paths, ExecRunner{}, os.ReadFile)
}

func newToolkit(paths Paths, runner Runner, readFile func(string) ([]byte, error)) *Toolkit {
	if paths.FFmpeg == "" {
		paths.FFmpeg = "ffmpeg"
	}
	if paths.FFprobe == "" {
		paths.FFprobe = "ffprobe"
	}
	if paths.Whisper == "" {
		paths.Whisper = "whisper-cli"
	}
	return &Toolkit{paths: paths, runner: runner, readFile: readFile}
}

// Normalize converts any input to 16 kHz mono signed 16-bit WAV.
func (t *Toolkit) Normalize(ctx context.Context, in, out string) error {
	_, err := t.run(ctx, t.paths.FFmpeg, normalizeArgs(in, out, 0, 0)...)
	return err
}

// ExtractWindow writes length of audio starting at start as whisper-ready WAV.
func (t *Toolkit) ExtractWindow(ctx context.Context, in, out string, start, length time.Duration) error {
	_, err := t.run(ctx, t.paths.FFmpeg, normalizeArgs(in, out, start, length)...)
	return err
}

func normalizeArgs(in, out string, start, length time.Duration) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if length > 0 {
		args = append(args, "-ss", seconds(start), "-t", seconds(length))
	}
	return append(args,
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		out,
	)
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration probes the container duration of path.
func (t *Toolkit) Duration(ctx context.Context, path string) (time.Duration, error) {
	res, err := t.run(ctx, t.paths.FFprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		path,
	)
	if err != nil {
		return 0, err
	}
	var out ffprobeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
	}
	return time.Duration(math.Round(secs * float64(time.Second))), nil
}

// SpeechPercent measures the share of total that is not silence, 0..100.
func (t *Toolkit) SpeechPercent(ctx context.Context, wav string, total time.Duration) (float64, error) {
	res, err := t.run(ctx, t.paths.FFmpeg,
		"-hide_banner", "-nostdin",
		"-i", wav,
		"-af", fmt.Sprintf("silencedetect=noise=%s:d=%s", NoiseFloor, strconv.FormatFloat(MinSilence, 'f', -1, 64)),
		"-f", "null", "-",
	)
	if err != nil {
		return 0, err
	}
	return SpeechPercent(ParseSilence(res.Stderr, total), total), nil
}

// Transcribe runs whisper.cpp on a normalized WAV and returns the cleaned text.
func (t *Toolkit) Transcribe(ctx context.Context, wav string, opts TranscribeOptions) (string, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return "", fmt.Errorf("whisper model path is required")
	}
	outBase := opts.OutBase
	if outBase == "" {
		outBase = strings.TrimSuffix(wav, ".wav")
	}
	res, err := t.run(ctx, t.paths.Whisper, whisperArgs(opts.Model, wav, outBase, opts.Language)...)
	if err != nil {
		return "", err
	}
	raw := res.Stdout
	if b, err := t.readFile(outBase + ".txt"); err == nil {
		raw = string(b)
	}
	return CleanTranscript(raw), nil
}

func whisperArgs(model, wav, outBase, language string) []string {
	args := []string{
		"-m", model,
		"-f", wav,
		"-of", outBase,
		"-otxt",
	}
	if lang := strings.ToLower(strings.TrimSpace(language)); lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	return args
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
