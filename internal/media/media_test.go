package media

import (
	"context"
	"errors"
	"math"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// fakeRunner records invocations and delegates to injected behavior.
type fakeRunner struct {
	calls [][]string
	run   func(name string, args ...string) (Result, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.run == nil {
		return Result{}, nil
	}
	return f.run(name, args...)
}

func noFile(string) ([]byte, error) { return nil, os.ErrNotExist }

func TestNormalizeArgs(t *testing.T) {
	r := &fakeRunner{}
	tk := newToolkit(Paths{FFmpeg: "ffmpeg-custom"}, r, noFile)

	if err := tk.Normalize(context.Background(), "in.m4a", "out.wav"); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []string{"ffmpeg-custom", "-hide_banner", "-nostdin", "-y", "-i", "in.m4a", "-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le", "out.wav"}
	if !reflect.DeepEqual(r.calls[0], want) {
		t.Errorf("args = %v\nwant %v", r.calls[0], want)
	}

	if err := tk.ExtractWindow(context.Background(), "in.wav", "s.wav", 12500*time.Millisecond, 30*time.Second); err != nil {
		t.Fatalf("ExtractWindow: %v", err)
	}
	got := strings.Join(r.calls[1], " ")
	if !strings.Contains(got, "-ss 12.500 -t 30.000 -i in.wav") {
		t.Errorf("window args = %s", got)
	}
}

func TestDuration(t *testing.T) {
	r := &fakeRunner{run: func(name string, args ...string) (Result, error) {
		return Result{Stdout: `{"format":{"duration":"25.480000"}}`}, nil
	}}
	tk := newToolkit(Paths{}, r, noFile)

	d, err := tk.Duration(context.Background(), "a.wav")
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if d != 25480*time.Millisecond {
		t.Errorf("Duration = %v", d)
	}
	if r.calls[0][0] != "ffprobe" {
		t.Errorf("tool = %s, want ffprobe default", r.calls[0][0])
	}
}

func TestCommandError(t *testing.T) {
	r := &fakeRunner{run: func(name string, args ...string) (Result, error) {
		return Result{ExitCode: 1, Stderr: "Input #0...\nin.wav: Invalid data found when processing input\n"}, errors.New("exit status 1")
	}}
	tk := newToolkit(Paths{}, r, noFile)

	err := tk.Normalize(context.Background(), "in.wav", "out.wav")
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CommandError", err)
	}
	if !strings.Contains(ce.Error(), "Invalid data found") {
		t.Errorf("message = %q", ce.Error())
	}
}

func TestParseSilence(t *testing.T) {
	stderr := `
[silencedetect @ 0x1] silence_start: 0
[silencedetect @ 0x1] silence_end: 4.5 | silence_duration: 4.5
[silencedetect @ 0x1] silence_start: 10.25
[silencedetect @ 0x1] silence_end: 12.25 | silence_duration: 2
[silencedetect @ 0x1] silence_start: 55
`
	got := ParseSilence(stderr, 60*time.Second)
	want := 4500*time.Millisecond + 2*time.Second + 5*time.Second
	if got != want {
		t.Errorf("ParseSilence = %v, want %v", got, want)
	}

	if got := ParseSilence("", 60*time.Second); got != 0 {
		t.Errorf("no events = %v, want 0", got)
	}
	if got := ParseSilence("silence_start: -0.01\n", 10*time.Second); got != 10*time.Second {
		t.Errorf("all silent = %v, want clamp to total", got)
	}
}

func TestSpeechPercent(t *testing.T) {
	if got := SpeechPercent(57*time.Second, 60*time.Second); math.Abs(got-5) > 1e-9 {
		t.Errorf("SpeechPercent = %v, want 5", got)
	}
	if got := SpeechPercent(0, 0); got != 0 {
		t.Errorf("zero total = %v", got)
	}
}

func TestTranscribe_ReadsTextFile(t *testing.T) {
	r := &fakeRunner{run: func(name string, args ...string) (Result, error) {
		return Result{Stdout: "ignored"}, nil
	}}
	read := func(path string) ([]byte, error) {
		if path != "/tmp/job/full.txt" {
			t.Errorf("read path = %s", path)
		}
		return []byte(" [MUSIC]\n We need a login page. \n\n"), nil
	}
	tk := newToolkit(Paths{Whisper: "whisper-cli"}, r, read)

	text, err := tk.Transcribe(context.Background(), "/tmp/job/full.wav", TranscribeOptions{Model: "ggml-base.bin", Language: "PT", OutBase: "/tmp/job/full"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "We need a login page." {
		t.Errorf("text = %q", text)
	}
	want := []string{"whisper-cli", "-m", "ggml-base.bin", "-f", "/tmp/job/full.wav", "-of", "/tmp/job/full", "-otxt", "-l", "pt"}
	if !reflect.DeepEqual(r.calls[0], want) {
		t.Errorf("args = %v", r.calls[0])
	}
}

func TestTranscribe_StdoutFallbackAndAutoLanguage(t *testing.T) {
	r := &fakeRunner{run: func(name string, args ...string) (Result, error) {
		return Result{Stdout: "[00:00:00.000 --> 00:00:04.000]   Hello team.\n[00:00:04.000 --> 00:00:06.000]  [BLANK_AUDIO]\n"}, nil
	}}
	tk := newToolkit(Paths{}, r, noFile)

	text, err := tk.Transcribe(context.Background(), "a.wav", TranscribeOptions{Model: "m.bin", Language: "auto"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Hello team." {
		t.Errorf("text = %q", text)
	}
	for _, a := range r.calls[0] {
		if a == "-l" {
			t.Error("auto language should not pass -l")
		}
	}

	if _, err := tk.Transcribe(context.Background(), "a.wav", TranscribeOptions{}); err == nil {
		t.Error("missing model should fail")
	}
}

func TestCleanTranscript(t *testing.T) {
	raw := "[00:00:01.000 --> 00:00:03,500] first line\n\n  [Applause]  \nsecond [inaudible] line\n"
	if got := CleanTranscript(raw); got != "first line\nsecond  line" {
		t.Errorf("CleanTranscript = %q", got)
	}
	if got := CleanTranscript("[BLANK_AUDIO]\n"); got != "" {
		t.Errorf("annotation only = %q, want empty", got)
	}
}
