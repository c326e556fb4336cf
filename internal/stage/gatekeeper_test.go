package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yangwenmai/reqscribe/internal/content"
	"github.com/yangwenmai/reqscribe/internal/engine"
	"github.com/yangwenmai/reqscribe/internal/message"
	"github.com/yangwenmai/reqscribe/internal/model"
	"github.com/yangwenmai/reqscribe/internal/store"
)

type gatekeeperFixture struct {
	store *store.Store
	pub   *recordingPublisher
	tools *fakeTools
	llm   *scriptedModel
	gk    *Gatekeeper
}

func newGatekeeper(t *testing.T, mode Mode, tools *fakeTools, replies ...string) *gatekeeperFixture {
	t.Helper()
	f := &gatekeeperFixture{
		store: newTestStore(t),
		pub:   &recordingPublisher{},
		tools: tools,
		llm:   &scriptedModel{replies: replies},
	}
	f.gk = NewGatekeeper(Deps{Ledger: f.store, Publisher: f.pub, Documents: f.store}, tools, f.llm, newTestContent(t), GatekeeperConfig{
		Mode:             mode,
		MaxAttempts:      3,
		SampleDuration:   30 * time.Second,
		MinSpeechPercent: 10,
		WhisperModel:     "ggml-tiny.bin",
		LLMModel:         "phi3:mini",
	})
	f.gk.offset = func(n int64) int64 { return n - 1 }
	return f
}

func (f *gatekeeperFixture) handle(t *testing.T) {
	t.Helper()
	err := f.gk.Handle(context.Background(), message.NewAudio{AudioHash: testHash, FilePath: "/data/audio/" + testHash + ".mp3"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func speechy() *fakeTools {
	return &fakeTools{duration: 10 * time.Minute, speech: 80, transcripts: []string{"we need an export button"}}
}

func TestGatekeeper_FastModeAcceptsAnySoftware(t *testing.T) {
	f := newGatekeeper(t, ModeFast, speechy(), "OTHER", "SOFTWARE", "OTHER")
	f.handle(t)

	assertStatus(t, f.store, model.StatusPendingTranscription, "")
	got, ok := f.pub.only(t).(message.Transcribe)
	if !ok || got.FilePath != "/data/audio/"+testHash+".mp3" {
		t.Errorf("published %#v", f.pub.msgs[0])
	}
	if f.llm.calls != 2 {
		t.Errorf("classify calls = %d, want 2 (stop at first SOFTWARE)", f.llm.calls)
	}
}

func TestGatekeeper_VotingMajorityOther(t *testing.T) {
	f := newGatekeeper(t, ModeVoting, speechy(), "SOFTWARE", "OTHER", "OTHER")
	f.handle(t)

	assertStatus(t, f.store, model.StatusFailed, model.ReasonInvalidContext)
	failed, ok := f.pub.only(t).(message.Failed)
	if !ok || failed.Reason != model.ReasonInvalidContext || failed.Error != "" {
		t.Errorf("published %#v", f.pub.msgs[0])
	}
	if f.llm.calls != 3 {
		t.Errorf("classify calls = %d, want 3", f.llm.calls)
	}
}

func TestGatekeeper_VotingMajoritySoftware(t *testing.T) {
	f := newGatekeeper(t, ModeVoting, speechy(), "SOFTWARE", "OTHER", "SOFTWARE")
	f.handle(t)
	assertStatus(t, f.store, model.StatusPendingTranscription, "")
}

func TestGatekeeper_TooShortBeforeTranscription(t *testing.T) {
	tools := speechy()
	tools.duration = 25 * time.Second
	f := newGatekeeper(t, ModeFast, tools, "SOFTWARE")
	f.handle(t)

	assertStatus(t, f.store, model.StatusFailed, model.ReasonAudioTooShort)
	if tools.transcribeCalls != 0 {
		t.Errorf("transcribe calls = %d, want 0", tools.transcribeCalls)
	}
}

func TestGatekeeper_NoSpeechBeforeClassification(t *testing.T) {
	tools := speechy()
	tools.speech = 5
	f := newGatekeeper(t, ModeFast, tools, "SOFTWARE")
	f.handle(t)

	assertStatus(t, f.store, model.StatusFailed, model.ReasonNoSpeech)
	if tools.transcribeCalls != 0 || f.llm.calls != 0 {
		t.Errorf("transcribe=%d classify=%d, want 0/0", tools.transcribeCalls, f.llm.calls)
	}
	if failed := f.pub.only(t).(message.Failed); failed.Reason != model.ReasonNoSpeech {
		t.Errorf("reason = %q", failed.Reason)
	}
}

func TestGatekeeper_SampleErrorsCastNoVote(t *testing.T) {
	tools := speechy()
	tools.transcribeErr = errors.New("whisper crashed")
	f := newGatekeeper(t, ModeVoting, tools, "SOFTWARE")
	f.handle(t)

	assertStatus(t, f.store, model.StatusFailed, model.ReasonInvalidContext)
	if tools.transcribeCalls != 3 || f.llm.calls != 0 {
		t.Errorf("transcribe=%d classify=%d, want 3/0", tools.transcribeCalls, f.llm.calls)
	}
}

func TestGatekeeper_ClassifierErrorVotesOther(t *testing.T) {
	// SOFTWARE, error, error: two OTHER votes beat one SOFTWARE.
	f := newGatekeeper(t, ModeVoting, speechy(), "SOFTWARE", "", "")
	f.handle(t)
	assertStatus(t, f.store, model.StatusFailed, model.ReasonInvalidContext)
}

func TestGatekeeper_ToolFailureRecordsError(t *testing.T) {
	tools := speechy()
	tools.normalizeErr = errors.New("Invalid data found when processing input")
	f := newGatekeeper(t, ModeFast, tools, "SOFTWARE")
	f.handle(t)

	assertStatus(t, f.store, model.StatusFailed, "external tool error: gatekeeper: normalize: Invalid data found when processing input")
	failed := f.pub.only(t).(message.Failed)
	if failed.Reason != "" || failed.Error == "" {
		t.Errorf("published %#v", failed)
	}
}

func TestGatekeeper_WindowsAndScratchCleanup(t *testing.T) {
	tools := speechy()
	f := newGatekeeper(t, ModeFast, tools, "SOFTWARE")
	root := t.TempDir()
	scratch, err := content.New(root)
	if err != nil {
		t.Fatal(err)
	}
	f.gk.scratch = scratch
	f.handle(t)

	if len(tools.windows) != 1 || tools.windows[0] != 9*time.Minute+30*time.Second {
		t.Errorf("windows = %v, want last possible start", tools.windows)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "temp"))
	if len(entries) != 0 {
		t.Errorf("scratch dir not cleaned: %d entries", len(entries))
	}
}

func TestDecide(t *testing.T) {
	sw := Attempt{Topic: engine.TopicSoftware}
	ot := Attempt{Topic: engine.TopicOther}
	none := Attempt{Err: errors.New("whisper")}

	tests := []struct {
		name     string
		mode     Mode
		attempts []Attempt
		want     engine.Topic
	}{
		{"fast any software", ModeFast, []Attempt{ot, ot, sw}, engine.TopicSoftware},
		{"fast no software", ModeFast, []Attempt{ot, none}, engine.TopicOther},
		{"fast empty", ModeFast, nil, engine.TopicOther},
		{"voting majority", ModeVoting, []Attempt{sw, ot, sw}, engine.TopicSoftware},
		{"voting minority", ModeVoting, []Attempt{sw, ot, ot}, engine.TopicOther},
		{"voting tie", ModeVoting, []Attempt{sw, ot, none}, engine.TopicOther},
		{"voting abstentions ignored", ModeVoting, []Attempt{sw, none, none}, engine.TopicSoftware},
		{"voting no votes", ModeVoting, []Attempt{none, none, none}, engine.TopicOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.mode, tt.attempts); got != tt.want {
				t.Errorf("Decide = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	if m, _ := ParseMode(""); m != ModeFast {
		t.Errorf("default = %s, want fast", m)
	}
	if m, err := ParseMode("voting"); err != nil || m != ModeVoting {
		t.Errorf("voting = %s, %v", m, err)
	}
	if _, err := ParseMode("majority"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestGatekeeper_DuplicateDeliveryKeepsComplete(t *testing.T) {
	tools := &fakeTools{normalizeErr: errors.New("ffmpeg: no such file")}
	f := newGatekeeper(t, ModeFast, tools, "OTHER")
	seedComplete(t, f.store)

	f.handle(t)

	assertStatus(t, f.store, model.StatusComplete, "")
	if len(f.pub.msgs) != 0 {
		t.Errorf("published %v, want nothing", f.pub.msgs)
	}
	if f.llm.calls != 0 || tools.transcribeCalls != 0 {
		t.Errorf("model calls = %d, transcribe calls = %d, want 0", f.llm.calls, tools.transcribeCalls)
	}
}
