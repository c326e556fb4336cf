package stage

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/yangwenmai/reqscribe/internal/engine"
	"github.com/yangwenmai/reqscribe/internal/media"
	"github.com/yangwenmai/reqscribe/internal/message"
	"github.com/yangwenmai/reqscribe/internal/model"
)

// GatekeeperConfig tunes the speech and topic checks.
type GatekeeperConfig struct {
	Mode             Mode
	MaxAttempts      int
	SampleDuration   time.Duration
	MinSpeechPercent float64
	WhisperModel     string
	Language         string
	LLMModel         string
}

// Gatekeeper decides whether an upload is a software conversation worth
// transcribing in full.
type Gatekeeper struct {
	base
	cfg     GatekeeperConfig
	tools   Toolkit
	llm     engine.ModelClient
	scratch Scratch
	offset  func(n int64) int64
}

// NewGatekeeper creates the gatekeeper stage.
func NewGatekeeper(d Deps, tools Toolkit, llm engine.ModelClient, scratch Scratch, cfg GatekeeperConfig) *Gatekeeper {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SampleDuration <= 0 {
		cfg.SampleDuration = 30 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFast
	}
	return &Gatekeeper{
		base:    newBase(NameGatekeeper, message.QueueNewAudio, d),
		cfg:     cfg,
		tools:   tools,
		llm:     llm,
		scratch: scratch,
		offset:  rand.Int64N,
	}
}

// Handle validates one NewAudio message.
func (g *Gatekeeper) Handle(ctx context.Context, m message.Message) error {
	msg, ok := m.(message.NewAudio)
	if !ok {
		return fmt.Errorf("gatekeeper: unexpected message %T", m)
	}
	hash := msg.AudioHash
	if done, err := g.finished(ctx, hash); done || err != nil {
		return err
	}
	g.log.Info("validating", "audio_hash", model.ShortHash(hash))

	if err := g.set(ctx, hash, model.StatusValidating, nil); err != nil {
		return err
	}
	if err := g.validate(ctx, msg); err != nil {
		return g.fail(ctx, hash, err)
	}
	return nil
}

func (g *Gatekeeper) validate(ctx context.Context, msg message.NewAudio) error {
	dir, cleanup, err := g.scratch.TempDir(msg.AudioHash)
	if err != nil {
		return Wrap(ErrStorage, g.name, "scratch dir", err)
	}
	defer cleanup()

	wav := filepath.Join(dir, "normalized.wav")
	if err := g.tools.Normalize(ctx, msg.FilePath, wav); err != nil {
		return Wrap(ErrExternalTool, g.name, "normalize", err)
	}
	total, err := g.tools.Duration(ctx, wav)
	if err != nil {
		return Wrap(ErrExternalTool, g.name, "probe duration", err)
	}

	speech, err := g.tools.SpeechPercent(ctx, wav, total)
	if err != nil {
		return Wrap(ErrExternalTool, g.name, "detect speech", err)
	}
	g.log.Info("speech measured", "audio_hash", model.ShortHash(msg.AudioHash), "speech_percent", fmt.Sprintf("%.1f", speech), "duration", total)
	if speech < g.cfg.MinSpeechPercent {
		return reject(model.ReasonNoSpeech)
	}
	if total < g.cfg.SampleDuration {
		return reject(model.ReasonAudioTooShort)
	}

	attempts := g.sample(ctx, msg.AudioHash, wav, dir, total)
	verdict := Decide(g.cfg.Mode, attempts)
	g.log.Info("verdict", "audio_hash", model.ShortHash(msg.AudioHash), "mode", g.cfg.Mode, "attempts", len(attempts), "verdict", verdict)
	if verdict != engine.TopicSoftware {
		return reject(model.ReasonInvalidContext)
	}

	if err := g.set(ctx, msg.AudioHash, model.StatusPendingTranscription, nil); err != nil {
		return err
	}
	return g.forward(ctx, message.Transcribe{AudioHash: msg.AudioHash, FilePath: msg.FilePath})
}

// sample transcribes random windows and classifies each one. A window that
// fails to extract or transcribe, or comes back empty, casts no vote. A
// classifier error is an OTHER vote.
func (g *Gatekeeper) sample(ctx context.Context, hash, wav, dir string, total time.Duration) []Attempt {
	attempts := make([]Attempt, 0, g.cfg.MaxAttempts)
	for i := 0; i < g.cfg.MaxAttempts; i++ {
		if ctx.Err() != nil {
			break
		}
		a := Attempt{Start: g.windowStart(total)}
		prefix := filepath.Join(dir, fmt.Sprintf("sample-%d", i))

		text, err := g.transcribeWindow(ctx, wav, prefix, a.Start)
		switch {
		case err != nil:
			a.Err = err
			g.log.Warn("sample transcription failed", "audio_hash", model.ShortHash(hash), "attempt", i+1, "error", err)
		case text == "":
			g.log.Info("sample empty", "audio_hash", model.ShortHash(hash), "attempt", i+1)
		default:
			topic, err := engine.Classify(ctx, g.llm, g.cfg.LLMModel, text)
			if err != nil {
				a.Err = err
				g.log.Warn("classification failed", "audio_hash", model.ShortHash(hash), "attempt", i+1, "error", err)
			}
			a.Topic = topic
			g.log.Info("sample classified", "audio_hash", model.ShortHash(hash), "attempt", i+1, "start", a.Start, "topic", topic)
		}
		attempts = append(attempts, a)

		if g.cfg.Mode == ModeFast && a.Topic == engine.TopicSoftware {
			break
		}
	}
	return attempts
}

func (g *Gatekeeper) transcribeWindow(ctx context.Context, wav, prefix string, start time.Duration) (string, error) {
	out := prefix + ".wav"
	if err := g.tools.ExtractWindow(ctx, wav, out, start, g.cfg.SampleDuration); err != nil {
		return "", err
	}
	return g.tools.Transcribe(ctx, out, media.TranscribeOptions{
		Model:    g.cfg.WhisperModel,
		Language: g.cfg.Language,
		OutBase:  prefix,
	})
}

// windowStart picks a random start in [0, total-sample] at millisecond
// granularity.
func (g *Gatekeeper) windowStart(total time.Duration) time.Duration {
	span := (total - g.cfg.SampleDuration) / time.Millisecond
	if span <= 0 {
		return 0
	}
	return time.Duration(g.offset(int64(span)+1)) * time.Millisecond
}
