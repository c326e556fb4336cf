package stage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/yangwenmai/reqscribe/internal/media"
	"github.com/yangwenmai/reqscribe/internal/message"
	"github.com/yangwenmai/reqscribe/internal/model"
)

// TranscriptionConfig selects the full-pass whisper model.
type TranscriptionConfig struct {
	WhisperModel string
	Language     string
}

// Transcription produces the full transcript of an accepted upload.
type Transcription struct {
	base
	cfg     TranscriptionConfig
	tools   Toolkit
	scratch Scratch
}

// NewTranscription creates the transcription stage.
func NewTranscription(d Deps, tools Toolkit, scratch Scratch, cfg TranscriptionConfig) *Transcription {
	return &Transcription{
		base:    newBase(NameTranscription, message.QueueTranscribe, d),
		cfg:     cfg,
		tools:   tools,
		scratch: scratch,
	}
}

// Handle transcribes one Transcribe message.
func (t *Transcription) Handle(ctx context.Context, m message.Message) error {
	msg, ok := m.(message.Transcribe)
	if !ok {
		return fmt.Errorf("transcription: unexpected message %T", m)
	}
	if done, err := t.finished(ctx, msg.AudioHash); done || err != nil {
		return err
	}
	t.log.Info("transcribing", "audio_hash", model.ShortHash(msg.AudioHash))

	if err := t.set(ctx, msg.AudioHash, model.StatusTranscribing, nil); err != nil {
		return err
	}
	if err := t.transcribe(ctx, msg); err != nil {
		return t.fail(ctx, msg.AudioHash, err)
	}
	return nil
}

func (t *Transcription) transcribe(ctx context.Context, msg message.Transcribe) error {
	dir, cleanup, err := t.scratch.TempDir(msg.AudioHash)
	if err != nil {
		return Wrap(ErrStorage, t.name, "scratch dir", err)
	}
	defer cleanup()

	wav := filepath.Join(dir, "full.wav")
	if err := t.tools.Normalize(ctx, msg.FilePath, wav); err != nil {
		return Wrap(ErrExternalTool, t.name, "normalize", err)
	}
	text, err := t.tools.Transcribe(ctx, wav, media.TranscribeOptions{
		Model:    t.cfg.WhisperModel,
		Language: t.cfg.Language,
		OutBase:  filepath.Join(dir, "full"),
	})
	if err != nil {
		return Wrap(ErrExternalTool, t.name, "whisper", err)
	}
	if text == "" {
		return errEmptyTranscript
	}
	t.log.Info("transcribed", "audio_hash", model.ShortHash(msg.AudioHash), "chars", len(text))

	if err := t.set(ctx, msg.AudioHash, model.StatusPendingAnalysis, nil); err != nil {
		return err
	}
	return t.forward(ctx, message.Analyze{AudioHash: msg.AudioHash, FullText: text})
}
