// Package stage implements the pipeline stages: gatekeeper, transcription,
// analyst and the failure sink. Each stage consumes one queue, records its
// progress in the status ledger and hands off to the next queue.
package stage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yangwenmai/reqscribe/internal/broker"
	"github.com/yangwenmai/reqscribe/internal/media"
	"github.com/yangwenmai/reqscribe/internal/message"
	"github.com/yangwenmai/reqscribe/internal/model"
	"github.com/yangwenmai/reqscribe/internal/store"
)

// Stage names.
const (
	NameGatekeeper    = "gatekeeper"
	NameTranscription = "transcription"
	NameAnalyst       = "analyst"
	NameFailures      = "failed"
)

// Toolkit is the audio tooling the stages depend on.
type Toolkit interface {
	Normalize(ctx context.Context, in, out string) error
	ExtractWindow(ctx context.Context, in, out string, start, length time.Duration) error
	Duration(ctx context.Context, path string) (time.Duration, error)
	SpeechPercent(ctx context.Context, wav string, total time.Duration) (float64, error)
	Transcribe(ctx context.Context, wav string, opts media.TranscribeOptions) (string, error)
}

var _ Toolkit = (*media.Toolkit)(nil)

// Scratch hands out per-job temporary directories.
type Scratch interface {
	TempDir(hash string) (string, func(), error)
}

// Deps are shared by every stage.
type Deps struct {
	Ledger    store.Ledger
	Publisher broker.Publisher
	Documents store.DocumentStore
}

// base carries the ledger/publish plumbing common to all stages.
type base struct {
	name   string
	queue  string
	ledger store.Ledger
	pub    broker.Publisher
	docs   store.DocumentStore
	log    *slog.Logger
}

func newBase(name, queue string, d Deps) base {
	return base{
		name:   name,
		queue:  queue,
		ledger: d.Ledger,
		pub:    d.Publisher,
		docs:   d.Documents,
		log:    slog.Default().With("stage", name),
	}
}

// Name returns the stage name.
func (b *base) Name() string { return b.name }

// Queue returns the queue the stage consumes.
func (b *base) Queue() string { return b.queue }

// set records a transition. Out-of-order writes are logged but still
// applied; the ledger is last-writer-wins.
func (b *base) set(ctx context.Context, hash string, status model.Status, details *string) error {
	if cur, err := b.ledger.GetStatus(ctx, hash); err == nil && cur != nil && cur.Status != status {
		if verr := model.ValidateTransition(cur.Status, status); verr != nil {
			b.log.Warn("out-of-order status write", "audio_hash", model.ShortHash(hash), "error", verr)
		}
	}
	if err := b.ledger.UpsertStatus(ctx, hash, status, details); err != nil {
		return Wrap(ErrStorage, b.name, "record "+string(status), err)
	}
	return nil
}

// finished reports whether a document is already stored for hash. A
// duplicate delivery of a finished job only restores COMPLETE, so a late
// copy can never overwrite a finished row with FAILED.
func (b *base) finished(ctx context.Context, hash string) (bool, error) {
	if b.docs == nil {
		return false, nil
	}
	doc, err := b.docs.GetDocument(ctx, hash)
	if err != nil {
		return false, Wrap(ErrStorage, b.name, "lookup document", err)
	}
	if doc == nil {
		return false, nil
	}
	b.log.Info("document exists, skipping", "audio_hash", model.ShortHash(hash))
	return true, b.set(ctx, hash, model.StatusComplete, nil)
}

// fail records a terminal failure and announces it on the failed queue.
// It returns an error only if the failure itself could not be recorded,
// in which case the message should be redelivered.
func (b *base) fail(ctx context.Context, hash string, cause error) error {
	out := message.Failed{AudioHash: hash}
	var details string
	var rej *Rejection
	if errors.As(cause, &rej) {
		details = rej.Reason
		out.Reason = rej.Reason
		b.log.Info("job rejected", "audio_hash", model.ShortHash(hash), "reason", rej.Reason)
	} else {
		details = cause.Error()
		out.Error = details
		b.log.Error("job failed", "audio_hash", model.ShortHash(hash), "error", cause)
	}

	if err := b.ledger.UpsertStatus(ctx, hash, model.StatusFailed, &details); err != nil {
		return Wrap(ErrStorage, b.name, "record FAILED", err)
	}
	if err := broker.Publish(ctx, b.pub, out); err != nil {
		b.log.Warn("publish failure notice", "audio_hash", model.ShortHash(hash), "error", err)
	}
	return nil
}

// forward publishes the next stage's message.
func (b *base) forward(ctx context.Context, m message.Message) error {
	if err := broker.Publish(ctx, b.pub, m); err != nil {
		return Wrap(ErrBroker, b.name, "forward", err)
	}
	return nil
}
