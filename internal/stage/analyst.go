package stage

import (
	"context"
	"fmt"

	"github.com/yangwenmai/reqscribe/internal/engine"
	"github.com/yangwenmai/reqscribe/internal/message"
	"github.com/yangwenmai/reqscribe/internal/model"
)

// DocumentWriter persists generated document files.
type DocumentWriter interface {
	WriteDocument(ctx context.Context, hash, ext string, data []byte) (string, error)
}

// AnalystConfig selects the model and output format.
type AnalystConfig struct {
	LLMModel string
	Format   string
}

// Analyst turns a transcript into a stored requirements document.
type Analyst struct {
	base
	cfg   AnalystConfig
	llm   engine.ModelClient
	files DocumentWriter
}

// NewAnalyst creates the analyst stage.
func NewAnalyst(d Deps, llm engine.ModelClient, files DocumentWriter, cfg AnalystConfig) *Analyst {
	if cfg.Format == "" {
		cfg.Format = model.FormatMarkdown
	}
	return &Analyst{
		base:  newBase(NameAnalyst, message.QueueAnalyze, d),
		cfg:   cfg,
		llm:   llm,
		files: files,
	}
}

// Handle analyzes one Analyze message.
func (a *Analyst) Handle(ctx context.Context, m message.Message) error {
	msg, ok := m.(message.Analyze)
	if !ok {
		return fmt.Errorf("analyst: unexpected message %T", m)
	}
	if done, err := a.finished(ctx, msg.AudioHash); done || err != nil {
		return err
	}
	if err := a.analyze(ctx, msg); err != nil {
		return a.fail(ctx, msg.AudioHash, err)
	}
	// A document is stored at this point; if COMPLETE cannot be recorded
	// the redelivery finds the document and retries only this write.
	return a.set(ctx, msg.AudioHash, model.StatusComplete, nil)
}

// analyze makes sure a document exists for the transcript.
func (a *Analyst) analyze(ctx context.Context, msg message.Analyze) error {
	hash := msg.AudioHash
	if err := a.set(ctx, hash, model.StatusAnalyzing, nil); err != nil {
		return err
	}
	a.log.Info("analyzing", "audio_hash", model.ShortHash(hash), "format", a.cfg.Format, "chars", len(msg.FullText))

	doc, err := engine.Analyze(ctx, a.llm, a.cfg.LLMModel, a.cfg.Format, msg.FullText)
	if err != nil {
		a.log.Warn("model produced no document", "audio_hash", model.ShortHash(hash), "error", err)
		return reject(model.ReasonLLMNoResponse)
	}

	rec := model.NewRequirementDocument(hash, doc.Format, "", doc.Data)
	path, err := a.files.WriteDocument(ctx, hash, rec.Extension(), doc.Body)
	if err != nil {
		return Wrap(ErrStorage, a.name, "write document", err)
	}
	rec.FilePath = path

	inserted, err := a.docs.SaveDocument(ctx, rec)
	if err != nil {
		return Wrap(ErrStorage, a.name, "save document", err)
	}
	if !inserted {
		a.log.Info("document already saved by another worker", "audio_hash", model.ShortHash(hash))
		return nil
	}
	a.log.Info("document saved", "audio_hash", model.ShortHash(hash), "file", path)
	return nil
}
