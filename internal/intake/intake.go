// Package intake implements the upload, status and download operations
// behind the HTTP API.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/yangwenmai/reqscribe/internal/broker"
	"github.com/yangwenmai/reqscribe/internal/content"
	"github.com/yangwenmai/reqscribe/internal/message"
	"github.com/yangwenmai/reqscribe/internal/model"
	"github.com/yangwenmai/reqscribe/internal/store"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidUpload = errors.New("invalid upload")
)

// synthesizedDetails marks a status derived from the documents table alone.
const synthesizedDetails = "Document found in requirements table."

// Files is the content store surface intake needs.
type Files interface {
	Spool(r io.Reader) (*content.Spool, error)
	Put(ctx context.Context, hash, originalName string, r io.Reader) (string, error)
}

// Service runs the intake operations.
type Service struct {
	repo  store.IntakeRepository
	files Files
	pub   broker.Publisher
}

// New creates an intake service.
func New(repo store.IntakeRepository, files Files, pub broker.Publisher) *Service {
	return &Service{repo: repo, files: files, pub: pub}
}

// UploadResult describes what an upload did.
type UploadResult struct {
	AudioHash string
	// Cached is true when a document already existed; nothing was queued.
	Cached bool
	// FilePath is the document path on a cache hit.
	FilePath string
}

// Upload stores r, marks it pending and queues it for validation. If a
// document already exists for the same bytes it returns that instead,
// without side effects.
func (s *Service) Upload(ctx context.Context, r io.Reader, originalName string) (*UploadResult, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no file", ErrInvalidUpload)
	}
	sp, err := s.files.Spool(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}
	defer sp.Remove()
	if sp.Size == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	hash := sp.Hash

	doc, err := s.repo.GetDocument(ctx, hash)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		slog.Info("upload cache hit", "audio_hash", model.ShortHash(hash))
		return &UploadResult{AudioHash: hash, Cached: true, FilePath: doc.FilePath}, nil
	}

	f, err := sp.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	path, err := s.files.Put(ctx, hash, originalName, f)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.EnsurePending(ctx, hash)
	if err != nil {
		return nil, err
	}
	if err := broker.Publish(ctx, s.pub, message.NewAudio{AudioHash: hash, FilePath: path}); err != nil {
		// A row this upload created would otherwise sit in PENDING_VALIDATION
		// with nothing queued. FAILED lets the next upload reset it.
		if created {
			details := err.Error()
			if uerr := s.repo.UpsertStatus(ctx, hash, model.StatusFailed, &details); uerr != nil {
				slog.Error("record publish failure", "audio_hash", model.ShortHash(hash), "error", uerr)
			}
		}
		return nil, err
	}
	slog.Info("upload accepted", "audio_hash", model.ShortHash(hash), "bytes", sp.Size, "new_row", created)
	return &UploadResult{AudioHash: hash}, nil
}

// StatusView is the externally visible state of one job.
type StatusView struct {
	AudioHash string          `json:"audio_hash"`
	Status    model.Status    `json:"status"`
	Details   *string         `json:"details"`
	UpdatedAt string          `json:"updated_at"`
	FilePath  string          `json:"file_path,omitempty"`
	Document  json.RawMessage `json:"document,omitempty"`
}

// Status returns the current state of hash. A document without a ledger
// row is reported as COMPLETE.
func (s *Service) Status(ctx context.Context, hash string) (*StatusView, error) {
	if !model.ValidAudioHash(hash) {
		return nil, ErrNotFound
	}
	st, err := s.repo.GetStatus(ctx, hash)
	if err != nil {
		return nil, err
	}
	doc, err := s.repo.GetDocument(ctx, hash)
	if err != nil {
		return nil, err
	}

	if st == nil {
		if doc == nil {
			return nil, ErrNotFound
		}
		details := synthesizedDetails
		return &StatusView{
			AudioHash: hash,
			Status:    model.StatusComplete,
			Details:   &details,
			UpdatedAt: doc.CreatedAt,
			FilePath:  doc.FilePath,
			Document:  doc.Data,
		}, nil
	}

	v := &StatusView{
		AudioHash: st.AudioHash,
		Status:    st.Status,
		Details:   st.Details,
		UpdatedAt: st.UpdatedAt,
	}
	if doc != nil && st.Status == model.StatusComplete {
		v.FilePath = doc.FilePath
		v.Document = doc.Data
	}
	return v, nil
}

// Download locates the finished document for hash.
type Download struct {
	Path        string
	FileName    string
	ContentType string
}

// Download returns the document file for hash if it exists on disk.
func (s *Service) Download(ctx context.Context, hash string) (*Download, error) {
	if !model.ValidAudioHash(hash) {
		return nil, ErrNotFound
	}
	doc, err := s.repo.GetDocument(ctx, hash)
	if err != nil {
		return nil, err
	}
	if doc == nil || !content.Exists(doc.FilePath) {
		return nil, ErrNotFound
	}
	return &Download{
		Path:        doc.FilePath,
		FileName:    hash + doc.Extension(),
		ContentType: doc.ContentType(),
	}, nil
}
