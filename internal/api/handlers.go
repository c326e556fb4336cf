package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/yangwenmai/reqscribe/internal/intake"
	"github.com/yangwenmai/reqscribe/internal/model"
)

// uploadField is the multipart field carrying the recording.
const uploadField = "audio"

// ---------------------------------------------------------------------------
// POST /upload
// ---------------------------------------------------------------------------

type uploadResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	AudioHash string `json:"audio_hash"`
	FilePath  string `json:"file_path,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data with an \"audio\" file")
		return
	}

	var res *intake.UploadResult
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.uploadError(w, err)
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}
		res, err = s.svc.Upload(r.Context(), part, part.FileName())
		part.Close()
		if err != nil {
			s.uploadError(w, err)
			return
		}
		break
	}
	if res == nil {
		writeError(w, http.StatusBadRequest, "missing \"audio\" file")
		return
	}

	if res.Cached {
		writeJSON(w, http.StatusOK, uploadResponse{
			Status:    string(model.StatusComplete),
			Message:   "This audio has already been processed.",
			AudioHash: res.AudioHash,
			FilePath:  res.FilePath,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{
		Status:    "accepted",
		Message:   "Audio received and queued for validation.",
		AudioHash: res.AudioHash,
	})
}

func (s *Server) uploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
	case errors.Is(err, intake.ErrInvalidUpload):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
	}
}

// ---------------------------------------------------------------------------
// GET /download/{audio_hash}
// ---------------------------------------------------------------------------

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "audio_hash")
	d, err := s.svc.Download(r.Context(), hash)
	if errors.Is(err, intake.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no document for this audio hash")
		return
	}
	if err != nil {
		slog.Error("download lookup failed", "audio_hash", model.ShortHash(hash), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to look up document")
		return
	}

	f, err := os.Open(d.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "no document for this audio hash")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read document")
		return
	}

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.FileName}))
	http.ServeContent(w, r, d.FileName, info.ModTime(), f)
}

// ---------------------------------------------------------------------------
// Huma operations
// ---------------------------------------------------------------------------

type statusInput struct {
	AudioHash string `path:"audio_hash" doc:"SHA-256 of the uploaded audio"`
}

type statusBody struct {
	AudioHash string       `json:"audio_hash"`
	Status    model.Status `json:"status" enum:"PENDING_VALIDATION,VALIDATING,PENDING_TRANSCRIPTION,TRANSCRIBING,PENDING_ANALYSIS,ANALYZING,COMPLETE,FAILED"`
	Details   *string      `json:"details"`
	UpdatedAt string       `json:"updated_at"`
	FilePath  string       `json:"file_path,omitempty"`
	Document  any          `json:"document,omitempty" doc:"Inline requirements document (json output mode)"`
}

type statusOutput struct {
	Body statusBody
}

func registerStatus(api huma.API, svc Intake) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/status/{audio_hash}",
		Summary:     "Processing status of an upload",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *statusInput) (*statusOutput, error) {
		v, err := svc.Status(ctx, in.AudioHash)
		if errors.Is(err, intake.ErrNotFound) {
			return nil, newAPIError(http.StatusNotFound, "no job found for this audio hash")
		}
		if err != nil {
			slog.Error("status lookup failed", "audio_hash", model.ShortHash(in.AudioHash), "error", err)
			return nil, newAPIError(http.StatusInternalServerError, "failed to read status")
		}
		out := &statusOutput{Body: statusBody{
			AudioHash: v.AudioHash,
			Status:    v.Status,
			Details:   v.Details,
			UpdatedAt: v.UpdatedAt,
			FilePath:  v.FilePath,
		}}
		if len(v.Document) > 0 {
			out.Body.Document = v.Document
		}
		return out, nil
	})
}

type healthOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})
}
