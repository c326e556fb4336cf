package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yangwenmai/reqscribe/internal/intake"
)

// defaultMaxUpload is the upload size limit when none is configured (500 MB).
const defaultMaxUpload int64 = 500 << 20

// Intake is the operation surface served over HTTP.
type Intake interface {
	Upload(ctx context.Context, r io.Reader, originalName string) (*intake.UploadResult, error)
	Status(ctx context.Context, hash string) (*intake.StatusView, error)
	Download(ctx context.Context, hash string) (*intake.Download, error)
}

var _ Intake = (*intake.Service)(nil)

// Options configures the HTTP surface.
type Options struct {
	CORSOrigin     string
	MaxUploadBytes int64
	Version        string
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	svc    Intake
	opts   Options
	router chi.Router
}

// New creates a new API server.
func New(svc Intake, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	srv := &Server{svc: svc, opts: opts, router: chi.NewRouter()}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	// Huma errors use the same envelope as the plain handlers.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}

	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.opts.CORSOrigin))

	r.With(limitBody(s.opts.MaxUploadBytes)).Post("/upload", s.handleUpload)
	r.Get("/download/{audio_hash}", s.handleDownload)

	hcfg := huma.DefaultConfig("reqscribe API", s.opts.Version)
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(r, hcfg)
	registerHealth(api)
	registerStatus(api, s.svc)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware sets CORS headers for the configured origin.
func corsMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitBody restricts the request body to max bytes.
func limitBody(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

// ---------------------------------------------------------------------------
// Errors and response helpers
// ---------------------------------------------------------------------------

// apiError is the error envelope for every endpoint.
type apiError struct {
	status  int
	Err     string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, msg string) *apiError {
	return &apiError{status: status, Err: http.StatusText(status), Message: msg}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, newAPIError(status, msg))
}
