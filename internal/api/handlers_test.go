package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yangwenmai/reqscribe/internal/broker"
	"github.com/yangwenmai/reqscribe/internal/content"
	"github.com/yangwenmai/reqscribe/internal/intake"
	"github.com/yangwenmai/reqscribe/internal/model"
	"github.com/yangwenmai/reqscribe/internal/store"
)

type testEnv struct {
	handler http.Handler
	store   *store.Store
	files   *content.Store
}

func newTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	files, err := content.New(t.TempDir())
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	q, err := broker.NewSQLiteQueue(db, time.Millisecond, time.Minute)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	srv := New(intake.New(s, files, q), opts)
	return &testEnv{handler: srv.Handler(), store: s, files: files}
}

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func doUpload(t *testing.T, handler http.Handler, field, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "weekly sync")
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode JSON: %v\nbody: %s", err, rr.Body.String())
	}
	return result
}

func TestUpload_Accepted(t *testing.T) {
	env := newTestServer(t, Options{})

	rr := doUpload(t, env.handler, "audio", "meeting.m4a", []byte("fake audio"))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body: %s", rr.Code, rr.Body.String())
	}
	result := decodeJSON(t, rr)
	if result["status"] != "accepted" {
		t.Errorf("status = %v", result["status"])
	}
	if result["audio_hash"] != sha256Hex([]byte("fake audio")) {
		t.Errorf("audio_hash = %v", result["audio_hash"])
	}
}

func TestUpload_CacheHit(t *testing.T) {
	env := newTestServer(t, Options{})
	ctx := context.Background()
	data := []byte("already processed")
	hash := sha256Hex(data)
	path, _ := env.files.WriteDocument(ctx, hash, ".md", []byte("# doc"))
	env.store.SaveDocument(ctx, model.NewRequirementDocument(hash, model.FormatMarkdown, path, nil))

	rr := doUpload(t, env.handler, "audio", "again.mp3", data)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rr.Code, rr.Body.String())
	}
	result := decodeJSON(t, rr)
	if result["status"] != "COMPLETE" || result["file_path"] != path {
		t.Errorf("result = %v", result)
	}
}

func TestUpload_BadRequests(t *testing.T) {
	env := newTestServer(t, Options{})

	rr := doUpload(t, env.handler, "file", "x.wav", []byte("data"))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("wrong field: status = %d, want 400", rr.Code)
	}
	if result := decodeJSON(t, rr); result["error"] != "Bad Request" || result["message"] == "" {
		t.Errorf("envelope = %v", result)
	}

	rr = doUpload(t, env.handler, "audio", "empty.wav", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty file: status = %d, want 400", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"audio":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("json body: status = %d, want 400", rr.Code)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestServer(t, Options{MaxUploadBytes: 1024})

	rr := doUpload(t, env.handler, "audio", "big.wav", bytes.Repeat([]byte("x"), 4096))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413, body: %s", rr.Code, rr.Body.String())
	}
}

func TestStatus(t *testing.T) {
	env := newTestServer(t, Options{})
	hash := strings.Repeat("a", 64)
	reason := model.ReasonAudioTooShort
	env.store.UpsertStatus(context.Background(), hash, model.StatusFailed, &reason)

	rr := doRequest(t, env.handler, http.MethodGet, "/status/"+hash)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	result := decodeJSON(t, rr)
	if result["status"] != "FAILED" || result["details"] != model.ReasonAudioTooShort {
		t.Errorf("result = %v", result)
	}
	if _, ok := result["document"]; ok {
		t.Error("failed job should not carry a document")
	}
}

func TestStatus_JSONDocumentInline(t *testing.T) {
	env := newTestServer(t, Options{})
	ctx := context.Background()
	hash := strings.Repeat("b", 64)
	env.store.SaveDocument(ctx, model.NewRequirementDocument(hash, model.FormatJSON, "/out/"+hash+".json", []byte(`{"action_items":[{"title":"Export"}]}`)))
	env.store.UpsertStatus(ctx, hash, model.StatusComplete, nil)

	rr := doRequest(t, env.handler, http.MethodGet, "/status/"+hash)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	result := decodeJSON(t, rr)
	doc, ok := result["document"].(map[string]any)
	if !ok || doc["action_items"] == nil {
		t.Errorf("document = %v", result["document"])
	}
}

func TestStatus_NotFound(t *testing.T) {
	env := newTestServer(t, Options{})

	for _, path := range []string{"/status/" + strings.Repeat("c", 64), "/status/not-a-hash"} {
		rr := doRequest(t, env.handler, http.MethodGet, path)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rr.Code)
			continue
		}
		result := decodeJSON(t, rr)
		if result["error"] != "Not Found" {
			t.Errorf("%s: envelope = %v", path, result)
		}
	}
}

func TestDownload(t *testing.T) {
	env := newTestServer(t, Options{})
	ctx := context.Background()
	hash := strings.Repeat("d", 64)
	path, _ := env.files.WriteDocument(ctx, hash, ".md", []byte("# Requirements\n"))
	env.store.SaveDocument(ctx, model.NewRequirementDocument(hash, model.FormatMarkdown, path, nil))
	env.store.UpsertStatus(ctx, hash, model.StatusComplete, nil)

	rr := doRequest(t, env.handler, http.MethodGet, "/download/"+hash)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, hash+".md") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rr.Body.String() != "# Requirements\n" {
		t.Errorf("body = %q", rr.Body.String())
	}

	rr = doRequest(t, env.handler, http.MethodGet, "/download/"+strings.Repeat("e", 64))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", rr.Code)
	}
}

func TestHealthAndCORS(t *testing.T) {
	env := newTestServer(t, Options{CORSOrigin: "https://app.example.com"})

	rr := doRequest(t, env.handler, http.MethodGet, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if decodeJSON(t, rr)["status"] != "ok" {
		t.Errorf("body = %s", rr.Body.String())
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("CORS origin = %q", got)
	}

	rr = doRequest(t, env.handler, http.MethodOptions, "/upload")
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rr.Code)
	}
}

func TestOpenAPI(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := doRequest(t, env.handler, http.MethodGet, "/openapi.json")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "/status/{audio_hash}") {
		t.Error("status operation missing from OpenAPI document")
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
