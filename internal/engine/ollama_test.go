package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewOllamaClient_Defaults(t *testing.T) {
	c := NewOllamaClient("")
	if c.baseURL != "http://localhost:11434" {
		t.Errorf("baseURL = %q, want default", c.baseURL)
	}
	if c.maxAttempts != 2 {
		t.Errorf("maxAttempts = %d, want 2", c.maxAttempts)
	}

	c = NewOllamaClient("http://ollama:11434/", WithHTTPTimeout(5*time.Second))
	if c.baseURL != "http://ollama:11434" {
		t.Errorf("baseURL = %q, trailing slash should be trimmed", c.baseURL)
	}
	if c.httpClient.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", c.httpClient.Timeout)
	}
}

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama3.1" || req.Format != "json" || req.System != "sys" || req.Stream {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: `{"ok":true}`})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	got, err := c.Generate(context.Background(), Request{Model: "llama3.1", System: "sys", Prompt: "hi", Format: "json"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("got %q", got)
	}
}

func TestGenerate_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: "SOFTWARE"})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, WithRetry(2, time.Millisecond))
	got, err := c.Generate(context.Background(), Request{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "SOFTWARE" || calls.Load() != 2 {
		t.Errorf("got %q after %d calls", got, calls.Load())
	}
}

func TestGenerate_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, WithRetry(3, time.Millisecond))
	_, err := c.Generate(context.Background(), Request{Model: "missing"})
	var ae *apiError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 apiError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestGenerate_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Response: "  "})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, WithRetry(1, 0))
	if _, err := c.Generate(context.Background(), Request{}); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}
