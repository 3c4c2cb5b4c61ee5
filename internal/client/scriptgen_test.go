package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScriptClientGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Fatalf("unexpected auth header: %q", auth)
		}

		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"lines\":[]}"}}]}`))
	}))
	defer server.Close()

	c := NewScriptClient(server.URL, "sk-test", "gpt-4o-mini")
	out, err := c.GenerateScript(context.Background(), "material")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != `{"lines":[]}` {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestScriptClientNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c := NewScriptClient(server.URL, "sk-test", "gpt-4o-mini")
	if _, err := c.GenerateScript(context.Background(), "material"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
