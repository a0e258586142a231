package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/geova/livementor/pkg/provider/llm"
)

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); err == nil {
		t.Error("empty api key accepted")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Model() != DefaultModel {
		t.Errorf("Model() = %q, want %q", p.Model(), DefaultModel)
	}
}

func TestParams(t *testing.T) {
	t.Parallel()

	p, _ := New("sk-test", "gpt-test", WithUser("room-7"))
	params, err := p.params(llm.CompletionRequest{
		SystemPrompt: "You are GEOVA.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "What is a raster?"},
			{Role: llm.RoleAssistant, Content: "A grid of cells."},
			{Role: llm.RoleUser, Content: "And a vector?"},
		},
		Temperature: 0.8,
		MaxTokens:   2000,
	})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	m := params.Messages
	if len(m) != 4 || m[0].OfSystem == nil || m[1].OfUser == nil || m[2].OfAssistant == nil || m[3].OfUser == nil {
		t.Fatalf("messages out of order: %+v", m)
	}
	if params.MaxCompletionTokens.Value != 2000 || params.Temperature.Value != 0.8 {
		t.Errorf("tuning = %v / %v", params.MaxCompletionTokens.Value, params.Temperature.Value)
	}
	if params.User.Value != "room-7" {
		t.Errorf("user = %q", params.User.Value)
	}
}

func TestParams_Rejects(t *testing.T) {
	t.Parallel()

	p, _ := New("sk-test", "gpt-test")
	if _, err := p.params(llm.CompletionRequest{}); !errors.Is(err, llm.ErrNoMessages) {
		t.Errorf("empty history: err = %v", err)
	}
	if _, err := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: "narrator"}}}); err == nil {
		t.Error("unknown role accepted")
	}
}

// completionServer answers chat completions with body and reports the
// decoded request.
func completionServer(t *testing.T, status int, body string) (*httptest.Server, <-chan map[string]any) {
	t.Helper()
	seen := make(chan map[string]any, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &req)
		seen <- req
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestComplete(t *testing.T) {
	t.Parallel()

	srv, seen := completionServer(t, http.StatusOK, `{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test",
		"choices": [{"index": 0, "finish_reason": "length",
			"message": {"role": "assistant", "content": "NDVI compares red and near-infrared"}}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14}
	}`)

	p, _ := New("sk-test", "gpt-test", WithBaseURL(srv.URL+"/v1/"))
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "What is NDVI?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "NDVI compares red and near-infrared" || resp.Usage.TotalTokens != 14 {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.Truncated() {
		t.Errorf("finish reason %q not reported as truncated", resp.FinishReason)
	}
	if req := <-seen; req["model"] != "gpt-test" {
		t.Errorf("model sent = %v", req["model"])
	}
}

func TestComplete_APIError(t *testing.T) {
	t.Parallel()

	srv, _ := completionServer(t, http.StatusBadRequest,
		`{"error": {"message": "bad request", "type": "invalid_request_error"}}`)
	p, _ := New("sk-test", "gpt-test", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("err = %v, want status 400", err)
	}
}
