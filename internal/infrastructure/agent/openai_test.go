package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEvaluateSendsPromptAndReturnsContent(t *testing.T) {
	var got chatRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `[{"external_id": "a"}]`}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "sk-test", Model: "gpt-4o-mini"})
	reply, err := client.Evaluate(context.Background(), "", "judge these")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if reply != `[{"external_id": "a"}]` {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if got.Model != "gpt-4o-mini" {
		t.Fatalf("empty model should fall back to the default, got %q", got.Model)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "judge these" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestEvaluateModelOverride(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, Model: "default-model"})
	if _, err := client.Evaluate(context.Background(), "task-model", "p"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Model != "task-model" {
		t.Fatalf("per-task model not used: %q", got.Model)
	}
}

func TestEvaluateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited"},
		})
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL})
	if _, err := client.Evaluate(context.Background(), "", "p"); err == nil {
		t.Fatal("expected error from API error body")
	}
}

func TestEvaluateHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL})
	if _, err := client.Evaluate(context.Background(), "", "p"); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestEvaluateNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL})
	if _, err := client.Evaluate(context.Background(), "", "p"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
