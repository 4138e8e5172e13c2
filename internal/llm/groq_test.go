package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient("test-key", "llama-3.1-8b-instant", time.Second, 5*time.Minute, zap.NewNop(), observability.NewNoOpRegistry())
	client.SetBaseURL(server.URL)
	return client, server
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := chatResponse{}
	resp.Choices = append(resp.Choices, struct {
		Message ChatMessage `json:"message"`
	}{Message: ChatMessage{Role: "assistant", Content: content}})
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("Failed to encode response: %v", err)
	}
}

func TestClient_GenerateResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			return
		}
		if req.MaxTokens != 1000 {
			t.Errorf("Expected max_tokens 1000, got %d", req.MaxTokens)
		}
		if req.Temperature != 0.7 {
			t.Errorf("Expected temperature 0.7, got %f", req.Temperature)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("Expected system + user message, got %d messages", len(req.Messages))
		}
		if req.Messages[0].Role != "system" {
			t.Errorf("Expected first message to be the system prompt, got role %s", req.Messages[0].Role)
		}
		if req.Messages[1].Content != "hola" {
			t.Errorf("Expected user message last, got %q", req.Messages[1].Content)
		}

		chatReply(t, w, "  ¡Hola! ¿En qué puedo ayudarte?  ")
	})

	got := client.GenerateResponse(context.Background(), "hola", nil)
	if got != "¡Hola! ¿En qué puedo ayudarte?" {
		t.Errorf("Unexpected response: %q", got)
	}
}

func TestClient_GenerateResponse_TruncatesHistory(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			return
		}
		// system + last 5 turns + the new user message
		if len(req.Messages) != 7 {
			t.Errorf("Expected 7 messages, got %d", len(req.Messages))
		}
		if req.Messages[1].Content != "turn 3" {
			t.Errorf("Expected oldest kept turn to be 'turn 3', got %q", req.Messages[1].Content)
		}
		chatReply(t, w, "ok")
	})

	history := []ChatMessage{
		{Role: "user", Content: "turn 0"},
		{Role: "assistant", Content: "turn 1"},
		{Role: "user", Content: "turn 2"},
		{Role: "assistant", Content: "turn 3"},
		{Role: "user", Content: "turn 4"},
		{Role: "assistant", Content: "turn 5"},
		{Role: "user", Content: "turn 6"},
		{Role: "assistant", Content: "turn 7"},
	}
	client.GenerateResponse(context.Background(), "y ahora?", history)
}

func TestClient_GenerateResponse_FallsBackOnError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	got := client.GenerateResponse(context.Background(), "quiero crear una tarea nueva", nil)
	if got == "" {
		t.Fatal("Expected a fallback response")
	}
	if want := "/dona-task create"; !strings.Contains(got, want) {
		t.Errorf("Expected task fallback mentioning %q, got %q", want, got)
	}
}

func TestClient_GenerateResponse_NoAPIKey(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := NewClient("", "llama-3.1-8b-instant", time.Second, time.Minute, zap.NewNop(), observability.NewNoOpRegistry())
	client.SetBaseURL(server.URL)

	got := client.GenerateResponse(context.Background(), "ayuda por favor", nil)
	if !strings.Contains(got, "/dona-help") {
		t.Errorf("Expected help fallback, got %q", got)
	}
	if calls.Load() != 0 {
		t.Errorf("Expected no API calls without a key, got %d", calls.Load())
	}
}

func TestClient_ExtractIntent(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			return
		}
		if req.MaxTokens != 200 {
			t.Errorf("Expected max_tokens 200, got %d", req.MaxTokens)
		}
		if req.Temperature != 0.3 {
			t.Errorf("Expected temperature 0.3, got %f", req.Temperature)
		}
		chatReply(t, w, `{"intent": "reminder", "entities": {"cuando": "manana"}, "confidence": 8, "suggested_command": "/dona-remind"}`)
	})

	intent := client.ExtractIntent(context.Background(), "avisame manana del demo")
	if intent.Intent != "reminder" {
		t.Errorf("Expected intent reminder, got %q", intent.Intent)
	}
	if intent.Confidence != 8 {
		t.Errorf("Expected confidence 8, got %v", intent.Confidence)
	}
	if intent.SuggestedCommand != "/dona-remind" {
		t.Errorf("Expected suggested command /dona-remind, got %q", intent.SuggestedCommand)
	}

	// Second extraction of the same message is served from the cache.
	client.ExtractIntent(context.Background(), "avisame manana del demo")
	if calls.Load() != 1 {
		t.Errorf("Expected 1 API call, got %d", calls.Load())
	}
}

func TestClient_ExtractIntent_FencedJSON(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "```json\n{\"intent\": \"task\", \"confidence\": 9}\n```")
	})

	intent := client.ExtractIntent(context.Background(), "crear tarea")
	if intent.Intent != "task" {
		t.Errorf("Expected intent task, got %q", intent.Intent)
	}
}

func TestClient_ExtractIntent_BadJSONFallsBack(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "claro, la intención parece ser una tarea")
	})

	intent := client.ExtractIntent(context.Background(), "necesito crear una tarea")
	if intent.Intent != "task" {
		t.Errorf("Expected keyword classifier to label task, got %q", intent.Intent)
	}
	if intent.SuggestedCommand != "/dona-task create" {
		t.Errorf("Unexpected suggested command %q", intent.SuggestedCommand)
	}
}

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"necesito crear una tarea", "task"},
		{"can you create a task for me", "task"},
		{"pon un recordatorio para las 5", "reminder"},
		{"ayuda", "help"},
		{"dame un resumen de la semana", "summary"},
		{"hola, que tal?", "question"},
	}
	for _, tc := range cases {
		got := classifyIntent(tc.message)
		if got.Intent != tc.want {
			t.Errorf("classifyIntent(%q) = %q, want %q", tc.message, got.Intent, tc.want)
		}
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := stripFences(tc.in); got != tc.want {
			t.Errorf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClient_CacheCleanup(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, `{"intent": "question", "confidence": 5}`)
	})
	client.cacheTTL = 10 * time.Millisecond

	client.ExtractIntent(context.Background(), "uno")
	client.ExtractIntent(context.Background(), "dos")

	stats := client.CacheStats()
	if stats["total_entries"] != 2 {
		t.Fatalf("Expected 2 cached entries, got %v", stats["total_entries"])
	}

	time.Sleep(20 * time.Millisecond)
	client.CleanupExpiredCache()

	stats = client.CacheStats()
	if stats["total_entries"] != 0 {
		t.Errorf("Expected cache to be emptied, got %v entries", stats["total_entries"])
	}
}
