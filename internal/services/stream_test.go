package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"github.com/MegaGrindStone/eightb-chat/internal/services"
)

type capturedRequests struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *capturedRequests) add(t *testing.T, r *http.Request) {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode request: %v", err)
		return
	}
	c.mu.Lock()
	c.bodies = append(c.bodies, body)
	c.mu.Unlock()
}

func (c *capturedRequests) messages(i int) []any {
	return c.list(i, "messages")
}

func (c *capturedRequests) list(i int, key string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, _ := c.bodies[i][key].([]any)
	return items
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, seq func(func(string, error) bool)) (string, error) {
	t.Helper()
	var sb strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}

func TestAnthropicSendStream(t *testing.T) {
	captured := &capturedRequests{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
			return
		}
		captured.add(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range []string{"Hi", "!"} {
			fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", text)
		}
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	client := services.NewAnthropic("secret", srv.URL, services.LLMParameters{}, discardLogger())
	session, err := client.NewSession(context.Background(), models.SessionConfig{
		Model:             "claude-test",
		SystemInstruction: "be nice",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := collect(t, session.SendStream(context.Background(), []models.Part{
		{MIMEType: "image/png", Data: "iVBORw0K"},
		{Text: "Hello"},
	}))
	if err != nil {
		t.Fatalf("SendStream() error = %v", err)
	}
	if got != "Hi!" {
		t.Errorf("reply = %q, want %q", got, "Hi!")
	}

	if _, err := collect(t, session.SendStream(context.Background(), []models.Part{{Text: "again"}})); err != nil {
		t.Fatalf("second SendStream() error = %v", err)
	}

	first := captured.messages(0)
	if len(first) != 1 {
		t.Fatalf("first request has %d messages, want 1", len(first))
	}
	blocks := first[0].(map[string]any)["content"].([]any)
	if typ := blocks[0].(map[string]any)["type"]; typ != "image" {
		t.Errorf("first block type = %v, want image", typ)
	}
	if second := captured.messages(1); len(second) != 3 {
		t.Errorf("second request has %d messages, want 3 (history + new turn)", len(second))
	}
}

func TestAnthropicErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	client := services.NewAnthropic("wrong", srv.URL, services.LLMParameters{}, discardLogger())
	session, err := client.NewSession(context.Background(), models.SessionConfig{Model: "claude-test"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = collect(t, session.SendStream(context.Background(), []models.Part{{Text: "Hello"}}))
	if err == nil || !strings.Contains(err.Error(), "invalid x-api-key") {
		t.Errorf("SendStream() error = %v, want authentication error", err)
	}
}

func TestOpenAISendStream(t *testing.T) {
	captured := &capturedRequests{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		captured.add(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range []string{"A", "B", "C"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", text)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := services.NewOpenAI("secret", srv.URL, services.LLMParameters{}, discardLogger())
	session, err := client.NewSession(context.Background(), models.SessionConfig{
		Model:             "gpt-test",
		SystemInstruction: "be nice",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := collect(t, session.SendStream(context.Background(), []models.Part{
		{MIMEType: "image/jpeg", Data: "/9j/4AAQ"},
		{Text: "What is this?"},
	}))
	if err != nil {
		t.Fatalf("SendStream() error = %v", err)
	}
	if got != "ABC" {
		t.Errorf("reply = %q, want ABC", got)
	}

	msgs := captured.messages(0)
	if len(msgs) != 2 {
		t.Fatalf("request has %d messages, want system + user", len(msgs))
	}
	user := msgs[1].(map[string]any)
	content, ok := user["content"].([]any)
	if !ok || len(content) != 2 {
		t.Fatalf("user content = %v, want two parts", user["content"])
	}
	imagePart := content[0].(map[string]any)
	if imagePart["type"] != "image_url" {
		t.Errorf("first part type = %v, want image_url", imagePart["type"])
	}
	url := imagePart["image_url"].(map[string]any)["url"]
	if url != "data:image/jpeg;base64,/9j/4AAQ" {
		t.Errorf("image url = %v", url)
	}
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"requests"}}`)
	}))
	defer srv.Close()

	client := services.NewOpenAI("secret", srv.URL, services.LLMParameters{}, discardLogger())
	session, err := client.NewSession(context.Background(), models.SessionConfig{Model: "gpt-test"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := collect(t, session.SendStream(context.Background(), []models.Part{{Text: "hi"}})); err == nil {
		t.Error("SendStream() should fail on error status")
	}
}

func TestOllamaSendStream(t *testing.T) {
	captured := &capturedRequests{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		captured.add(t, r)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, text := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "{\"model\":\"llava\",\"message\":{\"role\":\"assistant\",\"content\":%q},\"done\":false}\n", text)
		}
		fmt.Fprint(w, "{\"model\":\"llava\",\"message\":{\"role\":\"assistant\",\"content\":\"\"},\"done\":true}\n")
	}))
	defer srv.Close()

	client, err := services.NewOllama(srv.URL, services.LLMParameters{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	session, err := client.NewSession(context.Background(), models.SessionConfig{Model: "llava"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := collect(t, session.SendStream(context.Background(), []models.Part{
		{MIMEType: "image/png", Data: "aGVsbG8="},
		{Text: "describe"},
	}))
	if err != nil {
		t.Fatalf("SendStream() error = %v", err)
	}
	if got != "Hello" {
		t.Errorf("reply = %q, want Hello", got)
	}

	msgs := captured.messages(0)
	if len(msgs) != 2 {
		t.Fatalf("request has %d messages, want system + user", len(msgs))
	}
	images, _ := msgs[1].(map[string]any)["images"].([]any)
	if len(images) != 1 || images[0] != "aGVsbG8=" {
		t.Errorf("images = %v, want the base64 payload", images)
	}
}

func TestGeminiSendStream(t *testing.T) {
	captured := &capturedRequests{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-test:streamGenerateContent" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-goog-api-key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		captured.add(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hello \"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"there\"}]},\"finishReason\":\"STOP\"}]}\n\n")
	}))
	defer srv.Close()

	client, err := services.NewGemini(context.Background(), "secret", srv.URL, services.LLMParameters{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	session, err := client.NewSession(context.Background(), models.SessionConfig{
		Model:             "gemini-test",
		SystemInstruction: "be nice",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := collect(t, session.SendStream(context.Background(), []models.Part{
		{MIMEType: "image/png", Data: "aGVsbG8="},
		{Text: "Hello"},
	}))
	if err != nil {
		t.Fatalf("SendStream() error = %v", err)
	}
	if got != "Hello there" {
		t.Errorf("reply = %q, want %q", got, "Hello there")
	}

	if _, err := collect(t, session.SendStream(context.Background(), []models.Part{{Text: "again"}})); err != nil {
		t.Fatalf("second SendStream() error = %v", err)
	}

	first := captured.list(0, "contents")
	if len(first) != 1 {
		t.Fatalf("first request has %d contents, want 1", len(first))
	}
	parts := first[0].(map[string]any)["parts"].([]any)
	inline, ok := parts[0].(map[string]any)["inlineData"].(map[string]any)
	if !ok || inline["mimeType"] != "image/png" || inline["data"] != "aGVsbG8=" {
		t.Errorf("first part = %v, want inline png", parts[0])
	}
	second := captured.list(1, "contents")
	if len(second) < 3 {
		t.Fatalf("second request has %d contents, want history + new turn", len(second))
	}
	if role := second[1].(map[string]any)["role"]; role != "model" {
		t.Errorf("history reply role = %v, want model", role)
	}
	last := second[len(second)-1].(map[string]any)["parts"].([]any)
	if text := last[0].(map[string]any)["text"]; text != "again" {
		t.Errorf("new turn text = %v, want again", text)
	}
}

func TestGeminiErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`)
	}))
	defer srv.Close()

	client, err := services.NewGemini(context.Background(), "wrong", srv.URL, services.LLMParameters{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	session, err := client.NewSession(context.Background(), models.SessionConfig{Model: "gemini-test"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = collect(t, session.SendStream(context.Background(), []models.Part{{Text: "Hello"}}))
	if err == nil || !strings.Contains(err.Error(), "API key not valid") {
		t.Errorf("SendStream() error = %v, want permission error", err)
	}
}
