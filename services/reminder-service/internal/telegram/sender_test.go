package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBotSender_Send(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewBotSenderWithBaseURL("test-token", srv.URL)
	if err := s.Send(context.Background(), 42, "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["chat_id"] != float64(42) || gotBody["text"] != "hello" {
		t.Fatalf("unexpected payload: %v", gotBody)
	}
}

func TestBotSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewBotSenderWithBaseURL("test-token", srv.URL)
	if err := s.Send(context.Background(), 42, "hello"); err == nil {
		t.Fatalf("expected error on non-2xx response")
	}
}

func TestBotSender_MissingToken(t *testing.T) {
	s := NewBotSender("")
	if err := s.Send(context.Background(), 42, "hello"); err == nil {
		t.Fatalf("expected error when token is not configured")
	}
}
