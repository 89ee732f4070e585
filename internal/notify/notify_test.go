package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSlackWebhookNotify(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := SlackWebhook{WebhookURL: srv.URL, Channel: "#runs", Username: "proofloop"}
	if err := s.Notify(context.Background(), "task done"); err != nil {
		t.Fatal(err)
	}
	if got["text"] != "task done" || got["channel"] != "#runs" {
		t.Fatalf("payload = %v", got)
	}
}

func TestSlackWebhookErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := SlackWebhook{WebhookURL: srv.URL}
	if err := s.Notify(context.Background(), "x"); err == nil {
		t.Fatal("expected error on non-2xx response")
	}

	var unset SlackWebhook
	if err := unset.Notify(context.Background(), "x"); err == nil {
		t.Fatal("expected error with no webhook URL")
	}
}

func TestRegistryNotifyAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := NewRegistry()
	reg.Register(SlackWebhook{WebhookURL: srv.URL})
	if err := reg.NotifyAll(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if reg.Get("slack") == nil {
		t.Fatal("registered notifier must be retrievable")
	}
}

func TestTerminalMessage(t *testing.T) {
	msg := TerminalMessage("abc", "stopped", "add retries", "Max iterations reached")
	if !strings.Contains(msg, "abc") || !strings.Contains(msg, "stopped") || !strings.Contains(msg, "Max iterations") {
		t.Fatalf("msg = %q", msg)
	}
}
