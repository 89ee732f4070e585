// Package notify sends terminal-status notifications for finished runs.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Notifier delivers a message to one destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, message string) error
}

// Registry holds configured notifiers by name.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

func NewRegistry() *Registry {
	return &Registry{notifiers: make(map[string]Notifier)}
}

func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n.Name()] = n
}

func (r *Registry) Get(name string) Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifiers[name]
}

// NotifyAll sends the message to every registered notifier, returning the
// first error after trying them all.
func (r *Registry) NotifyAll(ctx context.Context, message string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, message); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", n.Name(), err)
		}
	}
	return firstErr
}

// SlackWebhook posts to a Slack incoming webhook.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
	Client     *http.Client
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	payload := map[string]any{"text": message}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// TerminalMessage renders the standard end-of-run notification.
func TerminalMessage(taskID, status, description, reason string) string {
	msg := fmt.Sprintf("proofloop: task %s finished with status %s (%s)", taskID, status, description)
	if reason != "" {
		msg += " - " + reason
	}
	return msg
}
