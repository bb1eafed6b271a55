package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

// WebhookSender posts outbound chat messages (WhatsApp-style) to a relay
// webhook. The relay owns the provider credentials; this process is
// configured with a URL and bearer token only, never a client singleton.
type WebhookSender struct {
	url       string
	token     string
	namespace string
	http      *http.Client
}

// NewWebhookSender builds a sender. namespace prefixes the recipient the
// way chat providers address users, e.g. "whatsapp" turns +15550100 into
// whatsapp:+15550100.
func NewWebhookSender(url string, token string, namespace string) *WebhookSender {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "whatsapp"
	}
	return &WebhookSender{
		url:       strings.TrimSpace(url),
		token:     strings.TrimSpace(token),
		namespace: namespace,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "chat-webhook"
}

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	if s.url == "" {
		return errors.New("chat webhook url not configured")
	}
	payload := map[string]string{
		"to":   s.namespace + ":" + to,
		"body": body,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("chat webhook returned non-2xx")
	}
	return nil
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "chat-noop"
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string) error {
	return nil
}
