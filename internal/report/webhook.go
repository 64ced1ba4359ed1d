package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seantiz/outletwatch/internal/model"
)

// WebhookConfig holds the webhook sink settings.
type WebhookConfig struct {
	URL           string
	RetryAttempts int
	RetryDelay    time.Duration
	Timeout       time.Duration
}

// DefaultWebhookConfig returns the webhook defaults for url.
func DefaultWebhookConfig(url string) WebhookConfig {
	return WebhookConfig{
		URL:           url,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		Timeout:       10 * time.Second,
	}
}

// WebhookSink posts the report as JSON.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	return &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// WebhookPayload is the JSON body posted to the webhook.
type WebhookPayload struct {
	RunID          string         `json:"run_id,omitempty"`
	GeneratedAt    time.Time      `json:"generated_at"`
	TotalChecked   int            `json:"total_checked"`
	TotalOutlets   int            `json:"total_outlets"`
	Partial        bool           `json:"partial"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Histogram      map[string]int `json:"histogram"`
	Unresolved     []string       `json:"unresolved,omitempty"`
	Results        []model.Result `json:"results"`
}

// Payload converts r into the webhook body.
func Payload(r *Report) WebhookPayload {
	return WebhookPayload{
		RunID:          r.RunID,
		GeneratedAt:    r.GeneratedAt.UTC(),
		TotalChecked:   r.TotalChecked(),
		TotalOutlets:   r.TotalOutlets,
		Partial:        r.Partial(),
		ElapsedSeconds: r.Elapsed.Seconds(),
		Histogram:      r.Histogram(),
		Unresolved:     r.Unresolved,
		Results:        r.Results,
	}
}

// Send implements Sink.
func (s *WebhookSink) Send(ctx context.Context, r *Report, _ []Document) error {
	data, err := json.Marshal(Payload(r))
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		if lastErr = s.post(ctx, data); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("webhook: failed after %d attempts: %w", s.cfg.RetryAttempts+1, lastErr)
}

func (s *WebhookSink) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, body)
	}
	return nil
}
