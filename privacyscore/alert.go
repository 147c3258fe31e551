package privacyscore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Alert is raised when an address scores below the threshold.
type Alert struct {
	Address         string    `json:"address"`
	Score           int       `json:"score"`
	Grade           string    `json:"grade"`
	Threshold       int       `json:"threshold"`
	Recommendations []string  `json:"recommendations,omitempty"`
	At              time.Time `json:"at"`
}

// AlertSink delivers low-privacy alerts to operators.
type AlertSink interface {
	Alert(ctx context.Context, a Alert) error
}

// LogSink writes alerts as warnings.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Alert(_ context.Context, a Alert) error {
	s.Log.Warn("low privacy score",
		"address", a.Address,
		"score", a.Score,
		"grade", a.Grade,
		"threshold", a.Threshold,
		"recommendations", a.Recommendations)
	return nil
}

// WebhookSink posts alerts as JSON to URL.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

// NewWebhookSink returns a sink posting to url with a bounded timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *WebhookSink) Alert(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
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
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
