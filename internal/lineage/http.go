package lineage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/withObsrvr/obsrvr-medallion/internal/logging"
)

// HTTPPublisher posts events to an HTTP endpoint.
type HTTPPublisher struct {
	endpoint string
	client   *http.Client
	retries  int
	delay    time.Duration
	log      *slog.Logger
}

// NewHTTPPublisher creates a publisher for endpoint.
func NewHTTPPublisher(endpoint string, logger *slog.Logger) *HTTPPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPPublisher{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		retries: 3,
		delay:   time.Second,
		log:     logger,
	}
}

// Name identifies the publisher in logs.
func (p *HTTPPublisher) Name() string { return "http" }

// Publish posts the event, retrying with exponential backoff.
func (p *HTTPPublisher) Publish(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := p.delay

	for attempt := 1; attempt <= p.retries; attempt++ {
		err := p.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < p.retries {
			p.log.Warn("lineage post failed, retrying",
				"attempt", attempt, "retries", p.retries, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", p.retries, lastErr)
}

func (p *HTTPPublisher) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logging.CorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.log.Debug("lineage event posted", "endpoint", p.endpoint, "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close releases resources.
func (p *HTTPPublisher) Close() error {
	return nil
}
