package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	maxAttempts    = 3
	userAgent      = "toolgate-alert/1"
)

var (
	httpClient = &http.Client{Timeout: requestTimeout}
	// retryBackoff is multiplied by the attempt number between retries.
	retryBackoff = time.Second
)

// Send posts event to the webhook in cfg. 5xx responses and transport
// errors are retried; 4xx responses are not.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook canceled after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		retry, err := post(ctx, cfg, event.Type, body)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxAttempts, lastErr)
}

func post(ctx context.Context, cfg AlertConfig, eventType string, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Toolgate-Event", eventType)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false, fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
	default:
		return true, fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}
}
