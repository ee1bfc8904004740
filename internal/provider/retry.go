package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

const maxRetries = 3

// retryBaseDelay scales the quadratic backoff between attempts.
var retryBaseDelay = time.Second

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry executes an HTTP request with backoff for transient errors
// (network failures, 5xx, 429). A Retry-After header on 429 is honored.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var (
		lastErr    error
		retryAfter time.Duration
	)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * retryBaseDelay
			backoff := base + time.Duration(rand.Int64N(int64(base/2+1)))
			if retryAfter > backoff {
				backoff = retryAfter
			}
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < maxRetries {
				logger.Warn("request failed, will retry", "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < maxRetries {
				logger.Warn("server error, will retry", "status", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}

// parseRetryAfter reads a delay in seconds, capped at one minute.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
