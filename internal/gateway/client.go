package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

var (
	// ErrUpstreamTimeout means the provider did not answer within the
	// configured deadline; the caller's state is unchanged and a retry is safe.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUntrustedCallback means a callback failed signature verification
	// and must not be allowed to mutate any state.
	ErrUntrustedCallback = errors.New("untrusted callback signature")
)

// UpstreamError is a non-timeout failure from an external provider.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream error: status %d: %s", e.Service, e.StatusCode, e.Body)
}

// postJSON issues a POST with bounded exponential backoff. Transient
// failures (network errors, 5xx) are retried up to maxAttempts; timeouts
// and 4xx are not retried. The response body is returned on 2xx.
func postJSON(ctx context.Context, client *http.Client, service, url string, headers map[string]string, payload []byte, maxAttempts int) ([]byte, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%s request: %w", service, ErrUpstreamTimeout)
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", service, err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			if isTimeout(err) {
				return nil, fmt.Errorf("%s request: %w", service, ErrUpstreamTimeout)
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode >= 500:
			lastErr = &UpstreamError{Service: service, StatusCode: resp.StatusCode, Body: string(body)}
			continue
		default:
			return nil, &UpstreamError{Service: service, StatusCode: resp.StatusCode, Body: string(body)}
		}
	}

	var upErr *UpstreamError
	if errors.As(lastErr, &upErr) {
		return nil, upErr
	}
	return nil, fmt.Errorf("%s request after %d attempts: %w", service, maxAttempts, lastErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
