package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	maxBackoff    = 30 * time.Second
	maxRetryAfter = time.Minute
)

// send posts body upstream, retrying while no response has been accepted.
// Only the connect phase is retried: once a 2xx response is returned the
// body belongs to the caller. The last attempt's response is returned
// whatever its status so the provider's error body can be decoded into an
// *UpstreamError.
func (c *client) send(ctx context.Context, body []byte) (*http.Response, error) {
	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var (
		lastErr error
		wait    time.Duration
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if wait <= 0 {
				wait = backoff(c.cfg.BaseBackoff, attempt-1)
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		resp, err := c.doOnce(ctx, body)
		final := attempt == attempts-1

		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			if !retryableNetError(err) {
				return nil, err
			}
			lastErr = err
			wait = 0
		case !retryableStatus(resp.StatusCode) || final:
			return resp, nil
		default:
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			wait = retryAfter(resp.Header.Get("Retry-After"))
			discard(resp)
		}

		c.logger.Debug("llm upstream attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("duration", time.Since(start)),
			zap.Duration("retry_after", wait),
			zap.Error(lastErr),
		)
	}

	c.logger.Warn("llm upstream retries exhausted",
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("llmclient: %d attempts failed: %w", attempts, lastErr)
}

// retryableStatus reports statuses worth another attempt: 408, 429, 5xx.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500 && status <= 599
}

// retryableNetError reports failures where the provider likely never saw
// the request, or dropped it before answering.
func retryableNetError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// retryAfter parses a Retry-After value given in seconds or as an HTTP
// date. Zero means absent or unusable.
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}

	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}

	if d <= 0 {
		return 0
	}
	return min(d, maxRetryAfter)
}

// backoff is exponential with full jitter: uniform in [0, base*2^attempt),
// capped at maxBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	ceiling := base << min(attempt, 16)
	if ceiling <= 0 || ceiling > maxBackoff {
		ceiling = maxBackoff
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// discard drains a rejected response so its connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}
