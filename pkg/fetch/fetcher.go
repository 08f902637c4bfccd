package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/config"
	"github.com/jobscan/jobscan/pkg/utils"
)

// RetryPolicy bounds the attempts made for one request
type RetryPolicy struct {
	MaxRetries     int           // Retries after the first attempt
	InitialDelay   time.Duration // Backoff before the first retry, doubled per retry
	MaxDelay       time.Duration // Cap for backoff and Retry-After waits
	AttemptTimeout time.Duration // Per-attempt bound, 0 = rely on the client timeout
}

// PolicyFromConfig builds the global retry policy from application config
func PolicyFromConfig(cfg *config.AppConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     cfg.RetryBudget(),
		InitialDelay:   cfg.InitialRetryDelay,
		MaxDelay:       cfg.MaxRetryDelay,
		AttemptTimeout: cfg.FetchTimeout,
	}
}

// Response is a completed HTTP exchange with its body already read
type Response struct {
	StatusCode int
	Header     http.Header
	FinalURL   string // URL after redirects
	Body       []byte
	Truncated  bool // Body exceeded the configured limit and was cut
	Attempts   int
}

// Fetcher handles making HTTP requests with configured retry logic, using an underlying http.Client
type Fetcher struct {
	client       *http.Client
	maxBodyBytes int64
	clock        clock.Clock
	log          *logrus.Entry
}

// NewFetcher creates a new Fetcher instance. A nil clock uses the wall clock.
func NewFetcher(client *http.Client, maxBodyBytes int64, clk clock.Clock, log *logrus.Entry) *Fetcher {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Fetcher{
		client:       client,
		maxBodyBytes: maxBodyBytes,
		clock:        clk,
		log:          log,
	}
}

// FetchWithRetry performs a GET-style request, retrying transient failures with
// exponential backoff and jitter. Connection errors, attempt timeouts, 5xx and
// 429 are transient; 429 honours Retry-After. Other 4xx, unexpected statuses and
// unresolvable hosts are terminal. Failures are always returned as *FetchError.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request, policy RetryPolicy) (*Response, error) {
	var lastErr error
	var lastStatus int
	var retryAfter time.Duration

	reqLog := f.log.WithField("url", req.URL.String())
	fail := func(attempts int, transient bool, err error) (*Response, error) {
		return nil, &FetchError{
			URL:        req.URL.String(),
			StatusCode: lastStatus,
			Attempts:   attempts,
			Transient:  transient,
			Err:        err,
		}
	}

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return fail(attempt, true, fmt.Errorf("context cancelled (%w) after error: %w", ctx.Err(), lastErr))
			}
			return fail(attempt, false, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err()))
		}

		// --- Backoff before retries ---
		if attempt > 0 {
			delay := backoffDelay(policy, attempt)
			if retryAfter > delay {
				delay = retryAfter
			}
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
			retryAfter = 0

			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": policy.MaxRetries, "delay": delay}).Warn("Retrying request...")
			select {
			case <-f.clock.After(delay):
			case <-ctx.Done():
				return fail(attempt, true, fmt.Errorf("context cancelled (%w) during retry delay after error: %w", ctx.Err(), lastErr))
			}
		}

		resp, err := f.attempt(ctx, req, policy.AttemptTimeout)

		// --- Network-level errors ---
		if err != nil {
			if ctx.Err() != nil {
				// The caller's context ended; the cycle is shutting this fetch down.
				return fail(attempt+1, false, fmt.Errorf("request aborted: %w", err))
			}
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				reqLog.WithError(err).Warn("Host does not resolve, not retrying")
				return fail(attempt+1, false, fmt.Errorf("%w: %w", utils.ErrInvalidURL, err))
			}
			if errors.Is(err, utils.ErrPrivateNetwork) {
				return fail(attempt+1, false, err)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				lastErr = fmt.Errorf("attempt timed out after %v: %w", policy.AttemptTimeout, err)
			} else {
				lastErr = err
			}
			reqLog.WithField("attempt", attempt).Warnf("Network error: %v", err)
			continue
		}

		// --- HTTP status codes ---
		lastStatus = resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": resp.StatusCode, "attempt": attempt})

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			resLog.Debug("Successfully fetched")
			resp.Attempts = attempt + 1
			return resp, nil

		case resp.StatusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d", utils.ErrServerHTTPError, resp.StatusCode)
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), f.clock.Now())
			resLog.WithField("retry_after", retryAfter).Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d", utils.ErrClientHTTPError, resp.StatusCode)
			continue

		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			resLog.Warn("Client error (4xx), not retrying")
			return fail(attempt+1, false, fmt.Errorf("%w: status %d", utils.ErrClientHTTPError, resp.StatusCode))

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", resp.StatusCode)
			return fail(attempt+1, false, fmt.Errorf("%w: status %d", utils.ErrOtherHTTPError, resp.StatusCode))
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", policy.MaxRetries+1, lastErr)
	return fail(policy.MaxRetries+1, true, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr))
}

// attempt performs one request under its own timeout and reads the body.
func (f *Fetcher) attempt(ctx context.Context, req *http.Request, timeout time.Duration) (*Response, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpResp, err := f.client.Do(req.Clone(attemptCtx))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		FinalURL:   httpResp.Request.URL.String(),
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 64<<10))
		return resp, nil
	}

	reader := io.Reader(httpResp.Body)
	if f.maxBodyBytes > 0 {
		reader = io.LimitReader(httpResp.Body, f.maxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if f.maxBodyBytes > 0 && int64(len(body)) > f.maxBodyBytes {
		body = body[:f.maxBodyBytes]
		resp.Truncated = true
	}
	resp.Body = body
	return resp, nil
}

// backoffDelay returns initial * 2^(attempt-1), capped, with +/- 10% jitter
func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	backoff := float64(policy.InitialDelay) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay <= 0 || (policy.MaxDelay > 0 && delay > policy.MaxDelay) {
		delay = policy.MaxDelay
	}
	if delay <= 0 {
		return 0
	}

	var jitter time.Duration
	if jitterRange := int64(delay) / 5; jitterRange > 0 {
		jitter = time.Duration(rand.Int63n(jitterRange)) - (delay / 10)
	}
	if final := delay + jitter; final > 0 {
		return final
	}
	return 0
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
