package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestRateLimiter() *RateLimiter {
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetLevel(logrus.DebugLevel)
	return NewRateLimiter(100*time.Millisecond, log)
}

func TestApplyDelay_RespectsContextCancellation(t *testing.T) {
	rl := newTestRateLimiter()
	host := "example.com"

	// Simulate a recent request so delay is needed
	rl.UpdateLastRequestTime(host)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // pre-cancel

	start := time.Now()
	err := rl.ApplyDelay(ctx, host, 5*time.Second)
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("ApplyDelay with cancelled context took %v, expected <100ms", elapsed)
	}
}

func TestApplyDelay_SleepsForExpectedDuration(t *testing.T) {
	rl := newTestRateLimiter()
	host := "example.com"

	// Simulate a recent request so delay is needed
	rl.UpdateLastRequestTime(host)

	start := time.Now()
	if err := rl.ApplyDelay(context.Background(), host, 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)

	// Allow for jitter (+/- 10%) and timer imprecision
	if elapsed < 50*time.Millisecond {
		t.Errorf("ApplyDelay returned too quickly: %v, expected ~100ms", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("ApplyDelay took too long: %v, expected ~100ms", elapsed)
	}
}

func TestApplyDelay_NoDelayOnFirstRequest(t *testing.T) {
	rl := newTestRateLimiter()
	host := "fresh-host.com"

	start := time.Now()
	rl.ApplyDelay(context.Background(), host, 5*time.Second)
	elapsed := time.Since(start)

	if elapsed > 10*time.Millisecond {
		t.Errorf("ApplyDelay on first request took %v, expected instant return", elapsed)
	}
}

func TestApplyDelay_FallsBackToDefaultDelay(t *testing.T) {
	rl := newTestRateLimiter()
	host := "default.example.com"
	rl.UpdateLastRequestTime(host)

	start := time.Now()
	rl.ApplyDelay(context.Background(), host, 0)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected default 100ms delay to apply, returned after %v", elapsed)
	}
}

func TestApplyDelay_HostsAreIndependent(t *testing.T) {
	rl := newTestRateLimiter()
	rl.UpdateLastRequestTime("busy.example.com")

	start := time.Now()
	rl.ApplyDelay(context.Background(), "idle.example.com", 5*time.Second)
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("delay on one host leaked to another: %v", elapsed)
	}
}
