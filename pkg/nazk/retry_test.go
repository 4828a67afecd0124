package nazk

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryWithBackoffSucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), fastRetryConfig(), func(attempt int) error {
		attempts++
		return nil
	}, func(error) ErrorClass { return ErrorClassServer })

	if err != nil {
		t.Errorf("retryWithBackoff() error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithBackoffRecoversFromTransientErrors(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), fastRetryConfig(), func(attempt int) error {
		attempts++
		if attempts < 3 {
			return &APIError{StatusCode: 503, ErrorClass: ErrorClassServer, Message: "unavailable"}
		}
		return nil
	}, classifyError)

	if err != nil {
		t.Errorf("retryWithBackoff() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoffStopsOnClientError(t *testing.T) {
	attempts := 0
	apiErr := &APIError{StatusCode: 400, ErrorClass: ErrorClassClient, Message: "bad request"}
	err := retryWithBackoff(context.Background(), fastRetryConfig(), func(attempt int) error {
		attempts++
		return apiErr
	}, classifyError)

	if !errors.Is(err, apiErr) {
		t.Errorf("retryWithBackoff() error = %v, want the client error unchanged", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (client errors must not retry)", attempts)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), fastRetryConfig(), func(attempt int) error {
		attempts++
		return &APIError{StatusCode: 500, ErrorClass: ErrorClassServer, Message: "boom"}
	}, classifyError)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("retryWithBackoff() error = %v, want ErrRetryExhausted", err)
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRetryWithBackoffRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := fastRetryConfig()
	cfg.InitialBackoff = time.Hour

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- retryWithBackoff(ctx, cfg, func(attempt int) error {
			attempts++
			return &APIError{StatusCode: 503, ErrorClass: ErrorClassServer}
		}, classifyError)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrContextCancelled) {
			t.Errorf("retryWithBackoff() error = %v, want ErrContextCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retryWithBackoff did not return after context cancellation")
	}

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (cancelled during first backoff)", attempts)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%s) = %v, want %v", tt.class, got, tt.want)
		}
	}
}
