package retrypolicy

import (
	"context"
	"errors"
	"testing"
	"time"

	"sitesync/internal/errtypes"
)

func TestRun_SuccessFirstAttempt(t *testing.T) {
	cfg := Config{MaxRetries: 3, BackoffMin: time.Millisecond, BackoffMax: 10 * time.Millisecond, BackoffMultiplier: 2}

	attempts := 0
	err := Run(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRun_SuccessAfterTransientRetries(t *testing.T) {
	cfg := Config{MaxRetries: 3, BackoffMin: time.Millisecond, BackoffMax: 5 * time.Millisecond, BackoffMultiplier: 2}

	attempts := 0
	err := Run(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errtypes.NewTransient(errors.New("temporary failure"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRun_ExhaustsAndReturnsRetryError(t *testing.T) {
	cfg := Config{MaxRetries: 2, BackoffMin: time.Millisecond, BackoffMax: 5 * time.Millisecond, BackoffMultiplier: 2}

	attempts := 0
	err := Run(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errtypes.NewTransient(errors.New("always fails"))
	})

	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if !IsRetryExhausted(err) {
		t.Fatalf("expected RetryError, got %v", err)
	}
}

func TestRun_PermanentErrorStopsImmediately(t *testing.T) {
	cfg := Config{MaxRetries: 5, BackoffMin: time.Millisecond, BackoffMax: 5 * time.Millisecond, BackoffMultiplier: 2}

	attempts := 0
	permanentErr := errtypes.NewPermanent(errors.New("404"))
	err := Run(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return permanentErr
	})

	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, permanentErr) && err != permanentErr {
		t.Fatalf("expected the permanent error to propagate unwrapped, got %v", err)
	}
}

func TestRun_MaxRetriesZeroMeansOneAttempt(t *testing.T) {
	cfg := Config{MaxRetries: 0, BackoffMin: time.Millisecond, BackoffMax: 5 * time.Millisecond, BackoffMultiplier: 2}

	attempts := 0
	err := Run(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errtypes.NewTransient(errors.New("fails"))
	})

	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if !IsRetryExhausted(err) {
		t.Fatalf("expected RetryError, got %v", err)
	}
}

func TestRun_ContextCancelledDuringBackoff(t *testing.T) {
	cfg := Config{MaxRetries: 3, BackoffMin: 50 * time.Millisecond, BackoffMax: 100 * time.Millisecond, BackoffMultiplier: 2}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return errtypes.NewTransient(errors.New("fails"))
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (cancelled before second attempt)", attempts)
	}
}

func TestBackoffFor_BoundedByMinAndMax(t *testing.T) {
	cfg := Config{BackoffMin: 10 * time.Millisecond, BackoffMax: 40 * time.Millisecond, BackoffMultiplier: 2}

	for attemptIndex := 0; attemptIndex < 10; attemptIndex++ {
		delay := backoffFor(attemptIndex, cfg)
		if delay < cfg.BackoffMin || delay > cfg.BackoffMax {
			t.Fatalf("backoffFor(%d) = %v, want within [%v, %v]", attemptIndex, delay, cfg.BackoffMin, cfg.BackoffMax)
		}
	}
}
