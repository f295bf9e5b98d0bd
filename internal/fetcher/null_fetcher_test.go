package fetcher

import (
	"context"
	"testing"

	"sitesync/internal/errtypes"
	"sitesync/internal/model"
)

func TestNullFetcher_SucceedsImmediatelyByDefault(t *testing.T) {
	f := &NullFetcher{}
	result, err := f.Fetch(context.Background(), model.Task{URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if result.Checksum == "" {
		t.Fatal("expected a checksum")
	}
}

func TestNullFetcher_FailsTransientlyUntilThreshold(t *testing.T) {
	f := &NullFetcher{FailUntilAttempt: 3}

	task := model.Task{URL: "https://example.com/a", AttemptCount: 0}
	_, err := f.Fetch(context.Background(), task)
	if !errtypes.IsTransient(err) {
		t.Fatalf("expected transient error on attempt 1, got %v", err)
	}

	task.AttemptCount = 1
	_, err = f.Fetch(context.Background(), task)
	if !errtypes.IsTransient(err) {
		t.Fatalf("expected transient error on attempt 2, got %v", err)
	}

	task.AttemptCount = 2
	_, err = f.Fetch(context.Background(), task)
	if err != nil {
		t.Fatalf("expected success on attempt 3, got %v", err)
	}
}

func TestNullFetcher_FailPermanently(t *testing.T) {
	f := &NullFetcher{FailUntilAttempt: 2, FailPermanently: true}
	_, err := f.Fetch(context.Background(), model.Task{})
	if !errtypes.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
