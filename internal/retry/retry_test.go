package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kandev/orchestratorhub/internal/errkind"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.TotalTimeout = time.Second
	return cfg
}

func TestDoPermanentlyFailingRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("connection timed out")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(rerr.Attempts) != 3 {
		t.Errorf("attempts = %d, want 3", len(rerr.Attempts))
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fatal: authentication failed")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if rerr.Kind != errkind.Auth {
		t.Errorf("kind = %q, want auth", rerr.Kind)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetryThenSucceed(t *testing.T) {
	calls := 0
	val, err := Do(context.Background(), fastConfig(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection timed out")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Errorf("val = %q, want ok", val)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
