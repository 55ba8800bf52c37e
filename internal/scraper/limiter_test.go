package scraper

import (
	"context"
	"testing"
	"time"
)

func TestHostLimiter(t *testing.T) {
	limiter := NewHostLimiter(100 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := limiter.Wait(ctx, "https://www.revolico.com/search?page=1"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := limiter.Wait(ctx, "https://www.revolico.com/search?page=2"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("same host was not limited, elapsed %v", elapsed)
	}

	start = time.Now()
	if err := limiter.Wait(ctx, "https://other.example.com/"); err != nil {
		t.Fatalf("other host wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("other host was limited, elapsed %v", elapsed)
	}
}

func TestHostLimiterDisabled(t *testing.T) {
	var nilLimiter *HostLimiter
	if err := nilLimiter.Wait(context.Background(), "https://a.example"); err != nil {
		t.Errorf("nil limiter: %v", err)
	}

	limiter := NewHostLimiter(0)
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(context.Background(), "https://a.example"); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("zero interval should not wait, elapsed %v", elapsed)
	}
}

func TestHostLimiterContextCancelled(t *testing.T) {
	limiter := NewHostLimiter(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if err := limiter.Wait(ctx, "https://a.example"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	cancel()
	if err := limiter.Wait(ctx, "https://a.example"); err == nil {
		t.Error("expected error after cancel")
	}
}
