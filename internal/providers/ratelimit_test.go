package providers

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_Basic(t *testing.T) {
	rl := NewRateLimiter(60)

	for i := 0; i < 60; i++ {
		if err := rl.Wait(t.Context()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	st := rl.Status()
	if st.TotalConsumed != 60 {
		t.Errorf("TotalConsumed = %d, want 60", st.TotalConsumed)
	}
	if st.TokensAvailable != 0 {
		t.Errorf("TokensAvailable = %d, want 0", st.TokensAvailable)
	}
}

func TestRateLimiter_Default(t *testing.T) {
	if got := NewRateLimiter(0).Status().PerMinute; got != 30 {
		t.Errorf("PerMinute = %v, want 30", got)
	}
}

func TestRateLimiter_ContextCancel(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Wait(t.Context())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait() should fail once the context is done")
	}
}

func TestRateLimiter_Record429(t *testing.T) {
	rl := NewRateLimiter(60)
	rl.Record429(5 * time.Second)
	st := rl.Status()
	if st.TokensAvailable != 0 {
		t.Errorf("TokensAvailable = %d, want 0 after 429", st.TokensAvailable)
	}
	if st.Last429Time.IsZero() {
		t.Error("Last429Time not set")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
