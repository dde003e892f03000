package app

import (
	"context"
	"testing"
	"time"
)

func TestParseRateReply(t *testing.T) {
	hits, remaining, err := parseRateReply([]interface{}{int64(7), int64(42500)})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if hits != 7 {
		t.Fatalf("hits = %d, want 7", hits)
	}
	if remaining != 42500*time.Millisecond {
		t.Fatalf("remaining = %s, want 42.5s", remaining)
	}

	bad := []interface{}{
		"not a pair",
		[]interface{}{int64(1)},
		[]interface{}{"one", int64(1000)},
		[]interface{}{int64(1), "soon"},
	}
	for _, reply := range bad {
		if _, _, err := parseRateReply(reply); err == nil {
			t.Fatalf("reply %v: expected parse error", reply)
		}
	}
}

func TestCeilToSecond(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, time.Second},
		{300 * time.Millisecond, time.Second},
		{time.Second, time.Second},
		{1200 * time.Millisecond, 2 * time.Second},
		{42 * time.Second, 42 * time.Second},
	}
	for _, tc := range cases {
		if got := ceilToSecond(tc.in); got != tc.want {
			t.Fatalf("ceilToSecond(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestConsumeRateLimitDisabledWithoutClient(t *testing.T) {
	limiter := NewRedisTransferRateLimiter(nil, "")
	res, err := limiter.ConsumeRateLimit(context.Background(), "transfer", "subject", 10, time.Minute)
	if err != nil {
		t.Fatalf("disabled limiter errored: %v", err)
	}
	if !res.Allowed {
		t.Fatal("disabled limiter must allow")
	}
}
