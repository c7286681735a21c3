package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{409, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableWorkerCode(t *testing.T) {
	if !IsRetryableWorkerCode("browser_busy") {
		t.Fatalf("browser_busy should be retryable")
	}
	if IsRetryableWorkerCode("invalid_goal") {
		t.Fatalf("invalid_goal should not be retryable")
	}
}

func TestIsRetryableNetError(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if !IsRetryableNetError(fmt.Errorf("connect worker: %w", dialErr)) {
		t.Fatalf("wrapped dial error should be retryable")
	}
	if IsRetryableNetError(context.Canceled) {
		t.Fatalf("context.Canceled should not be retryable")
	}
	if IsRetryableNetError(errors.New("bad handshake")) {
		t.Fatalf("plain error should not be retryable")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want %v", got, 400*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
