package domain

import (
	"testing"
	"time"
)

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{6, 32 * time.Minute},
		{7, time.Hour},
		{8, time.Hour},
		{40, time.Hour},
	}
	for _, c := range cases {
		if got := RetryDelay(c.attempt); got != c.want {
			t.Fatalf("RetryDelay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestTerminalWrapping(t *testing.T) {
	if !IsTerminal(ErrAuthRevoked) {
		t.Fatalf("ErrAuthRevoked should be terminal")
	}
	if !IsTerminal(ErrIntegrationInactive) {
		t.Fatalf("ErrIntegrationInactive should be terminal")
	}
	if IsTerminal(ErrUnknownJobKind) {
		t.Fatalf("plain errors should not be terminal")
	}
	if Terminal(nil) != nil {
		t.Fatalf("Terminal(nil) should be nil")
	}
	if !IsTerminal(Terminal(ErrMissingIntegration)) {
		t.Fatalf("Terminal-wrapped error should be terminal")
	}
}
