package retry

import (
	"testing"
	"time"
)

func TestExponentialDoublesAndCaps(t *testing.T) {
	e := NewExponential(3*time.Second, 10*time.Second)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 3 * time.Second},
		{1, 3 * time.Second},
		{2, 6 * time.Second},
		{3, 10 * time.Second},
		{40, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Fatalf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialUncapped(t *testing.T) {
	e := NewExponential(2*time.Second, 0)
	if got := e.Delay(3); got != 8*time.Second {
		t.Fatalf("Delay(3) = %v, want 8s", got)
	}
}

func TestPolicies(t *testing.T) {
	if p := AnalysisPolicy(); p.MaxRetries != 2 || p.Backoff.Delay(1) != 3*time.Second {
		t.Fatalf("unexpected analysis policy %+v", p)
	}
	if p := ProtocolPolicy(); p.MaxRetries != 2 || p.Backoff.Delay(2) != 4*time.Second {
		t.Fatalf("unexpected protocol policy %+v", p)
	}
}
