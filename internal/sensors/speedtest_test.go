package sensors

import (
	"testing"
	"time"
)

func TestMbpsComputesFromBytesAndElapsed(t *testing.T) {
	// 1,000,000 bytes in 1 second = 8 Mbps.
	got := mbps(1_000_000, time.Second)
	if got < 7.9 || got > 8.1 {
		t.Fatalf("expected ~8 Mbps, got %v", got)
	}
}

func TestMbpsZeroElapsedIsZero(t *testing.T) {
	if got := mbps(1_000_000, 0); got != 0 {
		t.Fatalf("expected 0 for zero elapsed, got %v", got)
	}
}
