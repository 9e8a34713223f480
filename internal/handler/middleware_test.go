package handler

import (
	"testing"
	"time"
)

func TestIPLimiter(t *testing.T) {
	tests := []struct {
		name      string
		perWindow int
		window    time.Duration
		wantBurst int
	}{
		{"configured", 3, time.Minute, 3},
		{"zero rate", 0, time.Minute, defaultRateLimit},
		{"negative rate", -5, time.Minute, defaultRateLimit},
		{"zero window", 3, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newIPLimiter(tt.perWindow, tt.window)
			t.Cleanup(l.Stop)

			for i := 0; i < tt.wantBurst; i++ {
				if !l.Allow("10.0.0.1") {
					t.Fatalf("request %d rejected within burst %d", i+1, tt.wantBurst)
				}
			}
			if l.Allow("10.0.0.1") {
				t.Error("request past the burst was allowed")
			}
			if !l.Allow("10.0.0.2") {
				t.Error("a different IP shares the bucket")
			}
		})
	}
}
