package quota

import (
	"testing"
	"time"
)

func TestParseResetAfter(t *testing.T) {
	tests := []struct {
		message string
		want    time.Duration
		ok      bool
	}{
		{"quota exceeded, reset after 1h30m", 90 * time.Minute, true},
		{"Reset After 45s", 45 * time.Second, true},
		{"will reset after 2h", 2 * time.Hour, true},
		{"reset after 41.205s", 41205 * time.Millisecond, true},
		{"quota exceeded", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseResetAfter(tt.message)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseResetAfter(%q) = %v, %v; want %v, %v", tt.message, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseQuotaResetDelay(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"3h22m41.205s", 3*time.Hour + 22*time.Minute + 41205*time.Millisecond, true},
		{"60s", time.Minute, true},
		{"0s", 0, false},
		{"-5m", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseQuotaResetDelay(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseQuotaResetDelay(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
