package intent

import "testing"

func TestDetectScheduling(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"can we schedule a meeting next week?", true},
		{"when are you available?", true},
		{"I'd like to book some time", true},
		{"let's catch up soon", true},
		{"Are you free to MEET tomorrow", true},
		{"what are your opening hours?", false},
		{"tell me about your pricing", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := DetectScheduling(tt.message); got != tt.want {
			t.Errorf("DetectScheduling(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}
