package core

import (
	"testing"
	"time"
)

func TestAllowRestart(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		max    int
		window time.Duration
		at     []time.Duration
		want   []bool
	}{
		{
			name:   "zero max always escalates",
			max:    0,
			window: time.Minute,
			at:     []time.Duration{0},
			want:   []bool{false},
		},
		{
			name:   "third failure in window escalates",
			max:    2,
			window: time.Minute,
			at:     []time.Duration{0, time.Second, 2 * time.Second},
			want:   []bool{true, true, false},
		},
		{
			name:   "old restarts leave the window",
			max:    2,
			window: 10 * time.Second,
			at:     []time.Duration{0, time.Second, 12 * time.Second, 13 * time.Second, 14 * time.Second},
			want:   []bool{true, true, true, true, false},
		},
		{
			name:   "no window never forgets",
			max:    1,
			window: 0,
			at:     []time.Duration{0, time.Hour},
			want:   []bool{true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &entry{}
			for i, d := range tt.at {
				if got := e.allowRestart(base.Add(d), tt.max, tt.window); got != tt.want[i] {
					t.Errorf("restart %d at +%s: got %v, want %v", i, d, got, tt.want[i])
				}
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"one_for_one", OneForOne, false},
		{"one-for-all", OneForAll, false},
		{"REST_FOR_ONE", RestForOne, false},
		{"all_for_none", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStrategy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseStrategy() = %s, want %s", got, tt.want)
			}
		})
	}
}
