package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeFee(t *testing.T) {
	entry := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		stay time.Duration
		want int64
	}{
		{"ninety minutes hits the minimum", 90 * time.Minute, 600},
		{"fourteen hours", 14 * time.Hour, 700},
		{"partial hours round down", 14*time.Hour + 59*time.Minute, 700},
		{"twelve hours equals the minimum", 12 * time.Hour, 600},
		{"zero", 0, 600},
		{"clock skew", -time.Hour, 600},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeFee(entry, entry.Add(tc.stay), testFee()))
		})
	}
}
