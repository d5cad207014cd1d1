package tracker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func numbered(n int, timepoints ...int) []Stop {
	tp := map[int]bool{}
	for _, i := range timepoints {
		tp[i] = true
	}
	out := make([]Stop, n)
	for i := range out {
		out[i] = stop(fmt.Sprintf("stop%d", i), north(float64(i*100)), tp[i])
	}
	return out
}

func TestRelevantStops(t *testing.T) {
	tests := []struct {
		name     string
		stops    []Stop
		expected []string
	}{
		{
			name:     "timepoint in the middle",
			stops:    numbered(10, 6),
			expected: []string{"stop0", "stop1", "stop2", "stop6", "stop9"},
		},
		{
			name:     "first timepoint after the leading three wins",
			stops:    numbered(10, 1, 4, 7),
			expected: []string{"stop0", "stop1", "stop2", "stop4", "stop9"},
		},
		{
			name:     "no timepoint",
			stops:    numbered(6),
			expected: []string{"stop0", "stop1", "stop2", "stop5"},
		},
		{
			name:     "timepoint is the final stop",
			stops:    numbered(8, 7),
			expected: []string{"stop0", "stop1", "stop2", "stop7"},
		},
		{
			name:     "exactly four stops",
			stops:    numbered(4),
			expected: []string{"stop0", "stop1", "stop2", "stop3"},
		},
		{
			name:     "three stops",
			stops:    numbered(3, 2),
			expected: []string{"stop0", "stop1", "stop2"},
		},
		{
			name:     "single stop",
			stops:    numbered(1),
			expected: []string{"stop0"},
		},
		{
			name:     "empty",
			stops:    nil,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ids(RelevantStops(tt.stops)))
		})
	}
}

func TestRelevantIndicesAreUnique(t *testing.T) {
	for n := 0; n < 12; n++ {
		for tp := 0; tp < n; tp++ {
			idx := RelevantIndices(numbered(n, tp))
			seen := map[int]bool{}
			for _, i := range idx {
				assert.False(t, seen[i], "n=%d tp=%d duplicate %d", n, tp, i)
				seen[i] = true
			}
			assert.LessOrEqual(t, len(idx), 5)
		}
	}
}
