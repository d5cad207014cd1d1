package tracker

// leadingStops are always shown.
const leadingStops = 3

// RelevantIndices picks which remaining stops to show: the first three, then
// the first timepoint after them and the final stop. When that timepoint is
// the final stop it is listed once.
func RelevantIndices(remaining []Stop) []int {
	n := len(remaining)
	idx := make([]int, 0, leadingStops+2)
	for i := 0; i < n && i < leadingStops; i++ {
		idx = append(idx, i)
	}
	if n <= leadingStops {
		return idx
	}
	for i := leadingStops; i < n; i++ {
		if remaining[i].Value.Timepoint {
			idx = append(idx, i)
			break
		}
	}
	if last := n - 1; idx[len(idx)-1] != last {
		idx = append(idx, last)
	}
	return idx
}

// RelevantStops returns the stops selected by RelevantIndices.
func RelevantStops(remaining []Stop) []Stop {
	idx := RelevantIndices(remaining)
	out := make([]Stop, len(idx))
	for i, j := range idx {
		out[i] = remaining[j]
	}
	return out
}
