package analysis

import (
	"fmt"
	"math"
	"sort"
)

// SampledFrame is one frame picked for analysis.
type SampledFrame struct {
	Position  int     // position in the sampled sequence
	Index     int     // frame index in the source video
	Timestamp float64 // seconds
}

// Sample picks up to maxFrames frame indices spread evenly over
// [0, total-1], first and last included, and stamps them with index/fps.
func Sample(total int, fps float64, maxFrames int) ([]SampledFrame, error) {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return nil, fmt.Errorf("%w: frame rate %v", ErrInvalidMedia, fps)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: no frames", ErrInvalidMedia)
	}
	if maxFrames < 1 {
		return nil, fmt.Errorf("max frames must be positive, got %d", maxFrames)
	}

	indices := sampleIndices(total, maxFrames)
	out := make([]SampledFrame, len(indices))
	for i, idx := range indices {
		out[i] = SampledFrame{Position: i, Index: idx, Timestamp: float64(idx) / fps}
	}
	return out, nil
}

func sampleIndices(total, n int) []int {
	if total <= n {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if n == 1 {
		return []int{0}
	}

	stride := float64(total-1) / float64(n-1)
	seen := make(map[int]bool, n)
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		idx := min(int(math.Round(float64(i)*stride)), total-1)
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}

	// Collapsed duplicates are replaced by the midpoint of the widest gap.
	for len(out) < n {
		gapAt, gap := 0, 0
		for i := 1; i < len(out); i++ {
			if d := out[i] - out[i-1]; d > gap {
				gapAt, gap = i, d
			}
		}
		if gap < 2 {
			break
		}
		out = append(out, out[gapAt-1]+gap/2)
		sort.Ints(out)
	}
	return out
}
