package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/your-org/deepguard/internal/vision"
)

// minSuspiciousRun is the shortest fake run flagged as a suspicious segment.
const minSuspiciousRun = 2

// Vote is the confidence-weighted vote over face-bearing frames. Each frame
// contributes its own confidence to the score of its label; ties go to real.
type Vote struct {
	FakeScore  float64
	RealScore  float64
	Outcome    Outcome
	Confidence float64
}

func WeightedVote(records []FrameRecord) Vote {
	var v Vote
	faces := 0
	for _, r := range records {
		if r.Result == nil {
			continue
		}
		faces++
		if r.Result.Label == vision.LabelFake {
			v.FakeScore += r.Result.Confidence
		} else {
			v.RealScore += r.Result.Confidence
		}
	}

	if faces == 0 {
		v.Outcome = OutcomeIndeterminate
		return v
	}

	v.Outcome = OutcomeReal
	if v.FakeScore > v.RealScore {
		v.Outcome = OutcomeFake
	}
	if sum := v.FakeScore + v.RealScore; sum > 0 {
		v.Confidence = math.Max(v.FakeScore, v.RealScore) / sum
	}
	return v
}

// Segments groups the face-bearing frames of records into maximal runs of
// equal label, in order.
func Segments(records []FrameRecord) []Segment {
	var (
		out     []Segment
		cur     *Segment
		confSum float64
		pos     int
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.AvgConfidence = confSum / float64(cur.FrameCount)
		cur.Suspicious = cur.Label == vision.LabelFake && cur.FrameCount >= minSuspiciousRun
		out = append(out, *cur)
	}

	for _, r := range records {
		if r.Result == nil {
			continue
		}
		if cur != nil && cur.Label == r.Result.Label {
			cur.EndIndex = pos
			cur.EndFrame = r.FrameIndex
			cur.EndTime = r.Timestamp
			cur.FrameCount++
			confSum += r.Result.Confidence
		} else {
			flush()
			cur = &Segment{
				Label:      r.Result.Label,
				StartIndex: pos,
				EndIndex:   pos,
				FrameCount: 1,
				StartFrame: r.FrameIndex,
				EndFrame:   r.FrameIndex,
				StartTime:  r.Timestamp,
				EndTime:    r.Timestamp,
			}
			confSum = r.Result.Confidence
		}
		pos++
	}
	flush()
	return out
}

// RankSuspicious returns the positions in records of the k face-bearing
// frames with the highest probability of being fake. Ties keep the earlier
// frame first.
func RankSuspicious(records []FrameRecord, k int) []int {
	var ranked []int
	for i, r := range records {
		if r.Result != nil {
			ranked = append(ranked, i)
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return records[ranked[a]].Result.ProbabilityFake > records[ranked[b]].Result.ProbabilityFake
	})
	if len(ranked) > k {
		ranked = ranked[:max(k, 0)]
	}
	return ranked
}

// Consistency is 1 minus the population standard deviation of the fake
// indicator over face-bearing frames; 1 when fewer than two faces.
func Consistency(records []FrameRecord) float64 {
	var preds []float64
	for _, r := range records {
		if r.Result == nil {
			continue
		}
		if r.IsFake() {
			preds = append(preds, 1)
		} else {
			preds = append(preds, 0)
		}
	}
	if len(preds) < 2 {
		return 1
	}
	_, std := stat.PopMeanStdDev(preds, nil)
	return 1 - std
}

func computeStats(records []FrameRecord) VideoStats {
	s := VideoStats{FramesExtracted: len(records)}
	var fakeConf, realConf []float64
	for _, r := range records {
		if r.Result == nil {
			continue
		}
		s.FramesWithFace++
		if r.IsFake() {
			s.FakeFrames++
			fakeConf = append(fakeConf, r.Result.Confidence)
		} else {
			s.RealFrames++
			realConf = append(realConf, r.Result.Confidence)
		}
	}
	if s.FramesWithFace == 0 {
		return s
	}
	s.FakePercentage = float64(s.FakeFrames) / float64(s.FramesWithFace) * 100
	if len(fakeConf) > 0 {
		s.AvgFakeConfidence = stat.Mean(fakeConf, nil)
	}
	if len(realConf) > 0 {
		s.AvgRealConfidence = stat.Mean(realConf, nil)
	}
	s.MeanFrameConfidence = stat.Mean(append(fakeConf, realConf...), nil)
	return s
}
