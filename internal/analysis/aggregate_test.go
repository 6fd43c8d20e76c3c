package analysis

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/your-org/deepguard/internal/vision"
)

func face(pos int, label vision.Label, conf float64) FrameRecord {
	pf := conf
	if label == vision.LabelReal {
		pf = 1 - conf
	}
	return FrameRecord{
		FrameIndex:   pos,
		SampleIndex:  pos * 10,
		Timestamp:    float64(pos),
		FaceDetected: true,
		Result:       &FrameResult{Label: label, Confidence: conf, ProbabilityFake: pf},
	}
}

func noFace(pos int) FrameRecord {
	return FrameRecord{FrameIndex: pos, SampleIndex: pos * 10, Timestamp: float64(pos)}
}

func TestWeightedVoteAllReal(t *testing.T) {
	var recs []FrameRecord
	for i := 0; i < 10; i++ {
		recs = append(recs, face(i, vision.LabelReal, 0.9))
	}
	v := WeightedVote(recs)
	require.Equal(t, OutcomeReal, v.Outcome)
	require.Equal(t, 1.0, v.Confidence)
	require.InDelta(t, 9.0, v.RealScore, 1e-9)
	require.Zero(t, v.FakeScore)
}

func TestWeightedVoteSingleSpike(t *testing.T) {
	var recs []FrameRecord
	for i := 0; i < 9; i++ {
		recs = append(recs, face(i, vision.LabelReal, 0.6))
	}
	recs = append(recs, face(9, vision.LabelFake, 0.99))

	v := WeightedVote(recs)
	require.InDelta(t, 0.99, v.FakeScore, 1e-9)
	require.InDelta(t, 5.4, v.RealScore, 1e-9)
	require.Equal(t, OutcomeReal, v.Outcome)
	require.InDelta(t, 5.4/6.39, v.Confidence, 1e-9)
}

func TestWeightedVoteHighConfidenceFakeOutweighsWeakReal(t *testing.T) {
	recs := []FrameRecord{
		face(0, vision.LabelReal, 0.51),
		face(1, vision.LabelFake, 0.99),
		face(2, vision.LabelFake, 0.98),
		face(3, vision.LabelReal, 0.52),
		face(4, vision.LabelReal, 0.53),
	}
	v := WeightedVote(recs)
	require.Equal(t, OutcomeFake, v.Outcome)
}

func TestWeightedVoteTieIsReal(t *testing.T) {
	v := WeightedVote([]FrameRecord{face(0, vision.LabelReal, 0.7), face(1, vision.LabelFake, 0.7)})
	require.Equal(t, OutcomeReal, v.Outcome)
	require.InDelta(t, 0.5, v.Confidence, 1e-9)
}

func TestWeightedVoteNoFaces(t *testing.T) {
	v := WeightedVote([]FrameRecord{noFace(0), noFace(1)})
	require.Equal(t, OutcomeIndeterminate, v.Outcome)
	require.Zero(t, v.Confidence)
}

func TestWeightedVoteMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		recs := randomRecords(rng, 1+rng.Intn(25))
		before := WeightedVote(recs)

		c := 0.5 + rng.Float64()/2
		after := WeightedVote(append(recs, face(len(recs), vision.LabelFake, c)))

		require.GreaterOrEqual(t, after.FakeScore, before.FakeScore)
		require.InDelta(t, before.RealScore, after.RealScore, 1e-12)
		if before.Outcome == OutcomeFake {
			require.Equal(t, OutcomeFake, after.Outcome)
		}
	}
}

func TestSegmentsMixedRuns(t *testing.T) {
	labels := []vision.Label{
		vision.LabelReal, vision.LabelReal,
		vision.LabelFake, vision.LabelFake, vision.LabelFake,
		vision.LabelReal,
	}
	var recs []FrameRecord
	for i, l := range labels {
		recs = append(recs, face(i, l, 0.8))
	}

	segs := Segments(recs)
	require.Len(t, segs, 3)

	require.Equal(t, vision.LabelReal, segs[0].Label)
	require.Equal(t, [2]int{0, 1}, [2]int{segs[0].StartIndex, segs[0].EndIndex})
	require.False(t, segs[0].Suspicious)

	require.Equal(t, vision.LabelFake, segs[1].Label)
	require.Equal(t, [2]int{2, 4}, [2]int{segs[1].StartIndex, segs[1].EndIndex})
	require.Equal(t, 3, segs[1].FrameCount)
	require.True(t, segs[1].Suspicious)
	require.InDelta(t, 0.8, segs[1].AvgConfidence, 1e-9)
	require.Equal(t, 2.0, segs[1].StartTime)
	require.Equal(t, 4.0, segs[1].EndTime)

	require.Equal(t, [2]int{5, 5}, [2]int{segs[2].StartIndex, segs[2].EndIndex})
}

func TestSegmentsSkipFacelessFrames(t *testing.T) {
	recs := []FrameRecord{
		face(0, vision.LabelFake, 0.9),
		noFace(1),
		face(2, vision.LabelFake, 0.7),
		noFace(3),
		face(4, vision.LabelReal, 0.8),
	}
	segs := Segments(recs)
	require.Len(t, segs, 2)
	require.Equal(t, 0, segs[0].StartIndex)
	require.Equal(t, 1, segs[0].EndIndex)
	require.Equal(t, 0, segs[0].StartFrame)
	require.Equal(t, 2, segs[0].EndFrame)
	require.True(t, segs[0].Suspicious)
	require.Equal(t, 2, segs[1].StartIndex)
	require.Equal(t, 4, segs[1].StartFrame)
}

func TestSingleFakeFrameNotSuspiciousSegment(t *testing.T) {
	segs := Segments([]FrameRecord{face(0, vision.LabelReal, 0.9), face(1, vision.LabelFake, 0.99), face(2, vision.LabelReal, 0.9)})
	require.Len(t, segs, 3)
	for _, s := range segs {
		require.False(t, s.Suspicious)
	}
}

func TestSegmentsMaximalityProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 500; trial++ {
		recs := randomRecords(rng, rng.Intn(40))
		segs := Segments(recs)

		faces := 0
		for _, r := range recs {
			if r.Result != nil {
				faces++
			}
		}

		total := 0
		for i, s := range segs {
			require.Equal(t, s.EndIndex-s.StartIndex+1, s.FrameCount)
			total += s.FrameCount
			if i > 0 {
				require.NotEqual(t, segs[i-1].Label, s.Label)
				require.Equal(t, segs[i-1].EndIndex+1, s.StartIndex)
			} else {
				require.Equal(t, 0, s.StartIndex)
			}
			require.Equal(t, s.Label == vision.LabelFake && s.FrameCount >= 2, s.Suspicious)
		}
		require.Equal(t, faces, total)
	}
}

func TestRankSuspicious(t *testing.T) {
	recs := []FrameRecord{
		face(0, vision.LabelReal, 0.6), // pf .4
		noFace(1),
		face(2, vision.LabelFake, 0.7), // pf .7
		face(3, vision.LabelFake, 0.9), // pf .9
		face(4, vision.LabelFake, 0.7), // pf .7, later tie
		face(5, vision.LabelReal, 0.9), // pf .1
		face(6, vision.LabelReal, 0.8), // pf .2
		face(7, vision.LabelReal, 0.95),
	}
	require.Equal(t, []int{3, 2, 4, 0, 6}, RankSuspicious(recs, 5))
	require.Equal(t, []int{3}, RankSuspicious(recs, 1))
	require.Empty(t, RankSuspicious([]FrameRecord{noFace(0)}, 5))
}

func TestConsistency(t *testing.T) {
	require.Equal(t, 1.0, Consistency([]FrameRecord{face(0, vision.LabelFake, 0.9)}))
	require.Equal(t, 1.0, Consistency([]FrameRecord{face(0, vision.LabelReal, 0.9), face(1, vision.LabelReal, 0.8)}))
	mixed := []FrameRecord{face(0, vision.LabelReal, 0.9), face(1, vision.LabelFake, 0.8)}
	require.InDelta(t, 0.5, Consistency(mixed), 1e-9)
}

func TestComputeStats(t *testing.T) {
	recs := []FrameRecord{
		face(0, vision.LabelReal, 0.9),
		face(1, vision.LabelFake, 0.8),
		face(2, vision.LabelFake, 0.6),
		noFace(3),
	}
	s := computeStats(recs)
	require.Equal(t, 4, s.FramesExtracted)
	require.Equal(t, 3, s.FramesWithFace)
	require.Equal(t, 2, s.FakeFrames)
	require.Equal(t, 1, s.RealFrames)
	require.InDelta(t, 66.666, s.FakePercentage, 1e-2)
	require.InDelta(t, 0.7, s.AvgFakeConfidence, 1e-9)
	require.InDelta(t, 0.9, s.AvgRealConfidence, 1e-9)
	require.InDelta(t, 2.3/3, s.MeanFrameConfidence, 1e-9)
}

func randomRecords(rng *rand.Rand, n int) []FrameRecord {
	recs := make([]FrameRecord, n)
	for i := range recs {
		switch rng.Intn(3) {
		case 0:
			recs[i] = noFace(i)
		case 1:
			recs[i] = face(i, vision.LabelReal, 0.5+rng.Float64()/2)
		default:
			recs[i] = face(i, vision.LabelFake, 0.5+rng.Float64()/2)
		}
	}
	return recs
}
