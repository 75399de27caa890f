package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/clipexam-backend/internal/model"
)

func ptr(v float64) *float64 { return &v }

func interventionClip(id string, at float64) model.Clip {
	return model.Clip{ClipID: id, HasIntervention: true, CorrectTime: ptr(at), Active: true}
}

func quietClip(id string) model.Clip {
	return model.Clip{ClipID: id, Active: true}
}

func TestScoreIntervention(t *testing.T) {
	clip := interventionClip("C1", 10.0)

	tests := []struct {
		name     string
		press    *float64
		outcome  int
		reaction *float64
	}{
		{"exact", ptr(10.0), 1, ptr(0)},
		{"late within window", ptr(10.3), 1, ptr(0.3)},
		{"upper boundary", ptr(11.5), 1, ptr(1.5)},
		{"lower boundary", ptr(8.5), 1, ptr(-1.5)},
		{"just past upper", ptr(11.501), 0, ptr(1.501)},
		{"just before lower", ptr(8.499), 0, ptr(-1.501)},
		{"sub-millisecond past upper", ptr(11.5001), 0, ptr(1.5001)},
		{"sub-millisecond before lower", ptr(8.4999), 0, ptr(-1.5001)},
		{"rounds to upper but past it", ptr(11.5004), 0, ptr(1.5004)},
		{"no press", nil, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Score(clip, tt.press, 1.5)
			assert.Equal(t, "C1", res.ClipID)
			assert.Equal(t, tt.outcome, res.Outcome)
			if tt.reaction == nil {
				assert.Nil(t, res.ReactionTime)
				return
			}
			require.NotNil(t, res.ReactionTime)
			assert.InDelta(t, *tt.reaction, *res.ReactionTime, 1e-9)
		})
	}
}

func TestScoreBoundaryWithInexactDecimals(t *testing.T) {
	// 11.8 - 10.3 is not exactly 1.5 in binary floating point.
	res := Score(interventionClip("C1", 10.3), ptr(11.8), 1.5)
	assert.Equal(t, 1, res.Outcome)
	assert.InDelta(t, 1.5, *res.ReactionTime, 1e-9)
}

func TestScoreNoIntervention(t *testing.T) {
	clip := quietClip("C2")

	res := Score(clip, nil, 1.5)
	assert.Equal(t, 1, res.Outcome)
	assert.Nil(t, res.ReactionTime)

	res = Score(clip, ptr(3.14159), 1.5)
	assert.Equal(t, 0, res.Outcome)
	require.NotNil(t, res.ReactionTime)
	assert.Equal(t, 3.14159, *res.ReactionTime)
	assert.Equal(t, 3.14159, *res.PressTime)
}

func TestTotalScore(t *testing.T) {
	results := []Result{{Outcome: 1}, {Outcome: 0}, {Outcome: 1}}
	assert.Equal(t, 2, TotalScore(results))
	assert.Equal(t, 0, TotalScore(nil))
}

func TestResultClipResult(t *testing.T) {
	res := Score(interventionClip("C1", 10.0), ptr(10.3), 1.5)
	cr := res.ClipResult()
	assert.Equal(t, "C1", cr.ClipID)
	assert.Equal(t, 1, cr.Outcome)
	assert.InDelta(t, 0.3, *cr.ReactionTime, 1e-9)
}
