// Package scoring times an operator's response to each clip and scores it
// against the clip's ground-truth intervention instant.
package scoring

import (
	"math"
	"time"

	"github.com/stemsi/clipexam-backend/internal/model"
)

// Config holds the deployment-tunable scoring parameters.
type Config struct {
	// Tolerance is the half-width, in seconds, of the window around the
	// correct time in which a press counts as correct. Inclusive.
	Tolerance float64
	// ClipDuration is the playable length of every clip.
	ClipDuration time.Duration
}

// DefaultConfig returns a 1.5 s tolerance and a 120 s clip.
func DefaultConfig() Config {
	return Config{
		Tolerance:    1.5,
		ClipDuration: 120 * time.Second,
	}
}

// Result is the scored outcome of one clip.
type Result struct {
	ClipID       string   `json:"clip_id"`
	Outcome      int      `json:"outcome"`
	ReactionTime *float64 `json:"reaction_time"`
	PressTime    *float64 `json:"press_time,omitempty"`
}

// ClipResult converts the result to its ledger form.
func (r Result) ClipResult() model.ClipResult {
	return model.ClipResult{
		ClipID:       r.ClipID,
		Outcome:      r.Outcome,
		ReactionTime: r.ReactionTime,
	}
}

// Score applies the scoring rule to a clip and an optional press instant
// (seconds since the clip was armed). Times are compared unrounded; the
// ledger rounds them only when stored.
//
// Intervention clips are correct iff a press lands within tolerance of the
// correct time; the reaction time is the signed offset. Clips without an
// intervention are correct iff there was no press; a press is a false positive
// whose raw instant becomes the reaction time.
func Score(clip model.Clip, pressTime *float64, tolerance float64) Result {
	res := Result{ClipID: clip.ClipID}
	if pressTime != nil {
		p := *pressTime
		res.PressTime = &p
	}

	if clip.HasIntervention {
		if res.PressTime == nil || clip.CorrectTime == nil {
			return res
		}
		delta := *res.PressTime - *clip.CorrectTime
		res.ReactionTime = &delta
		if math.Abs(delta) <= tolerance+boundaryEpsilon {
			res.Outcome = 1
		}
		return res
	}

	if res.PressTime == nil {
		res.Outcome = 1
		return res
	}
	raw := *res.PressTime
	res.ReactionTime = &raw
	return res
}

// TotalScore counts correct clips.
func TotalScore(results []Result) int {
	total := 0
	for _, r := range results {
		total += r.Outcome
	}
	return total
}

// boundaryEpsilon absorbs binary error in decimal differences such as
// 11.8 - 10.3, far below any real timing difference.
const boundaryEpsilon = 1e-9
