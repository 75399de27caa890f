package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stemsi/clipexam-backend/internal/model"
)

var (
	ErrRunFinished       = errors.New("exam run already finished")
	ErrResultNotRecorded = errors.New("clip result not recorded")
	ErrClipNotScored     = errors.New("current clip has not been scored")
	ErrRunIncomplete     = errors.New("exam run has unscored clips")
	ErrNoClips           = errors.New("exam has no active clips")
)

// Recorder persists scoring events. The session ledger implements it.
type Recorder interface {
	RecordClipResult(ctx context.Context, userID, examCode string, result model.ClipResult) error
	FinalizeAttempt(ctx context.Context, userID, examCode string, status model.AttemptStatus, endTime time.Time, totalScore int) error
}

// RunParams configures a Run.
type RunParams struct {
	UserID   string
	ExamCode string
	Clips    []model.Clip
	Config   Config
	Recorder Recorder
	Clock    Clock
	// OnScored is notified of every scored clip, possibly from the timer's
	// goroutine.
	OnScored func(index int, result Result)
}

// Summary is the outcome of a finished run.
type Summary struct {
	ExamCode   string              `json:"exam_code"`
	UserID     string              `json:"user_id"`
	Status     model.AttemptStatus `json:"status"`
	TotalScore int                 `json:"total_score"`
	EndTime    time.Time           `json:"end_time"`
	Results    []Result            `json:"results"`
}

// Run plays an exam's clips strictly in order. Each scored clip must be
// recorded before Next moves on; a failed record keeps the run on that clip.
type Run struct {
	userID   string
	examCode string
	clips    []model.Clip
	cfg      Config
	recorder Recorder
	clock    Clock
	onScored func(int, Result)

	commitMu sync.Mutex

	mu        sync.Mutex
	idx       int
	timer     *ClipTimer
	scored    bool
	pending   *Result
	results   []Result
	finishing bool
	finished  bool
}

// NewRun creates a run positioned on the first clip.
func NewRun(p RunParams) (*Run, error) {
	if len(p.Clips) == 0 {
		return nil, ErrNoClips
	}
	if p.Recorder == nil {
		return nil, errors.New("scoring: recorder is required")
	}
	if p.Clock == nil {
		p.Clock = RealClock
	}

	r := &Run{
		userID:   p.UserID,
		examCode: p.ExamCode,
		clips:    p.Clips,
		cfg:      p.Config,
		recorder: p.Recorder,
		clock:    p.Clock,
		onScored: p.OnScored,
		results:  make([]Result, 0, len(p.Clips)),
	}
	r.timer = r.newTimer(0)
	return r, nil
}

func (r *Run) newTimer(idx int) *ClipTimer {
	return NewClipTimer(r.clips[idx], r.cfg, r.clock, func(res Result) {
		r.handleScored(idx, res)
	})
}

func (r *Run) handleScored(idx int, res Result) {
	r.mu.Lock()
	if r.finishing || idx != r.idx {
		r.mu.Unlock()
		return
	}
	r.scored = true
	r.pending = &res
	hook := r.onScored
	r.mu.Unlock()

	if hook != nil {
		hook(idx, res)
	}
}

// Current returns the clip under play and its position.
func (r *Run) Current() (model.Clip, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clips[r.idx], r.idx
}

// Len returns the number of clips in the run.
func (r *Run) Len() int { return len(r.clips) }

// Started reports whether any clip has been armed.
func (r *Run) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx > 0 || r.timer.Phase() != PhaseIdle
}

// Arm starts the current clip's countdown.
func (r *Run) Arm() (model.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished || r.finishing {
		return model.Clip{}, ErrRunFinished
	}
	if err := r.timer.Arm(); err != nil {
		return model.Clip{}, err
	}
	return r.clips[r.idx], nil
}

// Press forwards the operator's press to the current clip.
func (r *Run) Press() (float64, bool) {
	t, ok := r.activeTimer()
	if !ok {
		return 0, false
	}
	return t.Press()
}

// EndClip signals end of media for the current clip.
func (r *Run) EndClip() (Result, error) {
	t, ok := r.activeTimer()
	if !ok {
		return Result{}, ErrRunFinished
	}
	if t.Phase() == PhaseIdle {
		return Result{}, ErrClipNotArmed
	}
	res, _ := t.End()
	return res, nil
}

func (r *Run) activeTimer() (*ClipTimer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || r.finishing {
		return nil, false
	}
	return r.timer, true
}

// Commit records the current clip's result if it is scored and not yet
// recorded. It is safe to call repeatedly.
func (r *Run) Commit(ctx context.Context) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	r.mu.Lock()
	pending := r.pending
	r.mu.Unlock()
	if pending == nil {
		return nil
	}

	if err := r.recorder.RecordClipResult(ctx, r.userID, r.examCode, pending.ClipResult()); err != nil {
		return fmt.Errorf("%w: clip %s: %w", ErrResultNotRecorded, pending.ClipID, err)
	}

	r.mu.Lock()
	r.results = append(r.results, *pending)
	r.pending = nil
	r.mu.Unlock()
	return nil
}

// Next records the current clip's result and advances. done is true when the
// current clip was the last one; the run then stays on it until Finish.
func (r *Run) Next(ctx context.Context) (next model.Clip, done bool, err error) {
	r.mu.Lock()
	switch {
	case r.finished || r.finishing:
		r.mu.Unlock()
		return model.Clip{}, false, ErrRunFinished
	case !r.scored:
		r.mu.Unlock()
		return model.Clip{}, false, ErrClipNotScored
	}
	r.mu.Unlock()

	if err := r.Commit(ctx); err != nil {
		return model.Clip{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx+1 >= len(r.clips) {
		return model.Clip{}, true, nil
	}
	r.idx++
	r.scored = false
	r.timer = r.newTimer(r.idx)
	return r.clips[r.idx], false, nil
}

// Finish ends the run. Submitted requires every clip to be scored; Attempted
// abandons the clip in play without scoring it. Results already scored are
// recorded before the attempt is finalized.
func (r *Run) Finish(ctx context.Context, status model.AttemptStatus) (Summary, error) {
	r.mu.Lock()
	if r.finished || r.finishing {
		r.mu.Unlock()
		return Summary{}, ErrRunFinished
	}
	if status == model.AttemptStatusSubmitted && (r.idx != len(r.clips)-1 || !r.scored) {
		r.mu.Unlock()
		return Summary{}, ErrRunIncomplete
	}
	r.finishing = true
	timer := r.timer
	r.mu.Unlock()

	timer.Stop()

	if err := r.Commit(ctx); err != nil {
		r.abortFinish()
		return Summary{}, err
	}

	r.mu.Lock()
	results := append([]Result(nil), r.results...)
	r.mu.Unlock()

	end := r.clock.Now().UTC()
	total := TotalScore(results)
	if err := r.recorder.FinalizeAttempt(ctx, r.userID, r.examCode, status, end, total); err != nil {
		r.abortFinish()
		return Summary{}, fmt.Errorf("finalize attempt: %w", err)
	}

	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()

	return Summary{
		ExamCode:   r.examCode,
		UserID:     r.userID,
		Status:     status,
		TotalScore: total,
		EndTime:    end,
		Results:    results,
	}, nil
}

// abortFinish reopens the run after a failed Finish so the caller can retry.
func (r *Run) abortFinish() {
	r.mu.Lock()
	r.finishing = false
	r.mu.Unlock()
}

// Results returns the recorded results so far.
func (r *Run) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// Finished reports whether Finish has succeeded.
func (r *Run) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}
