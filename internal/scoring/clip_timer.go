package scoring

import (
	"errors"
	"sync"
	"time"

	"github.com/stemsi/clipexam-backend/internal/model"
)

var (
	ErrClipNotArmed     = errors.New("clip is not armed")
	ErrClipAlreadyArmed = errors.New("clip already armed")
)

// Phase is a clip timer state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseArmed
	PhaseResponded
	PhaseTimedOut
	PhaseScored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseResponded:
		return "responded"
	case PhaseTimedOut:
		return "timed_out"
	case PhaseScored:
		return "scored"
	}
	return "unknown"
}

// ClipTimer owns the playback countdown for a single clip. It accepts at most
// one press and scores exactly once, whichever of the countdown or an explicit
// End fires first.
type ClipTimer struct {
	clip     model.Clip
	cfg      Config
	clock    Clock
	onScored func(Result)

	mu      sync.Mutex
	phase   Phase
	armedAt time.Time
	press   *float64
	timer   Timer
	result  *Result
}

// NewClipTimer creates an idle timer. onScored, when set, is invoked once with
// the result, outside the timer's lock.
func NewClipTimer(clip model.Clip, cfg Config, clock Clock, onScored func(Result)) *ClipTimer {
	if clock == nil {
		clock = RealClock
	}
	return &ClipTimer{
		clip:     clip,
		cfg:      cfg,
		clock:    clock,
		onScored: onScored,
	}
}

// Clip returns the clip being timed.
func (t *ClipTimer) Clip() model.Clip { return t.clip }

// Phase returns the current state.
func (t *ClipTimer) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Arm starts the countdown.
func (t *ClipTimer) Arm() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != PhaseIdle {
		return ErrClipAlreadyArmed
	}
	t.armedAt = t.clock.Now()
	t.phase = PhaseArmed
	t.timer = t.clock.AfterFunc(t.cfg.ClipDuration, func() { t.End() })
	return nil
}

// Press records the operator's response and returns the press instant in
// seconds since Arm. Only the first press while the clip plays is accepted.
func (t *ClipTimer) Press() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != PhaseArmed {
		return 0, false
	}
	elapsed := t.clock.Now().Sub(t.armedAt)
	if elapsed >= t.cfg.ClipDuration {
		// The countdown has run out but its callback has not landed yet.
		return 0, false
	}
	secs := elapsed.Seconds()
	t.press = &secs
	t.phase = PhaseResponded
	return secs, true
}

// End scores the clip. The second and later calls return the stored result
// and false.
func (t *ClipTimer) End() (Result, bool) {
	t.mu.Lock()
	switch t.phase {
	case PhaseIdle:
		t.mu.Unlock()
		return Result{}, false
	case PhaseScored:
		res := *t.result
		t.mu.Unlock()
		return res, false
	case PhaseArmed:
		t.phase = PhaseTimedOut
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	res := Score(t.clip, t.press, t.cfg.Tolerance)
	t.result = &res
	t.phase = PhaseScored
	t.mu.Unlock()

	if t.onScored != nil {
		t.onScored(res)
	}
	return res, true
}

// Result returns the score once the clip is scored.
func (t *ClipTimer) Result() (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return Result{}, false
	}
	return *t.result, true
}

// Stop cancels the countdown without scoring.
func (t *ClipTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}
