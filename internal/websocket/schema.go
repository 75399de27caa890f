package websocket

import "github.com/stemsi/clipexam-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionArm    Action = "arm"
	ActionPress  Action = "press"
	ActionEnd    Action = "end"
	ActionNext   Action = "next"
	ActionFinish Action = "finish"
	ActionPing   Action = "ping"
)

// Request is the single client message shape. Only finish carries a payload.
type Request struct {
	Action Action              `json:"action"`
	Status model.AttemptStatus `json:"status,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventReady    Event = "ready"
	EventArmed    Event = "armed"
	EventPressed  Event = "pressed"
	EventScored   Event = "scored"
	EventClip     Event = "clip"
	EventComplete Event = "complete"
	EventFinished Event = "finished"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// ReadyResponse opens the stream with the operator's view of the exam.
type ReadyResponse struct {
	Event Event            `json:"event"`
	Paper *model.ExamPaper `json:"paper"`
	Index int              `json:"index"`
}

// ClipResponse announces the clip now under play (armed, or next in line).
type ClipResponse struct {
	Event Event                 `json:"event"`
	Index int                   `json:"index"`
	Clip  model.ClipForOperator `json:"clip"`
}

type PressedResponse struct {
	Event     Event   `json:"event"`
	Accepted  bool    `json:"accepted"`
	PressTime float64 `json:"press_time,omitempty"`
}

// ScoredResponse tells the client the clip is closed. The outcome is not
// disclosed during the run.
type ScoredResponse struct {
	Event  Event  `json:"event"`
	Index  int    `json:"index"`
	ClipID string `json:"clip_id"`
}

// CompleteResponse follows the last clip's next: only finish remains.
type CompleteResponse struct {
	Event Event `json:"event"`
}

type FinishedResponse struct {
	Event      Event               `json:"event"`
	Status     model.AttemptStatus `json:"status"`
	TotalScore int                 `json:"total_score"`
	ClipCount  int                 `json:"clip_count"`
	EndTime    string              `json:"end_time"`
}

type ErrorResponse struct {
	Event     Event  `json:"event"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
