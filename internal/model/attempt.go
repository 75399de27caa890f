package model

import (
	"strings"
	"time"
)

// AttemptStatus enumerates exam attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "InProgress"
	AttemptStatusSubmitted  AttemptStatus = "Submitted"
	AttemptStatusAttempted  AttemptStatus = "Attempted"
)

// Terminal reports whether no transition may leave the status.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusAttempted
}

// Fixed ledger fields, in header order.
const (
	FieldExamCode   = "examCode"
	FieldUserID     = "userId"
	FieldStartTime  = "startTime"
	FieldEndTime    = "endTime"
	FieldTotalScore = "totalScore"
	FieldStatus     = "status"

	// ReactionTimeSuffix names a clip's reaction-time field: <clipId>_ReactionTime.
	ReactionTimeSuffix = "_ReactionTime"
)

// BaseFields is the non-clip prefix of every ledger row.
var BaseFields = []string{
	FieldExamCode,
	FieldUserID,
	FieldStartTime,
	FieldEndTime,
	FieldTotalScore,
	FieldStatus,
}

// ReservedFieldName reports whether a clip ID would name a fixed field or
// another clip's reaction-time field. Such a clip cannot get its own pair.
func ReservedFieldName(clipID string) bool {
	for _, f := range BaseFields {
		if strings.EqualFold(clipID, f) {
			return true
		}
	}
	return strings.HasSuffix(strings.ToLower(clipID), strings.ToLower(ReactionTimeSuffix))
}

// ReactionTimeField returns the reaction-time field name for a clip.
func ReactionTimeField(clipID string) string {
	return clipID + ReactionTimeSuffix
}

// ExamAttempt is one end-to-end run of an exam code by one operator.
type ExamAttempt struct {
	Row         int                   `json:"-"`
	ExamCode    string                `json:"examCode"`
	UserID      string                `json:"userId"`
	StartTime   *time.Time            `json:"startTime,omitempty"`
	EndTime     *time.Time            `json:"endTime,omitempty"`
	Status      AttemptStatus         `json:"status"`
	TotalScore  *int                  `json:"totalScore"`
	ClipResults map[string]ClipResult `json:"clipResults,omitempty"`
}

// ClipResult is the scored outcome of one clip within an attempt.
type ClipResult struct {
	ClipID       string   `json:"clipId"`
	Outcome      int      `json:"outcome"`
	ReactionTime *float64 `json:"reactionTime"`
}

// RecordClipResultRequest is the payload for persisting one clip result.
type RecordClipResultRequest struct {
	ClipID       string   `json:"clip_id" binding:"required,min=1,max=64"`
	Outcome      *int     `json:"outcome" binding:"required,oneof=0 1"`
	ReactionTime *float64 `json:"reaction_time"`
}

// FinalizeAttemptRequest is the payload for closing an attempt.
type FinalizeAttemptRequest struct {
	Status     AttemptStatus `json:"status" binding:"required,oneof=Submitted Attempted"`
	EndTime    *time.Time    `json:"end_time"`
	TotalScore *int          `json:"total_score" binding:"required,min=0"`
}

// ResultsAnalysis aggregates ledger rows, optionally for one exam code.
type ResultsAnalysis struct {
	TotalAttempts   int           `json:"totalAttempts"`
	CompletedCount  int           `json:"completedAttempts"`
	InProgressCount int           `json:"inProgressAttempts"`
	AttemptedCount  int           `json:"attemptedAttempts"`
	AverageScore    float64       `json:"averageScore"`
	Attempts        []ExamAttempt `json:"attempts"`
	ExamCodes       []string      `json:"examCodes"`
}

// SchemaReport lists the ledger fields touched by a provisioning run.
type SchemaReport struct {
	ExamCode string   `json:"examCode"`
	Created  []string `json:"created"`
	Existing []string `json:"existing"`
}
