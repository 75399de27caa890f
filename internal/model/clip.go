package model

// Clip is one scoreable video unit of an exam code.
type Clip struct {
	ExamCode        string   `json:"exam_code"`
	ClipID          string   `json:"clip_id"`
	Title           string   `json:"title"`
	HasIntervention bool     `json:"has_intervention"`
	CorrectTime     *float64 `json:"correct_time"` // Seconds from clip start; nil iff no intervention
	Active          bool     `json:"active"`
	MediaRef        string   `json:"media_ref"`
	Order           int      `json:"order"`
}

// Valid reports whether the ground truth is consistent with the intervention flag.
func (c Clip) Valid() bool {
	if c.ClipID == "" || ReservedFieldName(c.ClipID) {
		return false
	}
	if c.HasIntervention {
		return c.CorrectTime != nil && *c.CorrectTime >= 0
	}
	return c.CorrectTime == nil
}

// ClipForOperator is a clip without its ground-truth instant, sent to operators.
type ClipForOperator struct {
	ClipID   string `json:"clip_id"`
	Title    string `json:"title"`
	MediaRef string `json:"media_ref"`
	Order    int    `json:"order"`
}

// ForOperator strips the ground truth.
func (c Clip) ForOperator() ClipForOperator {
	return ClipForOperator{
		ClipID:   c.ClipID,
		Title:    c.Title,
		MediaRef: c.MediaRef,
		Order:    c.Order,
	}
}

// ExamPaper is the operator-facing clip list of an exam code.
type ExamPaper struct {
	ExamCode               string            `json:"exam_code"`
	Clips                  []ClipForOperator `json:"clips"`
	TotalCount             int               `json:"total_count"`
	InterventionClips      int               `json:"intervention_clips"`
	NonInterventionClips   int               `json:"non_intervention_clips"`
	ClipDurationSeconds    float64           `json:"clip_duration_seconds"`
	ToleranceWindowSeconds float64           `json:"tolerance_window_seconds"`
}

// CreateClipRequest is the payload for seeding a catalog clip.
type CreateClipRequest struct {
	ExamCode        string   `json:"exam_code" binding:"required,max=64,ident"`
	ClipID          string   `json:"clip_id" binding:"required,max=64,ident"`
	Title           string   `json:"title" binding:"max=255"`
	HasIntervention bool     `json:"has_intervention"`
	CorrectTime     *float64 `json:"correct_time" binding:"omitempty,min=0"`
	Active          bool     `json:"active"`
	MediaRef        string   `json:"media_ref" binding:"max=2048"`
	Order           int      `json:"order" binding:"min=0"`
}
