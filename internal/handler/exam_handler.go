package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/clipexam-backend/internal/middleware"
	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/response"
	"github.com/stemsi/clipexam-backend/internal/service"
	"github.com/stemsi/clipexam-backend/internal/validator"
)

// ExamHandler serves the operator-facing exam endpoints. Clients that score
// clips themselves report results here; the WebSocket stream is the
// server-scored alternative.
type ExamHandler struct {
	catalogService    *service.CatalogService
	ledgerService     *service.LedgerService
	sessionLogService *service.SessionLogService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(
	catalogService *service.CatalogService,
	ledgerService *service.LedgerService,
	sessionLogService *service.SessionLogService,
) *ExamHandler {
	return &ExamHandler{
		catalogService:    catalogService,
		ledgerService:     ledgerService,
		sessionLogService: sessionLogService,
	}
}

// GetExamPaper godoc
// GET /api/v1/operator/exams/:exam_code
// Returns the active clips of an exam code without ground-truth times.
func (h *ExamHandler) GetExamPaper(c *gin.Context) {
	paper, err := h.catalogService.GetExamPaper(c.Request.Context(), c.Param("exam_code"))
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// RecordClipResult godoc
// POST /api/v1/operator/exams/:exam_code/results
// Persists one scored clip into the operator's open attempt.
func (h *ExamHandler) RecordClipResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.RecordClipResultRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ledgerWriteTimeout)
	defer cancel()

	result := model.ClipResult{ClipID: req.ClipID, Outcome: *req.Outcome, ReactionTime: req.ReactionTime}
	if err := h.ledgerService.RecordClipResult(ctx, claims.OperatorID, c.Param("exam_code"), result); err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"recorded": result})
}

// FinalizeAttempt godoc
// POST /api/v1/operator/exams/:exam_code/finalize
// Closes the operator's open attempt as Submitted or Attempted.
func (h *ExamHandler) FinalizeAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.FinalizeAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var end time.Time
	if req.EndTime != nil {
		end = *req.EndTime
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ledgerWriteTimeout)
	defer cancel()

	examCode := service.NormalizeExamCode(c.Param("exam_code"))
	if err := h.ledgerService.FinalizeAttempt(ctx, claims.OperatorID, examCode, req.Status, end, *req.TotalScore); err != nil {
		failWith(c, err)
		return
	}

	h.logSession(c, claims.OperatorID, model.SessionActionFinish, map[string]string{
		"exam_code": examCode,
		"status":    string(req.Status),
	})

	response.Success(c, http.StatusOK, gin.H{
		"exam_code":   examCode,
		"status":      req.Status,
		"total_score": *req.TotalScore,
	})
}

// GetCurrentAttempt godoc
// GET /api/v1/operator/exams/:exam_code/attempt
// Returns the operator's open attempt so an interrupted run can resume.
func (h *ExamHandler) GetCurrentAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempt, err := h.ledgerService.CurrentAttempt(c.Request.Context(), claims.OperatorID, c.Param("exam_code"))
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, attempt)
}

func (h *ExamHandler) logSession(c *gin.Context, operatorID string, action model.SessionAction, meta map[string]string) {
	err := h.sessionLogService.Log(c.Request.Context(), model.SessionLogEntry{
		OperatorID: operatorID,
		Action:     action,
		IPAddress:  c.ClientIP(),
		Metadata:   meta,
	})
	if err != nil {
		response.Logger(c).Warn().Err(err).Msg("Session log enqueue failed")
	}
}
