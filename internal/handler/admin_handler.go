package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/response"
	"github.com/stemsi/clipexam-backend/internal/service"
	"github.com/stemsi/clipexam-backend/internal/validator"
)

// AdminHandler serves result analysis and ledger maintenance.
type AdminHandler struct {
	authService    *service.AuthService
	catalogService *service.CatalogService
	schemaService  *service.SchemaService
	ledgerService  *service.LedgerService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	authService *service.AuthService,
	catalogService *service.CatalogService,
	schemaService *service.SchemaService,
	ledgerService *service.LedgerService,
) *AdminHandler {
	return &AdminHandler{
		authService:    authService,
		catalogService: catalogService,
		schemaService:  schemaService,
		ledgerService:  ledgerService,
	}
}

// GetResultsAnalysis godoc
// GET /api/v1/admin/results?exam_code=DEMO
// Aggregates ledger rows, optionally for one exam code.
func (h *AdminHandler) GetResultsAnalysis(c *gin.Context) {
	analysis, err := h.ledgerService.GetResultsAnalysis(c.Request.Context(), c.Query("exam_code"))
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, analysis)
}

// ListExamCodes godoc
// GET /api/v1/admin/exams
// Lists catalog exam codes alongside those present in the ledger.
func (h *AdminHandler) ListExamCodes(c *gin.Context) {
	catalog, err := h.catalogService.ListExamCodes(c.Request.Context())
	if err != nil {
		failWith(c, err)
		return
	}
	ledger, err := h.ledgerService.ListExamCodes(c.Request.Context())
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"catalog": catalog,
		"ledger":  ledger,
	})
}

// EnsureSchema godoc
// POST /api/v1/admin/exams/:exam_code/schema
// Reserves ledger fields for every clip of the exam code.
func (h *AdminHandler) EnsureSchema(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), ledgerWriteTimeout)
	defer cancel()

	report, err := h.schemaService.EnsureSchema(ctx, c.Param("exam_code"))
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// ResetAttempt godoc
// DELETE /api/v1/admin/exams/:exam_code/attempts/:user_id
// Deletes a stuck open attempt so the operator can start over.
func (h *AdminHandler) ResetAttempt(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), ledgerWriteTimeout)
	defer cancel()

	if err := h.ledgerService.ResetAttempt(ctx, c.Param("user_id"), c.Param("exam_code")); err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// ResetOperatorSession godoc
// DELETE /api/v1/admin/operators/:operator_id/session
// Invalidates the operator's current token.
func (h *AdminHandler) ResetOperatorSession(c *gin.Context) {
	if err := h.authService.ResetOperatorSession(c.Request.Context(), c.Param("operator_id")); err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// UpsertClip godoc
// PUT /api/v1/admin/clips
// Creates or replaces a catalog clip. New clips get ledger fields the next
// time the exam code's schema is ensured.
func (h *AdminHandler) UpsertClip(c *gin.Context) {
	var req model.CreateClipRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	clip := &model.Clip{
		ExamCode:        req.ExamCode,
		ClipID:          req.ClipID,
		Title:           req.Title,
		HasIntervention: req.HasIntervention,
		CorrectTime:     req.CorrectTime,
		Active:          req.Active,
		MediaRef:        req.MediaRef,
		Order:           req.Order,
	}
	if err := h.catalogService.UpsertClip(c.Request.Context(), clip); err != nil {
		failWith(c, err)
		return
	}
	response.Created(c, clip)
}
