package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/clipexam-backend/internal/middleware"
	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/response"
	"github.com/stemsi/clipexam-backend/internal/service"
	"github.com/stemsi/clipexam-backend/internal/validator"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService       *service.AuthService
	sessionLogService *service.SessionLogService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, sessionLogService *service.SessionLogService) *AuthHandler {
	return &AuthHandler{
		authService:       authService,
		sessionLogService: sessionLogService,
	}
}

// VerifyOperator godoc
// POST /api/v1/auth/operator/verify
// Admits an operator ID (checked against the roster when configured) and
// returns a JWT. A newer verification ends the operator's previous session.
func (h *AuthHandler) VerifyOperator(c *gin.Context) {
	var req model.VerifyOperatorRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	op, token, err := h.authService.VerifyOperator(c.Request.Context(), req.OperatorID)
	if err != nil {
		failWith(c, err)
		return
	}

	if err := h.sessionLogService.Log(c.Request.Context(), model.SessionLogEntry{
		OperatorID: op.OperatorID,
		Action:     model.SessionActionLogin,
		IPAddress:  c.ClientIP(),
	}); err != nil {
		response.Logger(c).Warn().Err(err).Msg("Session log enqueue failed")
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":    token,
		"operator": op,
	})
}

// GetOperatorProfile godoc
// GET /api/v1/auth/operator/me
func (h *AuthHandler) GetOperatorProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"operator": model.Operator{OperatorID: claims.OperatorID},
		"expires":  claims.ExpiresAt,
	})
}

// OperatorLogout godoc
// POST /api/v1/auth/operator/logout
func (h *AuthHandler) OperatorLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.ResetOperatorSession(c.Request.Context(), claims.OperatorID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// AdminLogin godoc
// POST /api/v1/auth/admin/login
// Checks the configured admin credentials and returns a JWT.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req model.AdminLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, err := h.authService.AdminLogin(req.Username, req.Password)
	switch {
	case errors.Is(err, service.ErrAdminDisabled):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrAdminDisabled)
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	case err != nil:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"admin": gin.H{"username": req.Username},
	})
}
