package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/clipexam-backend/internal/keylock"
	"github.com/stemsi/clipexam-backend/internal/response"
	"github.com/stemsi/clipexam-backend/internal/scoring"
	"github.com/stemsi/clipexam-backend/internal/service"
)

// ledgerWriteTimeout bounds a ledger call, lock wait included.
const ledgerWriteTimeout = 15 * time.Second

// classify maps a domain error to its HTTP status and API error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInvalidFinalStatus):
		return http.StatusBadRequest, response.ErrInvalidFinalStatus
	case errors.Is(err, service.ErrInvalidClipResult), errors.Is(err, service.ErrInvalidClip):
		return http.StatusBadRequest, response.ErrInvalidClipResult
	case errors.Is(err, service.ErrUnknownExamCode):
		return http.StatusNotFound, response.ErrUnknownExamCode
	case errors.Is(err, service.ErrNoActiveAttempt):
		return http.StatusNotFound, response.ErrNoActiveAttempt
	case errors.Is(err, service.ErrSchemaNotProvisioned):
		return http.StatusConflict, response.ErrSchemaNotProvisioned
	case errors.Is(err, keylock.ErrLockTimeout):
		return http.StatusConflict, response.ErrAttemptBusy
	case errors.Is(err, service.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable, response.ErrCatalogUnavailable
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, response.ErrStoreUnavailable
	case errors.Is(err, service.ErrOperatorNotFound):
		return http.StatusUnauthorized, response.ErrOperatorNotFound
	case errors.Is(err, service.ErrOperatorInactive):
		return http.StatusForbidden, response.ErrOperatorInactive
	case errors.Is(err, service.ErrCatalogReadOnly):
		return http.StatusMethodNotAllowed, response.ErrInvalidPayload
	case errors.Is(err, scoring.ErrClipNotArmed),
		errors.Is(err, scoring.ErrClipAlreadyArmed),
		errors.Is(err, scoring.ErrClipNotScored),
		errors.Is(err, scoring.ErrRunIncomplete),
		errors.Is(err, scoring.ErrRunFinished):
		return http.StatusConflict, response.ErrInvalidPayload
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusConflict, response.ErrAttemptBusy
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failWith writes the envelope for a service error. Unclassified errors are
// logged; classified ones are expected outcomes.
func failWith(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		response.Logger(c).Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	} else {
		response.Logger(c).Debug().Err(err).Str("code", string(code)).Msg("Request rejected")
	}
	response.Fail(c, status, code)
}
