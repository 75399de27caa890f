package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/clipexam-backend/internal/response"
	"github.com/stemsi/clipexam-backend/internal/service"
)

// CheckSingleDeviceSession validates the JWT's JTI against the operator's
// active session. A newer verification or an admin reset invalidates it.
func CheckSingleDeviceSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		// Only enforce for operator tokens.
		if claims.TokenType != service.TokenTypeOperator {
			c.Next()
			return
		}

		err := authService.ValidateOperatorSession(c.Request.Context(), claims.OperatorID, claims.ID)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, service.ErrSessionInvalidated):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
		default:
			response.Logger(c).Error().Err(err).Str("operator_id", claims.OperatorID).Msg("Session check failed")
			response.AbortFail(c, http.StatusServiceUnavailable, response.ErrInternal)
		}
	}
}
