package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/educ8africa/authcore"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error string `json:"error"`
}

// status maps an engine error onto an HTTP status and a stable code.
func status(err error) (int, string) {
	switch {
	case errors.Is(err, authcore.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, authcore.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, authcore.ErrTokenReuseDetected):
		return http.StatusUnauthorized, "token_reuse_detected"
	case errors.Is(err, authcore.ErrSessionRevoked):
		return http.StatusUnauthorized, "session_revoked"
	case errors.Is(err, authcore.ErrDeviceMismatch):
		return http.StatusUnauthorized, "device_mismatch"
	case errors.Is(err, authcore.ErrMalformedToken):
		return http.StatusBadRequest, "malformed_token"
	case errors.Is(err, authcore.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, authcore.ErrFingerprintRequired):
		return http.StatusBadRequest, "device_fingerprint_required"
	case errors.Is(err, authcore.ErrAccountLocked):
		return http.StatusForbidden, "account_locked"
	case errors.Is(err, authcore.ErrAccountDisabled):
		return http.StatusForbidden, "account_disabled"
	case errors.Is(err, authcore.ErrUnavailable), errors.Is(err, authcore.ErrEngineNotReady):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	code, name := status(err)
	if code == http.StatusTooManyRequests {
		secs := int(math.Ceil(authcore.RetryAfter(err).Seconds()))
		c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			"path", c.FullPath(),
			"error", err,
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, errorBody{Error: name})
}

func badRequest(c *gin.Context, name string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: name})
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
}
