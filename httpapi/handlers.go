package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/educ8africa/authcore"
	"github.com/gin-gonic/gin"
)

const accessResultKey = "authcore.access"

type handler struct {
	engine    Authenticator
	logger    *slog.Logger
	cookie    string
	secure    bool
	path      string
	hashedKey string
}

type loginRequest struct {
	IdentityID        string `json:"identity_id" binding:"required"`
	Password          string `json:"password" binding:"required"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

type tokenRequest struct {
	RefreshToken      string `json:"refresh_token"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

type revokeAllRequest struct {
	IdentityID string `json:"identity_id"`
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	pair, err := h.engine.Login(c.Request.Context(), authcore.Credentials{
		IdentityID: req.IdentityID,
		Password:   req.Password,
	}, h.fingerprint(c, req.DeviceFingerprint))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.setCookie(c, pair)
	c.JSON(http.StatusOK, pair)
}

func (h *handler) refresh(c *gin.Context) {
	req, ok := h.bindToken(c)
	if !ok {
		return
	}
	pair, err := h.engine.Refresh(c.Request.Context(), req.RefreshToken, h.fingerprint(c, req.DeviceFingerprint))
	if err != nil {
		if errors.Is(err, authcore.ErrSessionRevoked) || errors.Is(err, authcore.ErrTokenReuseDetected) {
			h.clearCookie(c)
		}
		h.fail(c, err)
		return
	}
	h.setCookie(c, pair)
	c.JSON(http.StatusOK, pair)
}

func (h *handler) logout(c *gin.Context) {
	req, ok := h.bindToken(c)
	if !ok {
		return
	}
	if err := h.engine.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.fail(c, err)
		return
	}
	h.clearCookie(c)
	c.Status(http.StatusNoContent)
}

// revokeAll accepts either an admin API key naming the identity, or the
// identity's own bearer token.
func (h *handler) revokeAll(c *gin.Context) {
	var identityID string
	if key := c.GetHeader("X-API-Key"); key != "" {
		if !apiKeyValid(key, h.hashedKey) {
			unauthorized(c)
			return
		}
		var req revokeAllRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.IdentityID) == "" {
			badRequest(c, "invalid_request")
			return
		}
		identityID = req.IdentityID
	} else {
		h.requireBearer(c)
		if c.IsAborted() {
			return
		}
		identityID = c.MustGet(accessResultKey).(*authcore.AccessResult).IdentityID
	}

	n, err := h.engine.RevokeAllSessions(c.Request.Context(), identityID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (h *handler) me(c *gin.Context) {
	res := c.MustGet(accessResultKey).(*authcore.AccessResult)
	c.JSON(http.StatusOK, gin.H{
		"identity_id": res.IdentityID,
		"session_id":  res.SessionID,
		"expires_at":  res.ExpiresAt,
	})
}

func (h *handler) healthz(c *gin.Context) {
	if err := h.engine.Ping(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) requireBearer(c *gin.Context) {
	tok, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		unauthorized(c)
		return
	}
	res, err := h.engine.ValidateAccess(c.Request.Context(), tok)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Set(accessResultKey, res)
}

// bindToken reads an optional JSON body and falls back to the refresh cookie.
func (h *handler) bindToken(c *gin.Context) (tokenRequest, bool) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid_request")
		return req, false
	}
	if req.RefreshToken == "" && h.cookie != "" {
		if v, err := c.Cookie(h.cookie); err == nil {
			req.RefreshToken = v
		}
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		badRequest(c, "missing_refresh_token")
		return req, false
	}
	return req, true
}

func (h *handler) fingerprint(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader("X-Device-Fingerprint")
}

func (h *handler) setCookie(c *gin.Context, pair *authcore.TokenPair) {
	if h.cookie == "" {
		return
	}
	maxAge := int(time.Until(pair.RefreshExpiry).Seconds())
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie, pair.RefreshToken, maxAge, h.path, "", h.secure, true)
}

func (h *handler) clearCookie(c *gin.Context) {
	if h.cookie == "" {
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie, "", -1, h.path, "", h.secure, true)
}
