package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/educ8africa/authcore/internal/rate"
	"github.com/educ8africa/authcore/session"
	"github.com/educ8africa/authcore/token"
)

// Refresh redeems refreshToken exactly once and returns its successor pair.
//
// Replaying a refresh token that was already redeemed revokes the whole
// lineage and fails with ErrTokenReuseDetected; every other token of that
// lineage then fails with ErrSessionRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken, deviceFingerprint string) (pair *TokenPair, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, end := e.begin(ctx, opRefresh)
	defer end(&err)

	refreshToken = strings.TrimSpace(refreshToken)
	if ip := clientIPFromContext(ctx); ip != "" && e.limits != nil {
		if err := e.chargeRefresh(ctx, e.limits.refreshIP, rate.RefreshIPKey(ip), "refresh:ip", ""); err != nil {
			return nil, err
		}
	}

	claims, err := e.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		err = translate(err)
		e.emitAudit(ctx, auditEventRefreshFailure, "", "", err, nil)
		return nil, err
	}

	if e.limits != nil {
		if err := e.chargeRefresh(ctx, e.limits.refreshIdentity, rate.RefreshIdentityKey(claims.IdentityID), "refresh:id", claims.IdentityID); err != nil {
			return nil, err
		}
	}

	nextID := e.ledger.NewSessionID()
	pair, hash, err := e.issuePair(claims.IdentityID, nextID)
	if err != nil {
		return nil, err
	}

	// Rotation is not retried: a committed swap whose reply was lost would
	// come back as reuse of the parent.
	_, err = e.ledger.Rotate(ctx, session.RotateRequest{
		SessionID:         claims.SessionID,
		PresentedHash:     token.HashToken(refreshToken),
		DeviceFingerprint: deviceFingerprint,
		Next: session.Successor{
			ID:          nextID,
			RefreshHash: hash,
			ExpiresAt:   pair.RefreshExpiry,
		},
	})
	if err != nil {
		err = translate(err)
		e.refreshFailed(ctx, claims, err)
		return nil, err
	}

	e.emitAudit(ctx, auditEventRefreshSuccess, claims.IdentityID, nextID, nil, map[string]string{
		"parent_session_id": claims.SessionID,
	})
	return pair, nil
}

func (e *Engine) chargeRefresh(ctx context.Context, l rate.Limiter, key, scope, identityID string) error {
	d, err := l.Admit(ctx, key, 1)
	if err != nil {
		return unavailable(err)
	}
	if d.Allowed {
		return nil
	}
	rl := &RateLimitError{Scope: scope, RetryAfter: d.RetryAfter}
	e.emitRateLimit(ctx, rl, identityID, map[string]string{"operation": opRefresh})
	return rl
}

func (e *Engine) refreshFailed(ctx context.Context, claims *token.Claims, err error) {
	switch {
	case errors.Is(err, ErrTokenReuseDetected):
		e.metrics.securityEvent("reuse_detected")
		e.logger.WarnContext(ctx, "refresh token reuse detected, lineage revoked",
			"identity_id", claims.IdentityID,
			"session_id", claims.SessionID,
			"error", err,
		)
		e.emitAudit(ctx, auditEventRefreshReuse, claims.IdentityID, claims.SessionID, err, nil)
	case errors.Is(err, ErrDeviceMismatch):
		e.emitAudit(ctx, auditEventDeviceBindingReject, claims.IdentityID, claims.SessionID, err, nil)
	case errors.Is(err, ErrUnavailable):
		e.logger.ErrorContext(ctx, "rotate session failed", "session_id", claims.SessionID, "error", err)
		e.emitAudit(ctx, auditEventRefreshFailure, claims.IdentityID, claims.SessionID, err, nil)
	default:
		e.emitAudit(ctx, auditEventRefreshFailure, claims.IdentityID, claims.SessionID, err, nil)
	}
}
