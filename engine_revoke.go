package authcore

import (
	"context"
	"strconv"
	"strings"

	"github.com/educ8africa/authcore/session"
	"github.com/educ8africa/authcore/token"
)

// Logout ends the lineage refreshToken belongs to. It succeeds for any
// correctly signed refresh token, including expired and already revoked
// ones, so repeating it is harmless.
func (e *Engine) Logout(ctx context.Context, refreshToken string) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, end := e.begin(ctx, opLogout)
	defer end(&err)

	claims, err := e.codec.VerifyAllowExpired(strings.TrimSpace(refreshToken), token.KindRefresh)
	if err != nil {
		return translate(err)
	}

	var n int
	err = e.withRetry(ctx, func(ctx context.Context) error {
		var rerr error
		n, rerr = e.ledger.RevokeLineage(ctx, claims.SessionID, session.ReasonLogout)
		return rerr
	})
	if err != nil {
		err = translate(err)
		e.logger.ErrorContext(ctx, "logout failed", "session_id", claims.SessionID, "error", err)
		e.emitAudit(ctx, auditEventLogout, claims.IdentityID, claims.SessionID, err, nil)
		return err
	}

	e.emitAudit(ctx, auditEventLogout, claims.IdentityID, claims.SessionID, nil, map[string]string{
		"revoked": strconv.Itoa(n),
	})
	return nil
}

// RevokeAllSessions revokes every session of identityID ("log out
// everywhere") and returns how many were still active.
func (e *Engine) RevokeAllSessions(ctx context.Context, identityID string) (n int, err error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	ctx, end := e.begin(ctx, opRevoke)
	defer end(&err)

	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return 0, ErrInvalidCredentials
	}

	err = e.withRetry(ctx, func(ctx context.Context) error {
		var rerr error
		n, rerr = e.ledger.RevokeAll(ctx, identityID, session.ReasonRevokeAll)
		return rerr
	})
	if err != nil {
		err = translate(err)
		e.logger.ErrorContext(ctx, "revoke all sessions failed", "identity_id", identityID, "error", err)
		e.emitAudit(ctx, auditEventRevokeAll, identityID, "", err, nil)
		return 0, err
	}

	e.metrics.securityEvent("revoke_all")
	e.logger.InfoContext(ctx, "revoked all sessions", "identity_id", identityID, "revoked", n)
	e.emitAudit(ctx, auditEventRevokeAll, identityID, "", nil, map[string]string{
		"revoked": strconv.Itoa(n),
	})
	return n, nil
}

// RevokeSession administratively ends the lineage of sessionID and
// returns how many records changed. Unknown sessions are not an error.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) (n int, err error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	ctx, end := e.begin(ctx, opRevoke)
	defer end(&err)

	err = e.withRetry(ctx, func(ctx context.Context) error {
		var rerr error
		n, rerr = e.ledger.RevokeLineage(ctx, sessionID, session.ReasonAdmin)
		return rerr
	})
	if err != nil {
		return 0, translate(err)
	}
	e.metrics.securityEvent("lineage_revoked")
	e.emitAudit(ctx, auditEventLogout, "", sessionID, nil, map[string]string{
		"reason":  string(session.ReasonAdmin),
		"revoked": strconv.Itoa(n),
	})
	return n, nil
}

// ActiveSessions lists the redeemable sessions of identityID.
func (e *Engine) ActiveSessions(ctx context.Context, identityID string) (records []*session.Record, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.OperationTimeout)
	defer cancel()

	err = e.withRetry(ctx, func(ctx context.Context) error {
		var lerr error
		records, lerr = e.ledger.ListActive(ctx, identityID)
		return lerr
	})
	return records, translate(err)
}
