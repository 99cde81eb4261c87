package authcore

import (
	"context"
	"maps"
)

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshFailure      = "refresh_failure"
	auditEventRefreshReuse        = "refresh_reuse_detected"
	auditEventLogout              = "logout"
	auditEventRevokeAll           = "revoke_all"
	auditEventRateLimitTriggered  = "rate_limit_triggered"
	auditEventPasswordRehashed    = "password_rehashed"
	auditEventDeviceBindingReject = "device_binding_rejected"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	identityID string,
	sessionID string,
	err error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	event := AuditEvent{
		Type:       eventType,
		IdentityID: identityID,
		TenantID:   tenantIDFromContext(ctx),
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Success:    err == nil,
		Metadata:   metadata,
	}
	if err != nil {
		event.Error = outcome(err)
	}
	// The operation deadline must not cut a blocking emit short.
	e.audit.Emit(context.WithoutCancel(ctx), event)
}

func (e *Engine) emitRateLimit(ctx context.Context, rl *RateLimitError, identityID string, metadata map[string]string) {
	e.metrics.rateLimit(rl.Scope)
	e.logger.WarnContext(ctx, "rate limit triggered",
		"scope", rl.Scope,
		"retry_after", rl.RetryAfter,
		"ip", clientIPFromContext(ctx),
	)
	md := map[string]string{
		"scope":       rl.Scope,
		"retry_after": rl.RetryAfter.String(),
	}
	maps.Copy(md, metadata)
	e.emitAudit(ctx, auditEventRateLimitTriggered, identityID, "", rl, md)
}
