package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/educ8africa/authcore/credential"
	"github.com/educ8africa/authcore/internal/rate"
	"github.com/educ8africa/authcore/session"
)

// Login authenticates creds and opens a new session lineage.
//
// Every attempt reserves one slot of the client-IP budget and one of the
// identity budget before the password is verified, so concurrent guesses
// cannot outrun the limit. A successful login resets the identity budget
// only; failures keep their slot. Unknown identities, wrong passwords and
// identities of another tenant all yield ErrInvalidCredentials.
// deviceFingerprint is recorded on the session and is mandatory when
// Session.RequireDeviceFingerprint is set.
func (e *Engine) Login(ctx context.Context, creds Credentials, deviceFingerprint string) (pair *TokenPair, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, end := e.begin(ctx, opLogin)
	defer end(&err)

	identityID := strings.TrimSpace(creds.IdentityID)
	if identityID == "" || creds.Password == "" {
		e.emitAudit(ctx, auditEventLoginFailure, identityID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}
	ip := clientIPFromContext(ctx)

	if err := e.reserveLoginBudget(ctx, identityID, ip); err != nil {
		var rl *RateLimitError
		if errors.As(err, &rl) {
			e.emitRateLimit(ctx, rl, identityID, map[string]string{"operation": opLogin})
		}
		return nil, err
	}

	var ok bool
	err = e.withRetry(ctx, func(ctx context.Context) error {
		var verr error
		ok, verr = e.credentials.VerifyPassword(ctx, identityID, creds.Password)
		return verr
	})
	if err != nil {
		err = unavailable(err)
		e.logger.ErrorContext(ctx, "credential verification failed", "identity_id", identityID, "error", err)
		e.emitAudit(ctx, auditEventLoginFailure, identityID, "", err, nil)
		return nil, err
	}
	if !ok {
		e.emitAudit(ctx, auditEventLoginFailure, identityID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	var ident Identity
	err = e.withRetry(ctx, func(ctx context.Context) error {
		var gerr error
		ident, gerr = e.credentials.GetIdentity(ctx, identityID)
		return gerr
	})
	switch {
	case errors.Is(err, credential.ErrIdentityNotFound):
		// Deleted between verify and load.
		e.emitAudit(ctx, auditEventLoginFailure, identityID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	case err != nil:
		err = unavailable(err)
		e.emitAudit(ctx, auditEventLoginFailure, identityID, "", err, nil)
		return nil, err
	case ident.TenantID != "" && ident.TenantID != tenantIDFromContext(ctx):
		e.emitAudit(ctx, auditEventLoginFailure, identityID, "", ErrInvalidCredentials, map[string]string{
			"reason": "tenant_mismatch",
		})
		return nil, ErrInvalidCredentials
	case ident.Disabled:
		e.emitAudit(ctx, auditEventLoginFailure, identityID, "", ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	case ident.Locked:
		e.emitAudit(ctx, auditEventLoginFailure, identityID, "", ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	if e.limits != nil {
		if rerr := e.limits.loginIdentity.Reset(ctx, rate.LoginIdentityKey(identityID)); rerr != nil {
			e.logger.WarnContext(ctx, "reset login budget failed", "identity_id", identityID, "error", rerr)
		}
	}

	sessionID := e.ledger.NewSessionID()
	pair, hash, err := e.issuePair(identityID, sessionID)
	if err != nil {
		return nil, err
	}

	attempted := false
	err = e.withRetry(ctx, func(ctx context.Context) error {
		_, cerr := e.ledger.CreateSession(ctx, session.NewSession{
			ID:                sessionID,
			IdentityID:        identityID,
			DeviceFingerprint: deviceFingerprint,
			RefreshHash:       hash,
			ExpiresAt:         pair.RefreshExpiry,
		})
		if errors.Is(cerr, session.ErrAlreadyExists) && attempted {
			// An earlier attempt committed but its reply was lost.
			if rec, gerr := e.ledger.Get(ctx, sessionID); gerr == nil && rec.RefreshHash == hash {
				return nil
			}
		}
		attempted = true
		return cerr
	})
	if err != nil {
		err = translate(err)
		e.logger.ErrorContext(ctx, "create session failed", "identity_id", identityID, "error", err)
		e.emitAudit(ctx, auditEventLoginFailure, identityID, sessionID, err, nil)
		return nil, err
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePassword(ctx, identityID, creds.Password)
	}

	e.logger.InfoContext(ctx, "login", "identity_id", identityID, "session_id", sessionID)
	e.emitAudit(ctx, auditEventLoginSuccess, identityID, sessionID, nil, nil)
	return pair, nil
}

// reserveLoginBudget charges one attempt to the client-IP budget and then
// to the identity budget. An attempt refused by the IP budget is not charged
// to the identity.
func (e *Engine) reserveLoginBudget(ctx context.Context, identityID, ip string) error {
	if e.limits == nil {
		return nil
	}
	if ip != "" {
		if err := e.admitLogin(ctx, e.limits.loginIP, rate.LoginIPKey(ip), "login:ip"); err != nil {
			return err
		}
	}
	return e.admitLogin(ctx, e.limits.loginIdentity, rate.LoginIdentityKey(identityID), "login:id")
}

func (e *Engine) admitLogin(ctx context.Context, l rate.Limiter, key, scope string) error {
	d, err := l.Admit(ctx, key, 1)
	if err != nil {
		return unavailable(err)
	}
	if !d.Allowed {
		return &RateLimitError{Scope: scope, RetryAfter: d.RetryAfter}
	}
	return nil
}

// upgradePassword re-hashes a legacy or under-strength hash. Failures are
// logged and never fail the login.
func (e *Engine) upgradePassword(ctx context.Context, identityID, plaintext string) {
	rh, ok := e.credentials.(credential.Rehasher)
	if !ok {
		return
	}
	needs, err := rh.NeedsRehash(ctx, identityID)
	if err != nil || !needs {
		return
	}
	if err := rh.SetPassword(ctx, identityID, plaintext); err != nil {
		e.logger.WarnContext(ctx, "password upgrade failed", "identity_id", identityID, "error", err)
		return
	}
	e.emitAudit(ctx, auditEventPasswordRehashed, identityID, "", nil, nil)
}
