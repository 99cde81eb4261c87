package authcore

import (
	"time"

	"github.com/educ8africa/authcore/credential"
	"github.com/educ8africa/authcore/internal/audit"
)

// Identity is the credential record the engine authenticates against.
type Identity = credential.Identity

// CredentialStore verifies passwords and loads identities.
type CredentialStore = credential.Store

// AuditEvent is one audited security occurrence.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// Credentials are presented at login.
type Credentials struct {
	IdentityID string
	Password   string
}

// TokenPair is issued by Login and Refresh. A pair is never modified; each
// refresh supersedes it with a new one.
type TokenPair struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	AccessExpiry  time.Time `json:"access_expires_at"`
	RefreshExpiry time.Time `json:"refresh_expires_at"`
	SessionID     string    `json:"session_id"`
	TokenType     string    `json:"token_type"`
}

// AccessResult is the outcome of a successful ValidateAccess.
type AccessResult struct {
	IdentityID string    `json:"identity_id"`
	SessionID  string    `json:"session_id"`
	TokenID    string    `json:"token_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
