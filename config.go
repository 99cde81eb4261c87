package authcore

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/educ8africa/authcore/password"
	"github.com/educ8africa/authcore/token"
)

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override fields; [Builder.Build] calls [Config.Validate].
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Password  PasswordConfig
	Retry     RetryConfig
	Audit     AuditConfig
	Metrics   MetricsConfig

	// OperationTimeout bounds every engine call, store retries included.
	OperationTimeout time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls token lifetimes and signing keys.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	Secret        []byte
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh lineages.
type SessionConfig struct {
	// MaxLineageDepth caps rotations per login; 0 means unlimited.
	MaxLineageDepth          int
	RequireDeviceFingerprint bool
	BindDevice               bool
	// StrictAccess makes ValidateAccess consult the ledger, so revoked
	// sessions lose access before their access tokens expire.
	StrictAccess bool
	RedisPrefix  string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig sets the sliding-window budgets of login and refresh.
// LoginIdentityLimit and RefreshIdentityLimit count per identity across
// tenants; the IP limits count per client address.
type RateLimitConfig struct {
	Enabled bool

	LoginIdentityLimit int
	LoginIPLimit       int
	LoginWindow        time.Duration

	RefreshIdentityLimit int
	RefreshIPLimit       int
	RefreshWindow        time.Duration

	RedisPrefix string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig carries hashing parameters for credential stores and the
// login-time upgrade switch.
type PasswordConfig struct {
	Params password.Params
	// UpgradeOnLogin re-hashes legacy or under-strength hashes after a
	// successful login when the credential store supports it.
	UpgradeOnLogin bool
}

/*
====================================
RETRY CONFIG
====================================
*/

// RetryConfig bounds retries of transient store failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls Prometheus instrumentation.
type MetricsConfig struct {
	Enabled                 bool
	Namespace               string
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. The signing secret is left
// empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: string(token.MethodHS256),
			Issuer:        "authcore",
			Leeway:        30 * time.Second,
			MaxFutureIAT:  time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix: "as",
		},
		RateLimit: RateLimitConfig{
			Enabled:              true,
			LoginIdentityLimit:   5,
			LoginIPLimit:         20,
			LoginWindow:          time.Minute,
			RefreshIdentityLimit: 10,
			RefreshIPLimit:       60,
			RefreshWindow:        time.Minute,
			RedisPrefix:          "arl",
		},
		Password: PasswordConfig{
			Params:         password.DefaultParams(),
			UpgradeOnLogin: true,
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  20 * time.Millisecond,
			MaxDelay:   250 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "authcore",
		},
		OperationTimeout: 5 * time.Second,
	}
}

func cloneConfig(in Config) Config {
	out := in
	out.Token.Secret = cloneBytes(in.Token.Secret)
	out.Token.PrivateKey = cloneBytes(in.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(in.Token.PublicKey)
	if in.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(in.Token.VerifyKeys))
		for kid, key := range in.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Token.AccessTTL > 0, "token AccessTTL must be > 0")
	check(c.Token.RefreshTTL > c.Token.AccessTTL, "token RefreshTTL must exceed AccessTTL")
	check(c.Token.Leeway >= 0 && c.Token.Leeway <= 2*time.Minute, "token Leeway must be within [0, 2m]")
	check(c.Token.MaxFutureIAT >= 0, "token MaxFutureIAT must not be negative")
	switch token.SigningMethod(strings.ToLower(c.Token.SigningMethod)) {
	case token.MethodHS256:
		check(len(c.Token.Secret) >= 32, "token hs256 Secret must be at least 32 bytes")
	case token.MethodEd25519:
		check(len(c.Token.PrivateKey) > 0, "token ed25519 requires PrivateKey")
	default:
		errs = append(errs, fmt.Errorf("token SigningMethod %q is not supported", c.Token.SigningMethod))
	}

	check(c.Session.MaxLineageDepth >= 0, "session MaxLineageDepth must be >= 0")
	check(!c.Session.BindDevice || c.Session.RequireDeviceFingerprint, "session BindDevice requires RequireDeviceFingerprint")

	if c.RateLimit.Enabled {
		check(c.RateLimit.LoginIdentityLimit > 0, "rate limit LoginIdentityLimit must be > 0")
		check(c.RateLimit.LoginIPLimit > 0, "rate limit LoginIPLimit must be > 0")
		check(c.RateLimit.LoginWindow > 0, "rate limit LoginWindow must be > 0")
		check(c.RateLimit.RefreshIdentityLimit > 0, "rate limit RefreshIdentityLimit must be > 0")
		check(c.RateLimit.RefreshIPLimit > 0, "rate limit RefreshIPLimit must be > 0")
		check(c.RateLimit.RefreshWindow > 0, "rate limit RefreshWindow must be > 0")
	}

	check(c.Retry.MaxRetries >= 0 && c.Retry.MaxRetries <= 10, "retry MaxRetries must be within [0, 10]")
	check(c.Retry.MaxRetries == 0 || c.Retry.BaseDelay > 0, "retry BaseDelay must be > 0 when retries are enabled")
	check(c.Retry.MaxDelay >= c.Retry.BaseDelay, "retry MaxDelay must be >= BaseDelay")

	check(!c.Audit.Enabled || c.Audit.BufferSize > 0, "audit BufferSize must be > 0 when enabled")
	check(c.OperationTimeout > 0, "OperationTimeout must be > 0")

	return errors.Join(errs...)
}

func (c *Config) tokenConfig(now func() time.Time) token.Config {
	return token.Config{
		AccessTTL:     c.Token.AccessTTL,
		RefreshTTL:    c.Token.RefreshTTL,
		SigningMethod: token.SigningMethod(strings.ToLower(c.Token.SigningMethod)),
		Secret:        c.Token.Secret,
		PrivateKey:    c.Token.PrivateKey,
		PublicKey:     c.Token.PublicKey,
		Issuer:        c.Token.Issuer,
		Audience:      c.Token.Audience,
		Leeway:        c.Token.Leeway,
		MaxFutureIAT:  c.Token.MaxFutureIAT,
		KeyID:         c.Token.KeyID,
		VerifyKeys:    maps.Clone(c.Token.VerifyKeys),
		Now:           now,
	}
}
