package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	// KindAccess authorizes individual API calls.
	KindAccess Kind = "access"
	// KindRefresh is redeemed exactly once for a new token pair.
	KindRefresh Kind = "refresh"
)

// SigningMethod selects the JWS algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret (HMAC-SHA256).
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
)

const (
	minSecretBytes      = 32
	maxLeeway           = 2 * time.Minute
	defaultMaxFutureIAT = time.Minute
)

// Config controls token lifetimes, keys, and verification tolerances.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	// Secret is the HMAC key for MethodHS256.
	Secret []byte
	// PrivateKey and PublicKey hold Ed25519 keys, raw or PEM encoded.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	// Leeway is the clock-skew grace applied to exp and nbf only.
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	// KeyID is written to the kid header of issued tokens.
	KeyID string
	// VerifyKeys maps kid to a verification key (secret for HS256, public key
	// for Ed25519). When set, every verified token must carry a known kid.
	VerifyKeys map[string][]byte
	Now        func() time.Time
}

// Claims is the verified content of a token.
type Claims struct {
	IdentityID string
	SessionID  string
	Kind       Kind
	TokenID    string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

type wireClaims struct {
	SID  string `json:"sid"`
	Kind Kind   `json:"knd"`
	jwt.RegisteredClaims
}

// Codec issues and verifies tokens. It is immutable after construction and
// safe for concurrent use.
type Codec struct {
	config     Config
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	verifyKeys map[string]any
	now        func() time.Time
}

// NewCodec validates cfg and parses its keys.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: TTLs must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("token: refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, errors.New("token: leeway must be between 0 and 2m")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	if cfg.MaxFutureIAT < 0 {
		return nil, errors.New("token: MaxFutureIAT must not be negative")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	c := &Codec{config: cfg, now: cfg.Now}
	if c.now == nil {
		c.now = time.Now
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Secret) < minSecretBytes {
			return nil, fmt.Errorf("token: hs256 secret must be at least %d bytes", minSecretBytes)
		}
		c.method = jwt.SigningMethodHS256
		c.signKey = cfg.Secret
		c.verifyKey = cfg.Secret
	case MethodEd25519:
		c.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			c.signKey = priv
			c.verifyKey = priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			c.verifyKey = pub
		}
		if c.verifyKey == nil && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("token: ed25519 requires a private key, public key, or verify key set")
		}
	default:
		return nil, fmt.Errorf("token: unsupported signing method %q", cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		c.verifyKeys = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("token: verify key set contains an empty kid")
			}
			key, err := c.verificationKey(raw)
			if err != nil {
				return nil, fmt.Errorf("token: verify key %q: %w", kid, err)
			}
			c.verifyKeys[kid] = key
		}
		if cfg.KeyID != "" {
			if _, ok := c.verifyKeys[cfg.KeyID]; !ok {
				return nil, errors.New("token: KeyID is not present in VerifyKeys")
			}
		}
	}

	return c, nil
}

// TTL returns the lifetime configured for kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	switch kind {
	case KindAccess:
		return c.config.AccessTTL
	case KindRefresh:
		return c.config.RefreshTTL
	default:
		return 0
	}
}

// Issue signs a token of the given kind bound to identityID and sessionID.
// It returns the token and its expiry.
func (c *Codec) Issue(identityID, sessionID string, kind Kind) (string, time.Time, error) {
	if identityID == "" || sessionID == "" {
		return "", time.Time{}, errors.New("token: identity and session IDs are required")
	}
	ttl := c.TTL(kind)
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("token: unknown kind %q", kind)
	}
	if c.signKey == nil {
		return "", time.Time{}, errors.New("token: codec has no signing key")
	}

	// NumericDate has second precision; truncating keeps the returned expiry
	// identical to the encoded one.
	now := c.now().Truncate(time.Second)
	expires := now.Add(ttl)

	claims := wireClaims{
		SID:  sessionID,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    c.config.Issuer,
		},
	}
	if c.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	tok := jwt.NewWithClaims(c.method, claims)
	if c.config.KeyID != "" {
		tok.Header["kid"] = c.config.KeyID
	}
	signed, err := tok.SignedString(c.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, expires, nil
}

// Verify checks signature, expiry (with leeway), issuer, audience, and kind.
func (c *Codec) Verify(raw string, kind Kind) (*Claims, error) {
	return c.verify(raw, kind, false)
}

// VerifyAllowExpired checks everything [Codec.Verify] does except expiry.
// The signature is always verified.
func (c *Codec) VerifyAllowExpired(raw string, kind Kind) (*Claims, error) {
	return c.verify(raw, kind, true)
}

func (c *Codec) verify(raw string, kind Kind, allowExpired bool) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformedToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if allowExpired {
		options = append(options, jwt.WithoutClaimsValidation())
	} else {
		options = append(options, jwt.WithExpirationRequired())
		if c.config.Leeway > 0 {
			options = append(options, jwt.WithLeeway(c.config.Leeway))
		}
		if c.config.Issuer != "" {
			options = append(options, jwt.WithIssuer(c.config.Issuer))
		}
		if c.config.Audience != "" {
			options = append(options, jwt.WithAudience(c.config.Audience))
		}
	}

	var wc wireClaims
	if _, err := jwt.NewParser(options...).ParseWithClaims(raw, &wc, c.keyFunc); err != nil {
		return nil, classify(err)
	}

	if allowExpired {
		if c.config.Issuer != "" && wc.Issuer != c.config.Issuer {
			return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidSignature)
		}
		if c.config.Audience != "" && !containsAudience(wc.Audience, c.config.Audience) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidSignature)
		}
	}

	if wc.Subject == "" || wc.SID == "" || wc.IssuedAt == nil || wc.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing required claims", ErrMalformedToken)
	}
	if wc.Kind != kind {
		return nil, ErrWrongKind
	}
	if wc.IssuedAt.Time.After(c.now().Add(c.config.MaxFutureIAT)) {
		return nil, ErrFutureIssuedAt
	}

	return &Claims{
		IdentityID: wc.Subject,
		SessionID:  wc.SID,
		Kind:       wc.Kind,
		TokenID:    wc.ID,
		IssuedAt:   wc.IssuedAt.Time,
		ExpiresAt:  wc.ExpiresAt.Time,
	}, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if len(c.verifyKeys) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := c.verifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if c.config.KeyID != "" && kid != c.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	if c.verifyKey == nil {
		return nil, errors.New("no verification key")
	}
	return c.verifyKey, nil
}

func (c *Codec) verificationKey(raw []byte) (any, error) {
	if c.method == jwt.SigningMethodHS256 {
		if len(raw) < minSecretBytes {
			return nil, errors.New("secret too short")
		}
		return raw, nil
	}
	return parseEdPublicKey(raw)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

// HashToken returns the SHA-256 digest under which a refresh token is stored.
func HashToken(raw string) [32]byte {
	return sha256.Sum256([]byte(raw))
}
