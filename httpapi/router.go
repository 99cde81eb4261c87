package httpapi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/educ8africa/authcore"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Authenticator is the engine surface the handlers use. *authcore.Engine
// implements it.
type Authenticator interface {
	Login(ctx context.Context, creds authcore.Credentials, deviceFingerprint string) (*authcore.TokenPair, error)
	Refresh(ctx context.Context, refreshToken, deviceFingerprint string) (*authcore.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	RevokeAllSessions(ctx context.Context, identityID string) (int, error)
	ValidateAccess(ctx context.Context, accessToken string) (*authcore.AccessResult, error)
	Ping(ctx context.Context) error
}

// Options configures [NewRouter].
type Options struct {
	Engine Authenticator
	Logger *slog.Logger

	// CookieName, when set, also delivers the refresh token as an HttpOnly
	// cookie and accepts it on /refresh and /logout.
	CookieName   string
	CookieSecure bool
	CookiePath   string

	// HashedAPIKey is the hex SHA-256 of the admin key accepted in X-API-Key
	// on /revoke-all. Empty disables admin access.
	HashedAPIKey string

	AllowOrigins   []string
	TrustedProxies []string

	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	Debug   bool
}

// NewRouter builds the gin engine serving the auth endpoints.
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HashedAPIKey != "" {
		if _, err := hex.DecodeString(opts.HashedAPIKey); err != nil || len(opts.HashedAPIKey) != sha256.Size*2 {
			return nil, errors.New("httpapi: hashed API key must be a hex SHA-256 digest")
		}
	}
	if opts.CookiePath == "" {
		opts.CookiePath = "/"
	}

	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggingMiddleware(logger))
	r.Use(requestContext())
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}

	if len(opts.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Tenant-ID", "X-Device-Fingerprint"},
			ExposeHeaders:    []string{"Retry-After"},
			AllowCredentials: opts.CookieName != "",
			MaxAge:           12 * time.Hour,
		}))
	}

	h := &handler{
		engine:    opts.Engine,
		logger:    logger,
		cookie:    opts.CookieName,
		secure:    opts.CookieSecure,
		path:      opts.CookiePath,
		hashedKey: strings.ToLower(opts.HashedAPIKey),
	}

	r.POST("/login", h.login)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", h.logout)
	r.POST("/revoke-all", h.revokeAll)
	r.GET("/me", h.requireBearer, h.me)
	r.GET("/healthz", h.healthz)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return r, nil
}

func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// requestContext copies client metadata into the request context for rate
// limiting and audit.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := authcore.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = authcore.WithUserAgent(ctx, c.Request.UserAgent())
		if tenant := strings.TrimSpace(c.GetHeader("X-Tenant-ID")); tenant != "" {
			ctx = authcore.WithTenantID(ctx, tenant)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// apiKeyValid compares SHA-256(key) with the configured digest in constant time.
func apiKeyValid(key, hashed string) bool {
	if key == "" || hashed == "" {
		return false
	}
	sum := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(hashed)) == 1
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	return token, token != ""
}
