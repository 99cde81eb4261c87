package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/educ8africa/authcore"
	"github.com/educ8africa/authcore/token"
	"github.com/spf13/viper"
)

// serverConfig is loaded from the dotenv file and the environment. Keys
// are read as AUTHCORE_<KEY>; SECRET_KEY, ALGORITHM and HASHED_API_KEY are
// also accepted unprefixed.
type serverConfig struct {
	HTTPAddr       string        `mapstructure:"http_addr"`
	DatabaseURL    string        `mapstructure:"database_url"`
	RedisURL       string        `mapstructure:"redis_url"`
	SecretKey      string        `mapstructure:"secret_key"`
	Algorithm      string        `mapstructure:"algorithm"`
	PrivateKeyFile string        `mapstructure:"private_key_file"`
	PublicKeyFile  string        `mapstructure:"public_key_file"`
	KeyID          string        `mapstructure:"key_id"`
	Issuer         string        `mapstructure:"issuer"`
	Audience       string        `mapstructure:"audience"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
	HashedAPIKey   string        `mapstructure:"hashed_api_key"`

	MaxLineageDepth          int  `mapstructure:"max_lineage_depth"`
	RequireDeviceFingerprint bool `mapstructure:"require_device_fingerprint"`
	BindDevice               bool `mapstructure:"bind_device"`
	StrictAccess             bool `mapstructure:"strict_access"`

	RateLimitEnabled     bool          `mapstructure:"rate_limit_enabled"`
	LoginIdentityLimit   int           `mapstructure:"login_identity_limit"`
	LoginIPLimit         int           `mapstructure:"login_ip_limit"`
	LoginWindow          time.Duration `mapstructure:"login_window"`
	RefreshIdentityLimit int           `mapstructure:"refresh_identity_limit"`
	RefreshIPLimit       int           `mapstructure:"refresh_ip_limit"`
	RefreshWindow        time.Duration `mapstructure:"refresh_window"`

	CookieName     string   `mapstructure:"cookie_name"`
	CookieSecure   bool     `mapstructure:"cookie_secure"`
	AllowOrigins   []string `mapstructure:"allow_origins"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	MetricsEnabled  bool          `mapstructure:"metrics_enabled"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

var unprefixedKeys = []string{"secret_key", "algorithm", "hashed_api_key", "database_url", "redis_url"}

func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // a missing file is fine
	}
	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range unprefixedKeys {
		_ = v.BindEnv(key, "AUTHCORE_"+strings.ToUpper(key), strings.ToUpper(key))
	}

	// Unmarshal only sees keys viper already knows about.
	for _, key := range []string{"private_key_file", "public_key_file", "key_id", "audience"} {
		v.SetDefault(key, "")
	}
	defaults := authcore.DefaultConfig()
	v.SetDefault("http_addr", ":8000")
	v.SetDefault("algorithm", "HS256")
	v.SetDefault("issuer", defaults.Token.Issuer)
	v.SetDefault("access_ttl", defaults.Token.AccessTTL)
	v.SetDefault("refresh_ttl", defaults.Token.RefreshTTL)
	v.SetDefault("max_lineage_depth", defaults.Session.MaxLineageDepth)
	v.SetDefault("require_device_fingerprint", false)
	v.SetDefault("bind_device", false)
	v.SetDefault("strict_access", false)
	v.SetDefault("rate_limit_enabled", defaults.RateLimit.Enabled)
	v.SetDefault("login_identity_limit", defaults.RateLimit.LoginIdentityLimit)
	v.SetDefault("login_ip_limit", defaults.RateLimit.LoginIPLimit)
	v.SetDefault("login_window", defaults.RateLimit.LoginWindow)
	v.SetDefault("refresh_identity_limit", defaults.RateLimit.RefreshIdentityLimit)
	v.SetDefault("refresh_ip_limit", defaults.RateLimit.RefreshIPLimit)
	v.SetDefault("refresh_window", defaults.RateLimit.RefreshWindow)
	v.SetDefault("cookie_name", "refresh_token")
	v.SetDefault("cookie_secure", true)
	v.SetDefault("allow_origins", []string{})
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_enabled", defaults.Metrics.Enabled)
	v.SetDefault("janitor_interval", time.Minute)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	return v
}

func loadConfig(v *viper.Viper) (*serverConfig, error) {
	var cfg serverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: http_addr must be set")
	}
	if cfg.JanitorInterval <= 0 {
		return nil, errors.New("config: janitor_interval must be positive")
	}
	return &cfg, nil
}

// signingMethod accepts the JWS names used by older deployments.
func signingMethod(alg string) (token.SigningMethod, error) {
	switch strings.ToLower(strings.TrimSpace(alg)) {
	case "", "hs256":
		return token.MethodHS256, nil
	case "eddsa", "ed25519":
		return token.MethodEd25519, nil
	default:
		return "", fmt.Errorf("config: unsupported algorithm %q", alg)
	}
}

// engineConfig translates the server settings into an engine Config.
func (c *serverConfig) engineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()

	method, err := signingMethod(c.Algorithm)
	if err != nil {
		return cfg, err
	}
	cfg.Token.SigningMethod = string(method)
	cfg.Token.Secret = []byte(c.SecretKey)
	if c.PrivateKeyFile != "" {
		if cfg.Token.PrivateKey, err = os.ReadFile(c.PrivateKeyFile); err != nil {
			return cfg, fmt.Errorf("config: read private key: %w", err)
		}
	}
	if c.PublicKeyFile != "" {
		if cfg.Token.PublicKey, err = os.ReadFile(c.PublicKeyFile); err != nil {
			return cfg, fmt.Errorf("config: read public key: %w", err)
		}
	}
	cfg.Token.KeyID = c.KeyID
	cfg.Token.Issuer = c.Issuer
	cfg.Token.Audience = c.Audience
	cfg.Token.AccessTTL = c.AccessTTL
	cfg.Token.RefreshTTL = c.RefreshTTL

	cfg.Session.MaxLineageDepth = c.MaxLineageDepth
	cfg.Session.RequireDeviceFingerprint = c.RequireDeviceFingerprint
	cfg.Session.BindDevice = c.BindDevice
	cfg.Session.StrictAccess = c.StrictAccess

	cfg.RateLimit.Enabled = c.RateLimitEnabled
	cfg.RateLimit.LoginIdentityLimit = c.LoginIdentityLimit
	cfg.RateLimit.LoginIPLimit = c.LoginIPLimit
	cfg.RateLimit.LoginWindow = c.LoginWindow
	cfg.RateLimit.RefreshIdentityLimit = c.RefreshIdentityLimit
	cfg.RateLimit.RefreshIPLimit = c.RefreshIPLimit
	cfg.RateLimit.RefreshWindow = c.RefreshWindow

	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled

	return cfg, cfg.Validate()
}
