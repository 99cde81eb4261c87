package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/educ8africa/authcore/internal/logging"
	"github.com/educ8africa/authcore/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(newViper(""))
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, "HS256", cfg.Algorithm)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 5, cfg.LoginIdentityLimit)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, time.Minute, cfg.JanitorInterval)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("SECRET_KEY", strings.Repeat("x", 32))
	t.Setenv("HASHED_API_KEY", "abc")
	t.Setenv("AUTHCORE_HTTP_ADDR", ":9999")
	t.Setenv("AUTHCORE_ACCESS_TTL", "5m")
	t.Setenv("AUTHCORE_STRICT_ACCESS", "true")
	t.Setenv("AUTHCORE_ALLOW_ORIGINS", "https://a.example,https://b.example")

	cfg, err := loadConfig(newViper(""))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 32), cfg.SecretKey)
	assert.Equal(t, "abc", cfg.HashedAPIKey)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.True(t, cfg.StrictAccess)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowOrigins)
}

func TestLoadConfig_DotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SECRET_KEY=from-file-secret-0123456789abcdef\nLOGIN_IDENTITY_LIMIT=9\n"), 0o600))

	cfg, err := loadConfig(newViper(path))
	require.NoError(t, err)
	assert.Equal(t, "from-file-secret-0123456789abcdef", cfg.SecretKey)
	assert.Equal(t, 9, cfg.LoginIdentityLimit)
}

func TestEngineConfig(t *testing.T) {
	cfg, err := loadConfig(newViper(""))
	require.NoError(t, err)

	cfg.SecretKey = "short"
	_, err = cfg.engineConfig()
	assert.Error(t, err)

	cfg.SecretKey = strings.Repeat("k", 32)
	cfg.MaxLineageDepth = 20
	ec, err := cfg.engineConfig()
	require.NoError(t, err)
	assert.Equal(t, string(token.MethodHS256), ec.Token.SigningMethod)
	assert.Equal(t, 20, ec.Session.MaxLineageDepth)

	cfg.Algorithm = "RS512"
	_, err = cfg.engineConfig()
	assert.Error(t, err)
}

func TestEngineConfig_Ed25519KeyFiles(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "priv.key")
	pubPath := filepath.Join(dir, "pub.key")
	require.NoError(t, os.WriteFile(privPath, priv.Seed(), 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o600))

	cfg, err := loadConfig(newViper(""))
	require.NoError(t, err)
	cfg.Algorithm = "EdDSA"
	cfg.PrivateKeyFile = privPath
	cfg.PublicKeyFile = pubPath

	ec, err := cfg.engineConfig()
	require.NoError(t, err)
	assert.Equal(t, string(token.MethodEd25519), ec.Token.SigningMethod)
	assert.Equal(t, []byte(priv.Seed()), ec.Token.PrivateKey)

	cfg.PrivateKeyFile = filepath.Join(dir, "missing")
	_, err = cfg.engineConfig()
	assert.Error(t, err)
}

func TestSigningMethod(t *testing.T) {
	for alg, want := range map[string]token.SigningMethod{
		"HS256":   token.MethodHS256,
		"":        token.MethodHS256,
		"EdDSA":   token.MethodEd25519,
		"ed25519": token.MethodEd25519,
	} {
		got, err := signingMethod(alg)
		require.NoError(t, err, alg)
		assert.Equal(t, want, got, alg)
	}
	_, err := signingMethod("none")
	assert.Error(t, err)
}

type countingPurger struct{ calls atomic.Int32 }

func (p *countingPurger) PurgeExpired(context.Context) (int, error) {
	p.calls.Add(1)
	return 1, nil
}

func TestRunJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &countingPurger{}
	done := make(chan error, 1)
	go func() { done <- runJanitor(ctx, p, 5*time.Millisecond, logging.Discard()) }()

	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRootCmd_Commands(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--help"})
	require.NoError(t, cmd.Execute())
	for _, sub := range []string{"serve", "migrate", "identity"} {
		assert.Contains(t, out.String(), sub)
	}
}

func TestMigrateCmd_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--env-file", "", "migrate", "version"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
