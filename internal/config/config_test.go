package config_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Healer-AI/p8fs/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, "p8fs", cfg.Storage.Bucket)
	assert.False(t, cfg.Storage.UseSSL)
	assert.Equal(t, "streaming", cfg.Watcher.Strategy)
	assert.Equal(t, time.Minute, cfg.Watcher.PollInterval)
	assert.Equal(t, "@hourly", cfg.Watcher.RescanSchedule)
	assert.Equal(t, "small", cfg.Worker.Tier)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, ":8080", cfg.API.Listen)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("P8FS_NATS_URL", "nats://nats.prod:4222")
	t.Setenv("P8FS_WORKER_TIER", "large")
	t.Setenv("P8FS_REDIS_DB", "3")
	t.Setenv("P8FS_STORAGE_USE_SSL", "true")
	t.Setenv("P8FS_WATCHER_POLL_INTERVAL", "30s")
	t.Setenv("P8FS_EMBEDDING_DIMENSION", "768")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://nats.prod:4222", cfg.NATS.URL)
	assert.Equal(t, "large", cfg.Worker.Tier)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Storage.UseSSL)
	assert.Equal(t, 30*time.Second, cfg.Watcher.PollInterval)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
}

func TestLoad_VerificationURIDerivedFromIssuer(t *testing.T) {
	t.Setenv("P8FS_AUTH_ISSUER", "https://auth.example.com/")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/device", cfg.Auth.VerificationURI)

	t.Setenv("P8FS_AUTH_VERIFICATION_URI", "https://verify.example.com/enter-code")
	cfg, err = config.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://verify.example.com/enter-code", cfg.Auth.VerificationURI)
}

func TestLoad_ConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "p8fs.yaml")
	yaml := "nats:\n  url: nats://from-file:4222\nworker:\n  tier: medium\n"
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o600))

	t.Setenv("P8FS_CONFIG_FILE", file)
	t.Setenv("P8FS_WORKER_TIER", "large")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://from-file:4222", cfg.NATS.URL)
	assert.Equal(t, "large", cfg.Worker.Tier, "environment beats the config file")
}

func TestLoad_ConfigFileMissing(t *testing.T) {
	t.Setenv("P8FS_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_VaultOverlay(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/data/p8fs", r.URL.Path)
		assert.Equal(t, "test-root", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"data":{
			"POSTGRES_DSN":"postgres://vault-user:vault-pass@db:5432/p8fs",
			"STORAGE_ACCESS_KEY":"vault-access",
			"REDIS_PASSWORD":"vault-redis"
		},"metadata":{}}}`))
	}))
	defer ts.Close()

	t.Setenv("VAULT_ADDR", ts.URL)
	t.Setenv("VAULT_TOKEN", "test-root")
	// Vault wins over the environment for the keys it carries.
	t.Setenv("P8FS_POSTGRES_DSN", "postgres://env@localhost/p8fs")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://vault-user:vault-pass@db:5432/p8fs", cfg.Postgres.DSN)
	assert.Equal(t, "vault-access", cfg.Storage.AccessKey)
	assert.Equal(t, "vault-redis", cfg.Redis.Password)
	assert.Equal(t, "minioadmin", cfg.Storage.SecretKey, "untouched keys keep their defaults")
}

func TestLoad_VaultUnreachable(t *testing.T) {
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:1")
	t.Setenv("VAULT_MAX_RETRIES", "0")

	_, err := config.Load()
	require.Error(t, err)
}
