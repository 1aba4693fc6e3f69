// AngelaMos | 2026
// config_test.go

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHMACSecret = "0123456789abcdef0123456789abcdef"

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv("STORE_DRIVER", StoreDriverMemory)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TOKEN_ALGORITHM", "hs256")
	t.Setenv("TOKEN_HMAC_SECRET", testHMACSecret)
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("REFRESH_TOKEN_TTL", "72h")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, AlgorithmHS256, cfg.Token.Algorithm)
	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 72*time.Hour, cfg.Credential.RefreshTTL)
	assert.Equal(t, 15*time.Minute, cfg.Credential.EmailVerifyTTL)
	assert.Equal(t, 32, cfg.Credential.SecretBytes)
	assert.Equal(t, "/v1/auth/session", cfg.Cookie.Path)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	setMinimalEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("credential:\n  reset_ttl: 45m\nlog:\n  format: text\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Minute, cfg.Credential.ResetTTL)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_RedisOptionalOutsideProduction(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("REDIS_URL", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "short hmac secret",
			env:  map[string]string{"TOKEN_HMAC_SECRET": "short"},
		},
		{
			name: "unknown algorithm",
			env:  map[string]string{"TOKEN_ALGORITHM": "none"},
		},
		{
			name: "postgres without url",
			env: map[string]string{
				"STORE_DRIVER": StoreDriverPostgres,
				"DATABASE_URL": "",
			},
		},
		{
			name: "memory store in production",
			env:  map[string]string{"ENVIRONMENT": "production"},
		},
		{
			name: "production without redis",
			env: map[string]string{
				"ENVIRONMENT":   "production",
				"STORE_DRIVER":  StoreDriverPostgres,
				"DATABASE_URL":  "postgres://localhost/credentials",
				"COOKIE_SECURE": "true",
				"REDIS_URL":     "",
			},
		},
		{
			name: "non-positive refresh ttl",
			env:  map[string]string{"REFRESH_TOKEN_TTL": "0s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			require.Error(t, err)
		})
	}
}
