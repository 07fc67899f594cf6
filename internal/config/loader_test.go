package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and sets the required credentials.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QDRANT_API_KEY", "qdrant-test")
	return home
}

func writeConfig(t *testing.T, home, content string, perm os.FileMode) string {
	t.Helper()
	dir := filepath.Join(home, ".config", "docchat")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, ProviderQdrant, cfg.VectorStore.Provider)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, BackendRedis, cfg.Registry.Backend)
	assert.Equal(t, "documents", cfg.Registry.Key)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, 5, cfg.Chat.Window)
	assert.Equal(t, 24*time.Hour, cfg.Chat.TTL.Duration())
	assert.Equal(t, "message_store:", cfg.Chat.KeyPrefix)
	assert.Equal(t, "gpt-3.5-turbo", cfg.OpenAI.Model)
	assert.Equal(t, "text-embedding-ada-002", cfg.OpenAI.EmbeddingModel)
	assert.Zero(t, cfg.Chat.Temperature)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey.Value())
	assert.Equal(t, filepath.Join(os.TempDir(), "docchat"), cfg.Upload.Dir)
}

func TestLoadWithFile_YAMLAndEnvOverride(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, `server:
  port: 9001
  shutdown_timeout: 3s
chat:
  window: 7
  ttl: 1h
registry:
  backend: badger
  key: docs
`, 0o600)

	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("CHAT_KEY_PREFIX", "chat:")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env overrides yaml")
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, 7, cfg.Chat.Window)
	assert.Equal(t, time.Hour, cfg.Chat.TTL.Duration())
	assert.Equal(t, "chat:", cfg.Chat.KeyPrefix)
	assert.Equal(t, BackendBadger, cfg.Registry.Backend)
	assert.Equal(t, "docs", cfg.Registry.Key)
}

func TestLoadWithFile_MissingCredentials(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{
			name:    "openai key",
			env:     map[string]string{"OPENAI_API_KEY": ""},
			wantMsg: "OPENAI_API_KEY",
		},
		{
			name:    "qdrant key",
			env:     map[string]string{"QDRANT_API_KEY": ""},
			wantMsg: "QDRANT_API_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupTestHome(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadWithFile("")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingCredential)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadWithFile_ChromemNeedsNoVectorKey(t *testing.T) {
	setupTestHome(t)
	t.Setenv("QDRANT_API_KEY", "")
	t.Setenv("VECTORSTORE_PROVIDER", "chromem")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, ProviderChromem, cfg.VectorStore.Provider)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, "server:\n  port: 9001\n", 0o644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OPENAI_API_KEY", "openai.api_key"},
		{"SERVER_MAX_UPLOAD_BYTES", "server.max_upload_bytes"},
		{"REDIS_URL", "redis.url"},
		{"PATH", ""},
		{"HOME_DIR", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}
