package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/docchat/internal/config"
	"github.com/fyrsmithlabs/docchat/internal/logging"
)

// isolateEnv points HOME at a temp dir so no real config file is read.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("QDRANT_API_KEY", "")
	t.Setenv("VECTORSTORE_PROVIDER", "")
	t.Setenv("REGISTRY_BACKEND", "")
	t.Setenv("NATS_URL", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Commit:     unknown")
}

func TestCheckConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
	t.Setenv("VECTORSTORE_PROVIDER", "chromem")
	t.Setenv("REGISTRY_BACKEND", "badger")

	out, err := execute(t, "check-config")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK")
	assert.Contains(t, out, "vectorstore:  chromem")
	assert.Contains(t, out, "registry:     badger")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "sk-test-key")
}

func TestCheckConfig_MissingKey(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "check-config")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrMissingCredential))
}

func TestServe_InvalidConfig(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.ErrorIs(t, err, config.ErrMissingCredential)
}

func TestDependencies_CloseInReverseOrder(t *testing.T) {
	tl := logging.NewTestLogger()
	var order []string
	deps := &dependencies{}
	deps.push("first", func() error { order = append(order, "first"); return nil })
	deps.push("second", func() error { order = append(order, "second"); return errors.New("stuck") })
	deps.push("third", func() error { order = append(order, "third"); return nil })

	deps.Close(tl.Logger)
	deps.Close(tl.Logger)

	assert.Equal(t, []string{"third", "second", "first"}, order)
	tl.AssertLogged(t, zapcore.WarnLevel, "close failed")
	tl.AssertField(t, "close failed", "resource", "second")
}

func TestInitDependencies_Embedded(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := &config.Config{}
	cfg.OpenAI.APIKey = config.Secret("sk-test")
	cfg.OpenAI.Model = "gpt-3.5-turbo"
	cfg.OpenAI.EmbeddingModel = "text-embedding-ada-002"
	cfg.VectorStore.Provider = config.ProviderChromem
	cfg.Registry.Backend = config.BackendBadger
	cfg.Registry.Key = "docs"
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Chat.Window = 5
	cfg.Chat.MaxIterations = 3
	cfg.Chat.TopK = 4
	cfg.Chat.KeyPrefix = "message_store:"

	tl := logging.NewTestLogger()
	ctx := context.Background()

	deps, err := initDependencies(ctx, cfg, tl.Logger)
	require.NoError(t, err)
	defer deps.Close(tl.Logger)

	assert.Equal(t, "chromem", deps.gateway.Provider())
	assert.Nil(t, deps.gateway.Current())

	svc, err := initServices(cfg, deps, prometheus.NewRegistry(), tl.Logger)
	require.NoError(t, err)
	assert.NotNil(t, svc.Documents)
	assert.NotNil(t, svc.Chat)
	assert.NotNil(t, svc.Metrics)

	docs, err := svc.Documents.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestInitDependencies_FailureReturnsError(t *testing.T) {
	stopped := miniredis.RunT(t)
	stoppedURL := "redis://" + stopped.Addr()
	stopped.Close()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"bad redis url", func(c *config.Config) { c.Redis.URL = "mysql://nope" }, "redis url"},
		{"redis unreachable", func(c *config.Config) { c.Redis.URL = stoppedURL }, "connecting to redis"},
		{"badger needs a key", func(c *config.Config) {
			c.Registry.Backend = config.BackendBadger
			c.Registry.Key = ""
		}, "collection key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			cfg := &config.Config{}
			cfg.OpenAI.APIKey = config.Secret("sk-test")
			cfg.VectorStore.Provider = config.ProviderChromem
			cfg.Registry.Backend = config.BackendRedis
			cfg.Registry.Key = "docs"
			cfg.Redis.URL = "redis://" + mr.Addr()
			tt.mutate(cfg)

			tl := logging.NewTestLogger()
			var (
				deps *dependencies
				err  error
			)
			require.NotPanics(t, func() {
				deps, err = initDependencies(context.Background(), cfg, tl.Logger)
			})
			require.Error(t, err)
			assert.Nil(t, deps)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLogger(t *testing.T) {
	cfg := &config.Config{}
	cfg.Log.Level = "debug"
	cfg.Log.Format = "console"

	logger, err := initLogger(cfg, nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.DebugLevel))

	lp := sdklog.NewLoggerProvider()
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })
	logger, err = initLogger(cfg, lp)
	require.NoError(t, err)
	require.NotNil(t, logger)

	cfg.Log.Level = "loud"
	_, err = initLogger(cfg, nil)
	assert.Error(t, err)
}
