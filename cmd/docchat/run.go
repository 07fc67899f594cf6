package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docchat/internal/config"
	"github.com/fyrsmithlabs/docchat/internal/conversation"
	"github.com/fyrsmithlabs/docchat/internal/documents"
	"github.com/fyrsmithlabs/docchat/internal/events"
	"github.com/fyrsmithlabs/docchat/internal/history"
	httpserver "github.com/fyrsmithlabs/docchat/internal/http"
	"github.com/fyrsmithlabs/docchat/internal/index"
	"github.com/fyrsmithlabs/docchat/internal/logging"
	"github.com/fyrsmithlabs/docchat/internal/registry"
	"github.com/fyrsmithlabs/docchat/internal/telemetry"
)

// run starts the server and blocks until ctx is cancelled.
//
// Startup order:
//  1. Logger and telemetry
//  2. Shared clients (Redis, vector store, NATS)
//  3. Registry, history, gateway, coordinator and chat services
//  4. HTTP server
//
// Clients are closed in reverse order on the way out.
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(context.Background(), "telemetry shutdown failed", zap.Error(err))
		}
	}()

	if derr := tel.Degraded(); derr != nil {
		logger.Warn(ctx, "telemetry degraded", zap.Error(derr))
	}

	logger.Info(ctx, "starting docchat",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("registry", cfg.Registry.Backend),
	)

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(logger)

	svc, err := initServices(cfg, deps, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	svc.Meter = tel.Meter("docchat.http")

	srv, err := httpserver.NewServer(svc, logger, &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		QueryRate:      cfg.Server.QueryRate,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		UploadDir:      cfg.Upload.Dir,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info(ctx, "server shutdown complete")
	return nil
}

// initLogger builds the process logger. Records are also sent to
// otelProvider when it is non-nil.
func initLogger(cfg *config.Config, otelProvider log.LoggerProvider) (*logging.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	lcfg.Level = level
	lcfg.Format = cfg.Log.Format
	lcfg.Output.OTEL = otelProvider != nil
	if cfg.Telemetry.ServiceName != "" {
		lcfg.Fields["service"] = cfg.Telemetry.ServiceName
	}
	return logging.NewLogger(lcfg, otelProvider)
}

type closer struct {
	name  string
	close func() error
}

// dependencies holds the shared, process-lifetime clients.
type dependencies struct {
	llm       *openai.LLM
	redis     *redis.Client
	registry  *registry.Registry
	gateway   *index.Gateway
	publisher events.Publisher

	closers []closer
}

func (d *dependencies) push(name string, fn func() error) {
	d.closers = append(d.closers, closer{name, fn})
}

// Close releases resources in reverse acquisition order.
func (d *dependencies) Close(logger *logging.Logger) {
	ctx := context.Background()
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(); err != nil {
			logger.Warn(ctx, "close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	d.closers = nil
}

// initDependencies opens the shared clients. On failure every client opened
// so far is closed before the error is returned.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *dependencies, err error) {
	d := &dependencies{publisher: events.Nop{}}
	defer func() {
		if err != nil {
			d.Close(logger)
		}
	}()

	opts := []openai.Option{
		openai.WithToken(cfg.OpenAI.APIKey.Value()),
		openai.WithModel(cfg.OpenAI.Model),
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	d.llm, err = openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(d.llm)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	d.redis = redis.NewClient(redisOpts)
	d.push("redis", d.redis.Close)
	if err := d.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	var store registry.Store
	switch cfg.Registry.Backend {
	case config.BackendBadger:
		bs, err := registry.NewBadgerStore(registry.BadgerOptions{
			Dir:      cfg.Registry.BadgerDir,
			Key:      cfg.Registry.Key,
			InMemory: cfg.Registry.BadgerDir == "",
			Logger:   logger.Underlying(),
		})
		if err != nil {
			return nil, err
		}
		store = bs
	default:
		rs, err := registry.NewRedisStore(d.redis, cfg.Registry.Key)
		if err != nil {
			return nil, err
		}
		store = rs
	}
	d.registry, err = registry.New(store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	d.push("registry", d.registry.Close)

	var provider index.Provider
	switch cfg.VectorStore.Provider {
	case config.ProviderChromem:
		provider, err = index.NewChromemProvider(index.ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, embedder, logger)
	default:
		qcfg := index.DefaultQdrantConfig()
		qcfg.Host = cfg.Qdrant.Host
		qcfg.Port = cfg.Qdrant.Port
		qcfg.UseTLS = cfg.Qdrant.UseTLS
		qcfg.APIKey = cfg.Qdrant.APIKey.Value()
		provider, err = index.NewQdrantProvider(ctx, qcfg, embedder, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("vector store %s: %w", cfg.VectorStore.Provider, err)
	}

	d.gateway, err = index.NewGateway(provider, index.Options{
		LLM:         d.llm,
		TopK:        cfg.Chat.TopK,
		Temperature: cfg.Chat.Temperature,
	}, logger)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	d.push("vectorstore", d.gateway.Close)

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("docchat"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		d.push("nats", func() error { return nc.Drain() })

		pub, err := events.NewNATSPublisher(nc, cfg.NATS.Subject, logger)
		if err != nil {
			return nil, err
		}
		d.publisher = pub
		logger.Info(ctx, "publishing lifecycle events", zap.String("url", cfg.NATS.URL))
	}

	return d, nil
}

// initServices builds the request-facing services on top of deps. Document
// metrics are registered with reg.
func initServices(cfg *config.Config, deps *dependencies, reg prometheus.Registerer, logger *logging.Logger) (httpserver.Services, error) {
	coord, err := documents.NewCoordinator(deps.gateway, deps.registry, logger,
		documents.WithPublisher(deps.publisher),
		documents.WithMetrics(documents.NewMetrics(reg)),
	)
	if err != nil {
		return httpserver.Services{}, err
	}

	hist, err := history.NewStore(deps.redis, cfg.Chat.KeyPrefix, cfg.Chat.TTL.Duration())
	if err != nil {
		return httpserver.Services{}, err
	}
	chat, err := conversation.NewService(deps.llm, hist, conversation.Config{
		Window:        cfg.Chat.Window,
		Temperature:   cfg.Chat.Temperature,
		MaxIterations: cfg.Chat.MaxIterations,
	}, logger)
	if err != nil {
		return httpserver.Services{}, err
	}

	return httpserver.Services{
		Gateway:   deps.gateway,
		Documents: coord,
		Chat:      chat,
		Metrics:   promhttp.Handler(),
	}, nil
}
