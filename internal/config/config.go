// Package config provides configuration loading for docchat.
//
// Configuration is read from an optional YAML file and overridden by
// environment variables. Credentials are held as Secret values so they never
// reach logs or serialized output in clear text.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrMissingCredential is returned by Validate when a required API key is unset.
var ErrMissingCredential = errors.New("missing required credential")

// Vector store providers.
const (
	ProviderQdrant  = "qdrant"
	ProviderChromem = "chromem"
)

// Registry backends.
const (
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Config holds the complete docchat configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Upload      UploadConfig      `koanf:"upload"`
	OpenAI      OpenAIConfig      `koanf:"openai"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Chromem     ChromemConfig     `koanf:"chromem"`
	Registry    RegistryConfig    `koanf:"registry"`
	Redis       RedisConfig       `koanf:"redis"`
	Chat        ChatConfig        `koanf:"chat"`
	NATS        NATSConfig        `koanf:"nats"`
	Log         LogConfig         `koanf:"log"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// QueryRate limits /query requests per client per second. Zero disables it.
	QueryRate      float64 `koanf:"query_rate"`
	MaxUploadBytes int64   `koanf:"max_upload_bytes"`
}

// UploadConfig controls where uploaded files are staged before ingestion.
type UploadConfig struct {
	Dir string `koanf:"dir"`
}

// OpenAIConfig configures the generation and embedding provider.
type OpenAIConfig struct {
	APIKey         Secret `koanf:"api_key"`
	Model          string `koanf:"model"`
	EmbeddingModel string `koanf:"embedding_model"`
	BaseURL        string `koanf:"base_url"`
}

// VectorStoreConfig selects the vector index provider.
type VectorStoreConfig struct {
	Provider string `koanf:"provider"`
}

// QdrantConfig configures the Qdrant gRPC connection.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// ChromemConfig configures the embedded chromem vector store.
// An empty Path keeps every index in memory.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// RegistryConfig selects the document registry backend.
type RegistryConfig struct {
	Backend   string `koanf:"backend"`
	Key       string `koanf:"key"`
	BadgerDir string `koanf:"badger_dir"`
}

// RedisConfig holds the history and registry store connection.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// ChatConfig tunes the conversational query service.
type ChatConfig struct {
	Window        int      `koanf:"window"`
	TTL           Duration `koanf:"ttl"`
	KeyPrefix     string   `koanf:"key_prefix"`
	Temperature   float64  `koanf:"temperature"`
	MaxIterations int      `koanf:"max_iterations"`
	TopK          int      `koanf:"top_k"`
}

// NATSConfig enables lifecycle event publishing when URL is set.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// LogConfig holds the logging knobs exposed through the environment.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
	ServiceName    string   `koanf:"service_name"`
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.QueryRate < 0 {
		return fmt.Errorf("server.query_rate must be >= 0, got %v", c.Server.QueryRate)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}

	if !c.OpenAI.APIKey.IsSet() {
		return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingCredential)
	}

	switch c.VectorStore.Provider {
	case ProviderQdrant:
		if !c.Qdrant.APIKey.IsSet() {
			return fmt.Errorf("%w: QDRANT_API_KEY", ErrMissingCredential)
		}
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", c.Qdrant.Port)
		}
	case ProviderChromem:
	default:
		return fmt.Errorf("unknown vectorstore provider %q (want %s or %s)",
			c.VectorStore.Provider, ProviderQdrant, ProviderChromem)
	}

	switch c.Registry.Backend {
	case BackendRedis, BackendBadger:
	default:
		return fmt.Errorf("unknown registry backend %q (want %s or %s)",
			c.Registry.Backend, BackendRedis, BackendBadger)
	}
	if strings.TrimSpace(c.Registry.Key) == "" {
		return fmt.Errorf("registry.key cannot be empty")
	}

	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("redis.url must use redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Chat.Window < 1 {
		return fmt.Errorf("chat.window must be >= 1, got %d", c.Chat.Window)
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("chat.temperature must be between 0 and 2, got %v", c.Chat.Temperature)
	}
	if c.Chat.MaxIterations < 1 {
		return fmt.Errorf("chat.max_iterations must be >= 1, got %d", c.Chat.MaxIterations)
	}
	if c.Chat.TopK < 1 {
		return fmt.Errorf("chat.top_k must be >= 1, got %d", c.Chat.TopK)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 32 << 20
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = filepath.Join(os.TempDir(), "docchat")
	}

	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-3.5-turbo"
	}
	if cfg.OpenAI.EmbeddingModel == "" {
		cfg.OpenAI.EmbeddingModel = "text-embedding-ada-002"
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = ProviderQdrant
	}
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}

	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = BackendRedis
	}
	if cfg.Registry.Key == "" {
		cfg.Registry.Key = "documents"
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379"
	}

	if cfg.Chat.Window == 0 {
		cfg.Chat.Window = 5
	}
	if cfg.Chat.TTL == 0 {
		cfg.Chat.TTL = Duration(24 * time.Hour)
	}
	if cfg.Chat.KeyPrefix == "" {
		cfg.Chat.KeyPrefix = "message_store:"
	}
	if cfg.Chat.MaxIterations == 0 {
		cfg.Chat.MaxIterations = 3
	}
	if cfg.Chat.TopK == 0 {
		cfg.Chat.TopK = 4
	}

	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "docchat.documents"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "docchat"
	}
}
