// Package http serves the docchat API.
package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/docchat/internal/conversation"
	"github.com/fyrsmithlabs/docchat/internal/documents"
	"github.com/fyrsmithlabs/docchat/internal/index"
	"github.com/fyrsmithlabs/docchat/internal/logging"
)

const defaultMaxUploadBytes = 32 << 20

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// QueryRate limits /query per client IP in requests per second. Zero
	// disables the limiter.
	QueryRate float64
	// MaxUploadBytes caps the multipart body of /uploadfile.
	MaxUploadBytes int64
	// UploadDir stages uploaded files while they are ingested.
	UploadDir string
}

// Services are the components behind the routes.
type Services struct {
	Gateway   *index.Gateway
	Documents *documents.Coordinator
	Chat      *conversation.Service
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Meter records request metrics when set.
	Meter metric.Meter
}

// Server provides the docchat HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	services Services
	logger   *logging.Logger
	config   *Config
}

// NewServer creates a new HTTP server.
func NewServer(svc Services, logger *logging.Logger, cfg *Config) (*Server, error) {
	if svc.Gateway == nil || svc.Documents == nil || svc.Chat == nil {
		return nil, errors.New("gateway, documents and chat services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "0.0.0.0", Port: 8000}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		services: svc,
		logger:   logger.Named("http"),
		config:   cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch,
			http.MethodPost, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"*"},
	}))
	e.Use(s.requestLogger)
	if svc.Meter != nil {
		e.Use(NewHTTPMetrics(svc.Meter, s.logger).MetricsMiddleware())
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	if s.services.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.services.Metrics))
	}

	s.echo.GET("/create_index/:name", s.handleCreateIndex)
	s.echo.GET("/init_index/:name", s.handleInitIndex)
	s.echo.GET("/read_index", s.handleReadIndex)
	s.echo.GET("/list_indices", s.handleListIndices)
	s.echo.DELETE("/delete_index/:doc_id", s.handleDeleteDocument)
	s.echo.DELETE("/delete_all_indices", s.handleDeleteAll)
	s.echo.POST("/uploadfile", s.handleUpload)
	s.echo.GET("/get_chat/:chat_id", s.handleGetChat)

	var queryMiddleware []echo.MiddlewareFunc
	if s.config.QueryRate > 0 {
		queryMiddleware = append(queryMiddleware, middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(s.config.QueryRate),
				Burst:     int(math.Max(1, math.Ceil(s.config.QueryRate))),
				ExpiresIn: 5 * time.Minute,
			}),
		))
	}
	s.echo.GET("/query/:chat_id", s.handleQuery, queryMiddleware...)
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// handleError answers echo.HTTPErrors as usual and every other error with
// 500 and the error text.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		s.echo.DefaultHTTPErrorHandler(err, c)
		return
	}

	s.logger.Error(c.Request().Context(), "request failed",
		zap.String("uri", c.Request().RequestURI),
		zap.Error(err),
	)
	if jsonErr := c.JSON(http.StatusInternalServerError, ErrorResponse{Message: err.Error()}); jsonErr != nil {
		s.logger.Warn(c.Request().Context(), "writing error response failed", zap.Error(jsonErr))
	}
}

// Echo exposes the underlying router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
