package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docchat/internal/history"
	"github.com/fyrsmithlabs/docchat/internal/index"
	"github.com/fyrsmithlabs/docchat/internal/logging"
)

var tracer = otel.Tracer("docchat.conversation")

// Config tunes the agent.
type Config struct {
	// Window is the number of past exchanges loaded into the prompt.
	Window int
	// Temperature is the sampling temperature for agent and tool calls.
	Temperature float64
	// MaxIterations bounds the agent's reasoning steps.
	MaxIterations int
}

// Service runs conversational queries.
type Service struct {
	llm     llms.Model
	history *history.Store
	cfg     Config
	logger  *logging.Logger
}

// NewService creates a query service.
func NewService(llm llms.Model, store *history.Store, cfg Config, logger *logging.Logger) (*Service, error) {
	if llm == nil {
		return nil, errors.New("llm is required")
	}
	if store == nil {
		return nil, errors.New("history store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Window <= 0 {
		cfg.Window = 5
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	return &Service{llm: llm, history: store, cfg: cfg, logger: logger.Named("conversation")}, nil
}

// Query answers text in the chat chatID using the index behind h. A nil
// handle yields OutcomeEmpty without touching the model or the history.
func (s *Service) Query(ctx context.Context, h *index.Handle, text, chatID string) (Answer, error) {
	if h == nil {
		return Answer{Outcome: OutcomeEmpty}, nil
	}

	ctx, span := tracer.Start(ctx, "Service.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat_id", chatID),
		attribute.String("index", h.Name()),
	)

	mem := newWindowMemory(s.history.For(chatID), s.cfg.Window)
	agent := newReturnDirectAgent(
		agents.NewConversationalAgent(s.llm, []tools.Tool{indexTool{handle: h}}),
		indexToolName,
	)
	executor := agents.NewExecutor(agent,
		agents.WithMemory(mem),
		agents.WithMaxIterations(s.cfg.MaxIterations),
	)

	out, err := chains.Run(ctx, executor, text, chains.WithTemperature(s.cfg.Temperature))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Answer{}, fmt.Errorf("query chat %s: %w", chatID, err)
	}

	s.logger.Debug(ctx, "query answered",
		zap.String("chat_id", chatID),
		zap.String("index", h.Name()),
	)
	return Answer{Outcome: OutcomeAnswered, Text: strings.TrimSpace(out)}, nil
}

// History returns the stored turns of chatID. Like Query, it reports
// OutcomeEmpty when h is nil.
func (s *Service) History(ctx context.Context, h *index.Handle, chatID string) (Transcript, error) {
	if h == nil {
		return Transcript{Outcome: OutcomeEmpty}, nil
	}
	turns, err := s.history.For(chatID).Raw(ctx)
	if err != nil {
		return Transcript{}, err
	}
	return Transcript{Outcome: OutcomeAnswered, Turns: turns}, nil
}
