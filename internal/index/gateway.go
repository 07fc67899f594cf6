package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docchat/internal/logging"
)

var tracer = otel.Tracer("docchat.index")

const (
	defaultTopK         = 4
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Options configures a Gateway.
type Options struct {
	// LLM answers retrieval questions. Required.
	LLM llms.Model
	// TopK is the number of chunks retrieved per question. Default 4.
	TopK int
	// Temperature is passed to the LLM when answering.
	Temperature float64
	// ChunkSize and ChunkOverlap configure the text splitter, in runes.
	ChunkSize    int
	ChunkOverlap int
}

// Gateway owns the provider and the active index handle.
type Gateway struct {
	provider Provider
	opts     Options
	splitter textsplitter.TextSplitter
	logger   *logging.Logger

	mu     sync.RWMutex
	active *Handle
}

// NewGateway creates a gateway over provider with no active index.
func NewGateway(provider Provider, opts Options, logger *logging.Logger) (*Gateway, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	if opts.LLM == nil {
		return nil, errors.New("llm is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = min(defaultChunkOverlap, opts.ChunkSize/5)
	}

	return &Gateway{
		provider: provider,
		opts:     opts,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(opts.ChunkSize),
			textsplitter.WithChunkOverlap(opts.ChunkOverlap),
		),
		logger: logger.Named("index"),
	}, nil
}

// Provider returns the name of the backing provider.
func (g *Gateway) Provider() string { return g.provider.Name() }

// CreateNamed provisions a new index called name.
func (g *Gateway) CreateNamed(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "Gateway.CreateNamed")
	defer span.End()
	span.SetAttributes(attribute.String("index", name))

	if err := ValidateName(name); err != nil {
		return fmt.Errorf("%w: %q", err, name)
	}
	if err := g.provider.CreateIndex(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	g.logger.Info(ctx, "index created",
		zap.String("index", name),
		zap.String("provider", g.provider.Name()),
	)
	return nil
}

// Activate opens the index called name and makes it the active one,
// replacing any previous handle. The new handle is returned.
func (g *Gateway) Activate(ctx context.Context, name string) (*Handle, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Activate")
	defer span.End()
	span.SetAttributes(attribute.String("index", name))

	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}
	idx, err := g.provider.OpenIndex(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	h := &Handle{
		index:       idx,
		provider:    g.provider.Name(),
		llm:         g.opts.LLM,
		topK:        g.opts.TopK,
		temperature: g.opts.Temperature,
	}

	g.mu.Lock()
	previous := g.active
	g.active = h
	g.mu.Unlock()

	fields := []zap.Field{zap.String("index", name)}
	if previous != nil {
		fields = append(fields, zap.String("previous", previous.Name()))
	}
	g.logger.Info(ctx, "index activated", fields...)
	return h, nil
}

// Current returns the active handle, or nil when no index is active.
func (g *Gateway) Current() *Handle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// Insert splits doc into chunks, embeds them into h and returns the
// document's external id.
func (g *Gateway) Insert(ctx context.Context, h *Handle, doc Document) (string, error) {
	if h == nil {
		return "", ErrNoActiveIndex
	}

	ctx, span := tracer.Start(ctx, "Gateway.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("index", h.Name()))

	if strings.TrimSpace(doc.Content) == "" {
		return "", ErrEmptyDocument
	}
	texts, err := g.splitter.SplitText(doc.Content)
	if err != nil {
		return "", fmt.Errorf("splitting document: %w", err)
	}

	documentID := uuid.NewString()
	chunks := make([]schema.Document, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		meta := make(map[string]any, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta[MetadataDocumentID] = documentID
		meta[MetadataChunk] = i
		chunks = append(chunks, schema.Document{PageContent: text, Metadata: meta})
	}
	if len(chunks) == 0 {
		return "", ErrEmptyDocument
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	if err := h.index.Insert(ctx, documentID, chunks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	g.logger.Debug(ctx, "document embedded",
		zap.String("index", h.Name()),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
	)
	return documentID, nil
}

// Query answers text from the documents in h.
func (g *Gateway) Query(ctx context.Context, h *Handle, text string) (string, error) {
	if h == nil {
		return "", ErrNoActiveIndex
	}
	return h.Answer(ctx, text)
}

// Delete removes one document from h.
func (g *Gateway) Delete(ctx context.Context, h *Handle, documentID string) error {
	if h == nil {
		return ErrNoActiveIndex
	}
	ctx, span := tracer.Start(ctx, "Gateway.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", h.Name()),
		attribute.String("document_id", documentID),
	)

	if err := h.index.Delete(ctx, documentID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// DeleteAll wipes every document from h.
func (g *Gateway) DeleteAll(ctx context.Context, h *Handle) error {
	if h == nil {
		return ErrNoActiveIndex
	}
	ctx, span := tracer.Start(ctx, "Gateway.DeleteAll")
	defer span.End()
	span.SetAttributes(attribute.String("index", h.Name()))

	if err := h.index.DeleteAll(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	g.logger.Info(ctx, "index wiped", zap.String("index", h.Name()))
	return nil
}

// Close closes the provider.
func (g *Gateway) Close() error {
	return g.provider.Close()
}
