// Package documents keeps the vector index and the document registry in
// step.
//
// Every operation touches the index first and the registry second. There is
// no compensation: a registry failure after a successful index write leaves
// the registry under-reporting (insert) or over-reporting (delete, delete
// all). Such failures are logged and counted in
// docchat_documents_registry_drift_total.
//
// Once an operation has started it ignores cancellation of the caller's
// context, so a client hanging up between the two writes does not split the
// stores. Context values and the trace span are kept.
package documents

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docchat/internal/events"
	"github.com/fyrsmithlabs/docchat/internal/index"
	"github.com/fyrsmithlabs/docchat/internal/logging"
	"github.com/fyrsmithlabs/docchat/internal/naming"
	"github.com/fyrsmithlabs/docchat/internal/registry"
)

var tracer = otel.Tracer("docchat.documents")

const (
	opInsert    = "insert"
	opDelete    = "delete"
	opDeleteAll = "delete_all"
)

// Messages returned by Delete and DeleteAll.
const (
	deletedFormat  = "Document %s deleted"
	AllDeletedText = "All documents deleted"
)

// Coordinator runs the multi-step document operations.
type Coordinator struct {
	gateway   *index.Gateway
	registry  *registry.Registry
	publisher events.Publisher
	metrics   *Metrics
	logger    *logging.Logger

	suffixLength int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher sets the lifecycle event publisher. Default events.Nop.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithMetrics sets the counters. Default: unregistered counters.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithSuffixLength sets the random suffix length of display names.
func WithSuffixLength(n int) Option {
	return func(c *Coordinator) { c.suffixLength = n }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(gw *index.Gateway, reg *registry.Registry, logger *logging.Logger, opts ...Option) (*Coordinator, error) {
	if gw == nil {
		return nil, errors.New("index gateway is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	c := &Coordinator{
		gateway:      gw,
		registry:     reg,
		publisher:    events.Nop{},
		logger:       logger.Named("documents"),
		suffixLength: naming.DefaultSuffixLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.suffixLength <= 0 {
		return nil, fmt.Errorf("%w: %d", naming.ErrInvalidSuffixLength, c.suffixLength)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.publisher == nil {
		c.publisher = events.Nop{}
	}
	return c, nil
}

// Insert embeds the file at path into h and records it in the registry
// under a generated display name. Without an active index it returns
// index.ErrNoActiveIndex before reading the file.
func (c *Coordinator) Insert(ctx context.Context, h *index.Handle, path string) (rec registry.Record, err error) {
	defer func() { c.metrics.observe(opInsert, err) }()
	if h == nil {
		return registry.Record{}, index.ErrNoActiveIndex
	}
	// the steps run to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	ctx, span := tracer.Start(ctx, "Coordinator.Insert")
	defer span.End()
	defer recordSpanError(span, &err)
	span.SetAttributes(attribute.String("index", h.Name()))

	content, err := Load(ctx, path)
	if err != nil {
		return registry.Record{}, err
	}

	externalID, err := c.gateway.Insert(ctx, h, index.Document{
		Content:  content,
		Metadata: map[string]any{index.MetadataSource: filepath.Base(path)},
	})
	if err != nil {
		return registry.Record{}, fmt.Errorf("insert into index %s: %w", h.Name(), err)
	}

	displayName, err := naming.Generate(path, c.suffixLength)
	if err != nil {
		c.drift(ctx, opInsert, externalID, err)
		return registry.Record{}, err
	}
	if err := c.registry.Put(ctx, displayName, externalID); err != nil {
		c.drift(ctx, opInsert, externalID, err)
		return registry.Record{}, fmt.Errorf("register %s: %w", displayName, err)
	}

	rec = registry.Record{DisplayName: displayName, ExternalID: externalID}
	span.SetAttributes(attribute.String("document_id", externalID))
	c.logger.Info(ctx, "document inserted",
		zap.String("index", h.Name()),
		zap.String("filename", displayName),
		zap.String("document_id", externalID),
	)
	c.publish(ctx, events.Event{
		Type:        events.DocumentInserted,
		Index:       h.Name(),
		DisplayName: displayName,
		ExternalID:  externalID,
	})
	return rec, nil
}

// Delete removes the document id from h and then from the registry. An id
// that was never inserted is not an error.
func (c *Coordinator) Delete(ctx context.Context, h *index.Handle, id string) (msg string, err error) {
	defer func() { c.metrics.observe(opDelete, err) }()
	if h == nil {
		return "", index.ErrNoActiveIndex
	}
	// the steps run to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	ctx, span := tracer.Start(ctx, "Coordinator.Delete")
	defer span.End()
	defer recordSpanError(span, &err)
	span.SetAttributes(
		attribute.String("index", h.Name()),
		attribute.String("document_id", id),
	)

	if err := c.gateway.Delete(ctx, h, id); err != nil {
		return "", fmt.Errorf("delete %s from index %s: %w", id, h.Name(), err)
	}
	if err := c.registry.RemoveByExternalID(ctx, id); err != nil {
		c.drift(ctx, opDelete, id, err)
		return "", fmt.Errorf("unregister %s: %w", id, err)
	}

	c.logger.Info(ctx, "document deleted",
		zap.String("index", h.Name()),
		zap.String("document_id", id),
	)
	c.publish(ctx, events.Event{Type: events.DocumentDeleted, Index: h.Name(), ExternalID: id})
	return fmt.Sprintf(deletedFormat, id), nil
}

// DeleteAll wipes h, then clears the registry.
func (c *Coordinator) DeleteAll(ctx context.Context, h *index.Handle) (msg string, err error) {
	defer func() { c.metrics.observe(opDeleteAll, err) }()
	if h == nil {
		return "", index.ErrNoActiveIndex
	}
	// the steps run to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	ctx, span := tracer.Start(ctx, "Coordinator.DeleteAll")
	defer span.End()
	defer recordSpanError(span, &err)
	span.SetAttributes(attribute.String("index", h.Name()))

	if err := c.gateway.DeleteAll(ctx, h); err != nil {
		return "", fmt.Errorf("wipe index %s: %w", h.Name(), err)
	}
	if err := c.registry.Clear(ctx); err != nil {
		c.drift(ctx, opDeleteAll, "", err)
		return "", fmt.Errorf("clear registry: %w", err)
	}

	c.logger.Info(ctx, "all documents deleted", zap.String("index", h.Name()))
	c.publish(ctx, events.Event{Type: events.DocumentsCleared, Index: h.Name()})
	return AllDeletedText, nil
}

// List returns the registry contents. It does not consult the index.
func (c *Coordinator) List(ctx context.Context) ([]registry.Record, error) {
	return c.registry.List(ctx)
}

func (c *Coordinator) drift(ctx context.Context, operation, externalID string, err error) {
	c.metrics.RegistryDrift.WithLabelValues(operation).Inc()
	c.logger.Error(ctx, "registry out of step with index",
		zap.String("operation", operation),
		zap.String("document_id", externalID),
		zap.Error(err),
	)
}

func (c *Coordinator) publish(ctx context.Context, e events.Event) {
	if err := c.publisher.Publish(ctx, e); err != nil {
		c.logger.Warn(ctx, "publishing lifecycle event failed",
			zap.String("type", string(e.Type)),
			zap.Error(err),
		)
	}
}

func recordSpanError(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, index.ErrNoActiveIndex):
		return "no_index"
	default:
		return "error"
	}
}
