// Package events publishes document lifecycle notifications.
//
// Events are published after the corresponding change is already durable;
// subscribers see at-most-once delivery and must tolerate gaps.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docchat/internal/logging"
)

// Type names a lifecycle event.
type Type string

const (
	DocumentInserted Type = "document.inserted"
	DocumentDeleted  Type = "document.deleted"
	DocumentsCleared Type = "documents.cleared"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "docchat.documents"

// Event describes one completed lifecycle operation.
type Event struct {
	Type        Type      `json:"type"`
	Index       string    `json:"index"`
	DisplayName string    `json:"filename,omitempty"`
	ExternalID  string    `json:"id,omitempty"`
	Time        time.Time `json:"time"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// NATSPublisher publishes events as JSON to <subject>.<type>.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *logging.Logger
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a publisher on an established connection. The
// connection remains owned by the caller.
func NewNATSPublisher(nc *nats.Conn, subject string, logger *logging.Logger) (*NATSPublisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger.Named("events")}, nil
}

// Subject returns the full subject an event of type t is published on.
func (p *NATSPublisher) Subject(t Type) string {
	return p.subject + "." + string(t)
}

// Publish sends e. A zero Time is replaced with the current time.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if e.Type == "" {
		return errors.New("event type is required")
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(e.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.logger.Trace(ctx, "event published",
		zap.String("subject", subject),
		zap.String("id", e.ExternalID),
	)
	return nil
}
