// Package registry maintains the document registry: the mapping between the
// display names shown to users and the ids the vector store assigned to the
// embedded documents.
//
// The registry is a best-effort mirror. It is written after a successful
// vector store insert and cleared after the vector store is wiped, so a crash
// in between leaves it under-reporting inserts or over-reporting deletes. It is
// never consulted to decide what the vector store contains.
//
// Reverse lookups by external id scan every entry; the collection is expected
// to stay small enough for that to be cheap.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docchat/internal/logging"
)

var (
	// ErrNotFound is returned when no entry maps to the requested external id.
	ErrNotFound = errors.New("document not found")
	// ErrEmptyEntry is returned by Put when the display name or external id
	// is empty.
	ErrEmptyEntry = errors.New("display name and external id are required")
)

// Record is one registry entry.
type Record struct {
	DisplayName string `json:"filename"`
	ExternalID  string `json:"id"`
}

// Store persists the name to id mapping under a single collection key.
type Store interface {
	// Set upserts one mapping.
	Set(ctx context.Context, displayName, externalID string) error
	// Delete removes one mapping; deleting a missing name is not an error.
	Delete(ctx context.Context, displayNames ...string) error
	// All returns every mapping keyed by display name.
	All(ctx context.Context) (map[string]string, error)
	// Clear drops the whole collection in one atomic operation.
	Clear(ctx context.Context) error
	// Close releases resources owned by the store.
	Close() error
}

// Registry implements the document registry operations on top of a Store.
type Registry struct {
	store  Store
	logger *logging.Logger
}

// New creates a registry backed by store.
func New(store Store, logger *logging.Logger) (*Registry, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Registry{store: store, logger: logger.Named("registry")}, nil
}

// Put records displayName -> externalID, overwriting any existing mapping
// for displayName.
func (r *Registry) Put(ctx context.Context, displayName, externalID string) error {
	if displayName == "" || externalID == "" {
		return ErrEmptyEntry
	}
	if err := r.store.Set(ctx, displayName, externalID); err != nil {
		return fmt.Errorf("put %q: %w", displayName, err)
	}
	return nil
}

// FindByExternalID returns the display name mapped to externalID, or
// ErrNotFound.
func (r *Registry) FindByExternalID(ctx context.Context, externalID string) (string, error) {
	names, err := r.find(ctx, externalID)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNotFound
	}
	return names[0], nil
}

// Remove deletes the entry for displayName.
func (r *Registry) Remove(ctx context.Context, displayName string) error {
	if err := r.store.Delete(ctx, displayName); err != nil {
		return fmt.Errorf("remove %q: %w", displayName, err)
	}
	return nil
}

// RemoveByExternalID deletes every entry mapped to externalID. A missing id
// is a no-op.
func (r *Registry) RemoveByExternalID(ctx context.Context, externalID string) error {
	names, err := r.find(ctx, externalID)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		r.logger.Debug(ctx, "no registry entry for external id", zap.String("external_id", externalID))
		return nil
	}
	if err := r.store.Delete(ctx, names...); err != nil {
		return fmt.Errorf("remove external id %q: %w", externalID, err)
	}
	return nil
}

// List returns every entry ordered by display name.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	records := make([]Record, 0, len(all))
	for name, id := range all {
		records = append(records, Record{DisplayName: name, ExternalID: id})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].DisplayName < records[j].DisplayName
	})
	return records, nil
}

// Clear removes every entry at once.
func (r *Registry) Clear(ctx context.Context) error {
	if err := r.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear registry: %w", err)
	}
	return nil
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}

func (r *Registry) find(ctx context.Context, externalID string) ([]string, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan registry: %w", err)
	}
	var names []string
	for name, id := range all {
		if id == externalID {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
