// Package index is the gateway to the vector store.
//
// A Provider provisions and opens named indexes on a backend (Qdrant over
// gRPC, or an embedded chromem database). The Gateway tracks which index is
// active and hands out immutable Handles; callers snapshot the current handle
// once per request and pass it to every operation, so switching the active
// index never affects a request already in flight.
//
// Documents are split into chunks before embedding. All chunks of one
// document share a document id, which is the external id reported to callers
// and the unit of deletion.
package index

import (
	"context"
	"errors"
	"regexp"

	"github.com/tmc/langchaingo/schema"
)

const (
	// Dimension is the embedding size every index is provisioned with.
	Dimension = 1536

	// MetadataDocumentID is the payload key holding a chunk's document id.
	MetadataDocumentID = "document_id"
	// MetadataChunk is the payload key holding a chunk's position.
	MetadataChunk = "chunk"
	// MetadataSource is the payload key holding the uploaded file name.
	MetadataSource = "source"

	payloadContent = "page_content"
)

var (
	// ErrNoActiveIndex is returned by operations that need an active index
	// when none has been initialized.
	ErrNoActiveIndex = errors.New("index is empty")
	// ErrIndexNotFound is returned when opening an index that does not exist.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexExists is returned when creating an index whose name is taken.
	ErrIndexExists = errors.New("index already exists")
	// ErrInvalidIndexName is returned for names the gateway refuses.
	ErrInvalidIndexName = errors.New("invalid index name")
	// ErrEmptyDocument is returned when a document has no text to embed.
	ErrEmptyDocument = errors.New("document has no content")
)

var indexNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// ValidateName reports whether name can be used as an index name.
func ValidateName(name string) error {
	if !indexNamePattern.MatchString(name) {
		return ErrInvalidIndexName
	}
	return nil
}

// Document is one uploaded document ready for embedding.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Provider creates and opens named indexes on one vector store backend.
type Provider interface {
	// Name identifies the backend, e.g. "qdrant".
	Name() string
	// CreateIndex provisions a new index. Backend errors are returned as is.
	CreateIndex(ctx context.Context, name string) error
	// OpenIndex returns the existing index name, or ErrIndexNotFound.
	OpenIndex(ctx context.Context, name string) (Index, error)
	// Close releases the backend connection.
	Close() error
}

// Index is one named collection of embedded chunks.
type Index interface {
	Name() string
	// Insert embeds and stores chunks under documentID.
	Insert(ctx context.Context, documentID string, chunks []schema.Document) error
	// Search returns up to k chunks closest to query.
	Search(ctx context.Context, query string, k int) ([]schema.Document, error)
	// Delete removes every chunk of documentID. Unknown ids are a no-op.
	Delete(ctx context.Context, documentID string) error
	// DeleteAll removes every chunk in the index.
	DeleteAll(ctx context.Context) error
}
