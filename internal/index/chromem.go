package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docchat/internal/logging"
)

// ChromemConfig configures the embedded chromem provider.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string
	// Compress gzips persisted files.
	Compress bool
}

// ChromemProvider keeps indexes in an embedded chromem database.
//
// chromem only ranks by cosine similarity, so indexes created here do not
// use the Euclidean metric the Qdrant provider provisions. With normalized
// embeddings the two orderings agree.
type ChromemProvider struct {
	db       *chromem.DB
	embedder embeddings.Embedder
	logger   *logging.Logger

	// guards create/delete-recreate of collections
	mu sync.Mutex
}

// NewChromemProvider opens the chromem database described by cfg.
func NewChromemProvider(cfg ChromemConfig, embedder embeddings.Embedder, logger *logging.Logger) (*ChromemProvider, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		cfg.Path = path
	}

	logger.Info(context.Background(), "chromem provider initialized",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
	)

	return &ChromemProvider{db: db, embedder: embedder, logger: logger.Named("chromem")}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (p *ChromemProvider) Name() string { return "chromem" }

func (p *ChromemProvider) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return p.embedder.EmbedQuery(ctx, text)
	}
}

// CreateIndex creates an empty collection. chromem silently replaces an
// existing collection, so duplicates are rejected here.
func (p *ChromemProvider) CreateIndex(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db.GetCollection(name, p.embeddingFunc()) != nil {
		return fmt.Errorf("%w: %s", ErrIndexExists, name)
	}
	if _, err := p.db.CreateCollection(name, collectionMetadata(), p.embeddingFunc()); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

func (p *ChromemProvider) OpenIndex(_ context.Context, name string) (Index, error) {
	if p.db.GetCollection(name, p.embeddingFunc()) == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return &chromemIndex{name: name, provider: p}, nil
}

func (p *ChromemProvider) Close() error { return nil }

func collectionMetadata() map[string]string {
	return map[string]string{"dimension": strconv.Itoa(Dimension)}
}

// chromemIndex resolves its collection on every call so that a wipe through
// one handle is seen by every other handle on the same index.
type chromemIndex struct {
	name     string
	provider *ChromemProvider
}

func (i *chromemIndex) Name() string { return i.name }

func (i *chromemIndex) collection() (*chromem.Collection, error) {
	c := i.provider.db.GetCollection(i.name, i.provider.embeddingFunc())
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, i.name)
	}
	return c, nil
}

func (i *chromemIndex) Insert(ctx context.Context, documentID string, chunks []schema.Document) error {
	ctx, span := tracer.Start(ctx, "chromem.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", i.name),
		attribute.Int("chunks", len(chunks)),
	)

	if len(chunks) == 0 {
		return ErrEmptyDocument
	}
	c, err := i.collection()
	if err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for n, chunk := range chunks {
		texts[n] = chunk.PageContent
	}
	vectors, err := i.provider.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	docs := make([]chromem.Document, len(chunks))
	for n, chunk := range chunks {
		meta := stringMetadata(chunk.Metadata)
		meta[MetadataDocumentID] = documentID
		docs[n] = chromem.Document{
			ID:        uuid.NewString(),
			Content:   chunk.PageContent,
			Metadata:  meta,
			Embedding: vectors[n],
		}
	}

	// embeddings are precomputed, so one worker is enough
	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

func (i *chromemIndex) Search(ctx context.Context, query string, k int) ([]schema.Document, error) {
	ctx, span := tracer.Start(ctx, "chromem.Search")
	defer span.End()
	span.SetAttributes(attribute.String("index", i.name), attribute.Int("k", k))

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	c, err := i.collection()
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= doc count
	count := c.Count()
	if count == 0 {
		return []schema.Document{}, nil
	}
	k = min(k, count)

	vector, err := i.provider.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	results, err := c.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", i.name, err)
	}

	docs := make([]schema.Document, len(results))
	for n, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for key, v := range r.Metadata {
			meta[key] = v
		}
		docs[n] = schema.Document{PageContent: r.Content, Metadata: meta, Score: r.Similarity}
	}
	return docs, nil
}

func (i *chromemIndex) Delete(ctx context.Context, documentID string) error {
	c, err := i.collection()
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, map[string]string{MetadataDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}

// DeleteAll drops the collection and recreates it empty.
func (i *chromemIndex) DeleteAll(ctx context.Context) error {
	p := i.provider
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db.GetCollection(i.name, p.embeddingFunc()) == nil {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, i.name)
	}
	if err := p.db.DeleteCollection(i.name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", i.name, err)
	}
	if _, err := p.db.CreateCollection(i.name, collectionMetadata(), p.embeddingFunc()); err != nil {
		return fmt.Errorf("recreating collection %s: %w", i.name, err)
	}
	p.logger.Debug(ctx, "collection recreated", zap.String("index", i.name))
	return nil
}

func stringMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
