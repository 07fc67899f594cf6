package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fyrsmithlabs/docchat/internal/logging"
)

// QdrantConfig configures the Qdrant gRPC connection.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the gRPC port, not the REST one. Default: 6334.
	Port int

	UseTLS bool
	APIKey string

	// MaxMessageSize bounds gRPC messages in bytes. Default: 50MB.
	MaxMessageSize int

	// DialTimeout bounds the startup health check. Default: 5s.
	DialTimeout time.Duration

	// Distance is the metric new collections use. Default: Euclid.
	Distance qdrant.Distance
}

// DefaultQdrantConfig returns defaults for a local Qdrant.
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:           "localhost",
		Port:           6334,
		MaxMessageSize: 50 * 1024 * 1024,
		DialTimeout:    5 * time.Second,
		Distance:       qdrant.Distance_Euclid,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	defaults := DefaultQdrantConfig()

	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.Port == 0 {
		c.Port = defaults.Port
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = defaults.Distance
	}
}

// Validate checks the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("invalid max message size: %d (must be > 0)", c.MaxMessageSize)
	}
	return nil
}

func (c *QdrantConfig) clientConfig() *qdrant.Config {
	cfg := &qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		UseTLS: c.UseTLS,
		APIKey: c.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(c.MaxMessageSize),
				grpc.MaxCallSendMsgSize(c.MaxMessageSize),
			),
		},
	}
	if !c.UseTLS {
		cfg.GrpcOptions = append(cfg.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return cfg
}

// QdrantProvider keeps each index in its own Qdrant collection. One gRPC
// client is shared by every index opened through the provider.
type QdrantProvider struct {
	client   *qdrant.Client
	config   QdrantConfig
	embedder embeddings.Embedder
	logger   *logging.Logger
}

// NewQdrantProvider connects to Qdrant and verifies it is reachable.
func NewQdrantProvider(ctx context.Context, cfg QdrantConfig, embedder embeddings.Embedder, logger *logging.Logger) (*QdrantProvider, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := qdrant.NewClient(cfg.clientConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	logger.Info(hctx, "connecting to qdrant",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		logger.Error(hctx, "qdrant health check failed",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.Error(err),
		)
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	return &QdrantProvider{
		client:   client,
		config:   cfg,
		embedder: embedder,
		logger:   logger.Named("qdrant"),
	}, nil
}

func (p *QdrantProvider) Name() string { return "qdrant" }

// CreateIndex creates a collection sized for Dimension-long vectors.
// Qdrant rejects an existing name and that error is returned unchanged.
func (p *QdrantProvider) CreateIndex(ctx context.Context, name string) error {
	return p.client.CreateCollection(ctx, p.createRequest(name))
}

func (p *QdrantProvider) createRequest(name string) *qdrant.CreateCollection {
	return &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     Dimension,
			Distance: p.config.Distance,
		}),
	}
}

func (p *QdrantProvider) OpenIndex(ctx context.Context, name string) (Index, error) {
	exists, err := p.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return &qdrantIndex{name: name, provider: p}, nil
}

// Close closes the gRPC connection.
func (p *QdrantProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

type qdrantIndex struct {
	name     string
	provider *QdrantProvider
}

func (i *qdrantIndex) Name() string { return i.name }

func (i *qdrantIndex) Insert(ctx context.Context, documentID string, chunks []schema.Document) error {
	ctx, span := tracer.Start(ctx, "qdrant.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", i.name),
		attribute.Int("chunks", len(chunks)),
	)

	if len(chunks) == 0 {
		return ErrEmptyDocument
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

	points, err := buildPoints(documentID, chunks, vectors)
	if err != nil {
		return err
	}

	_, err = i.provider.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", i.name, err)
	}
	return nil
}

func (i *qdrantIndex) Search(ctx context.Context, query string, k int) ([]schema.Document, error) {
	ctx, span := tracer.Start(ctx, "qdrant.Search")
	defer span.End()
	span.SetAttributes(attribute.String("index", i.name), attribute.Int("k", k))

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	vector, err := i.provider.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := i.provider.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", i.name, err)
	}

	docs := make([]schema.Document, len(results))
	for n, point := range results {
		docs[n] = scoredPointToDocument(point)
	}
	return docs, nil
}

func (i *qdrantIndex) Delete(ctx context.Context, documentID string) error {
	_, err := i.provider.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: i.name,
		Wait:           qdrant.PtrOf(true),
		Points:         documentSelector(documentID),
	})
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}

// DeleteAll removes every point but keeps the collection, so inserts and
// searches running alongside see an empty index rather than a missing one.
func (i *qdrantIndex) DeleteAll(ctx context.Context) error {
	_, err := i.provider.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: i.name,
		Wait:           qdrant.PtrOf(true),
		Points:         allPointsSelector(),
	})
	if err != nil {
		return fmt.Errorf("wiping collection %s: %w", i.name, err)
	}
	i.provider.logger.Debug(ctx, "collection wiped", zap.String("index", i.name))
	return nil
}

// allPointsSelector matches every point: a filter without conditions.
func allPointsSelector() *qdrant.PointsSelector {
	return qdrant.NewPointsSelectorFilter(&qdrant.Filter{})
}

func documentSelector(documentID string) *qdrant.PointsSelector {
	return qdrant.NewPointsSelectorFilter(&qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(MetadataDocumentID, documentID)},
	})
}

// buildPoints converts chunks to points. Each chunk gets a fresh UUID point
// id; the document id and text travel in the payload.
func buildPoints(documentID string, chunks []schema.Document, vectors [][]float32) ([]*qdrant.PointStruct, error) {
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for n, chunk := range chunks {
		if len(vectors[n]) != Dimension {
			return nil, fmt.Errorf("chunk %d: vector has %d dimensions, want %d", n, len(vectors[n]), Dimension)
		}

		raw := make(map[string]any, len(chunk.Metadata)+2)
		for k, v := range chunk.Metadata {
			raw[k] = payloadValue(v)
		}
		raw[payloadContent] = chunk.PageContent
		raw[MetadataDocumentID] = documentID

		payload, err := qdrant.TryValueMap(raw)
		if err != nil {
			return nil, fmt.Errorf("chunk %d payload: %w", n, err)
		}
		points[n] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vectors[n]...),
			Payload: payload,
		}
	}
	return points, nil
}

// payloadValue narrows metadata values to the types qdrant.NewValue accepts.
func payloadValue(v any) any {
	switch val := v.(type) {
	case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64, nil:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func scoredPointToDocument(point *qdrant.ScoredPoint) schema.Document {
	doc := schema.Document{Score: point.GetScore(), Metadata: map[string]any{}}
	for k, v := range point.GetPayload() {
		if k == payloadContent {
			doc.PageContent = v.GetStringValue()
			continue
		}
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			doc.Metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			doc.Metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			doc.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			doc.Metadata[k] = val.BoolValue
		}
	}
	return doc
}
