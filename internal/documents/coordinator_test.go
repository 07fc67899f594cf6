package documents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/docchat/internal/events"
	"github.com/fyrsmithlabs/docchat/internal/index"
	"github.com/fyrsmithlabs/docchat/internal/logging"
	"github.com/fyrsmithlabs/docchat/internal/naming"
	"github.com/fyrsmithlabs/docchat/internal/registry"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	coord   *Coordinator
	gateway *index.Gateway
	handle  *index.Handle
	reg     *registry.Registry
	redis   *miniredis.Miniredis
	pub     *recordingPublisher
	metrics *Metrics
	logger  *logging.TestLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := registry.NewRedisStore(client, "documents")
	require.NoError(t, err)
	reg, err := registry.New(store, logging.NewNop())
	require.NoError(t, err)

	provider, err := index.NewChromemProvider(index.ChromemConfig{}, index.HashEmbedder{}, logging.NewNop())
	require.NoError(t, err)
	gw, err := index.NewGateway(provider, index.Options{LLM: index.NewScriptedLLM("ok")}, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, gw.CreateNamed(ctx, "meals"))
	h, err := gw.Activate(ctx, "meals")
	require.NoError(t, err)

	pub := &recordingPublisher{}
	metrics := NewMetrics(prometheus.NewRegistry())
	tl := logging.NewTestLogger()
	coord, err := NewCoordinator(gw, reg, tl.Logger, WithPublisher(pub), WithMetrics(metrics))
	require.NoError(t, err)

	return &fixture{coord: coord, gateway: gw, handle: h, reg: reg, redis: mr, pub: pub, metrics: metrics, logger: tl}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewCoordinator_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := NewCoordinator(nil, f.reg, logging.NewNop())
	assert.Error(t, err)
	_, err = NewCoordinator(f.gateway, nil, logging.NewNop())
	assert.Error(t, err)
	_, err = NewCoordinator(f.gateway, f.reg, nil)
	assert.Error(t, err)
	_, err = NewCoordinator(f.gateway, f.reg, logging.NewNop(), WithSuffixLength(0))
	assert.ErrorIs(t, err, naming.ErrInvalidSuffixLength)

	c, err := NewCoordinator(f.gateway, f.reg, logging.NewNop(), WithPublisher(nil))
	require.NoError(t, err)
	assert.Equal(t, events.Nop{}, c.publisher)
}

func TestCoordinator_InsertRecipe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeFile(t, "recipe.txt", "Lentil soup: simmer lentils with onion and cumin.")

	rec, err := f.coord.Insert(ctx, f.handle, path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.DisplayName, "recipe_"), rec.DisplayName)
	assert.True(t, strings.HasSuffix(rec.DisplayName, ".txt"), rec.DisplayName)
	assert.NotEmpty(t, rec.ExternalID)

	list, err := f.coord.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec, list[0])

	docs, err := f.handle.GetRelevantDocuments(ctx, "lentil soup")
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, rec.ExternalID, docs[0].Metadata[index.MetadataDocumentID])
	assert.Equal(t, "recipe.txt", docs[0].Metadata[index.MetadataSource])

	assert.Equal(t, []events.Type{events.DocumentInserted}, f.pub.types())
	assert.Equal(t, rec.DisplayName, f.pub.events[0].DisplayName)
	assert.Equal(t, "meals", f.pub.events[0].Index)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues(opInsert, "ok")))
	f.logger.AssertField(t, "document inserted", "document_id", rec.ExternalID)
}

func TestCoordinator_InsertSameBasenameTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.coord.Insert(ctx, f.handle, writeFile(t, "notes.md", "first upload about pasta"))
	require.NoError(t, err)
	second, err := f.coord.Insert(ctx, f.handle, writeFile(t, "notes.md", "second upload about rice"))
	require.NoError(t, err)

	assert.NotEqual(t, first.DisplayName, second.DisplayName)
	assert.NotEqual(t, first.ExternalID, second.ExternalID)

	list, err := f.coord.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCoordinator_InsertWithoutIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Insert(ctx, nil, "/does/not/exist.txt")
	assert.ErrorIs(t, err, index.ErrNoActiveIndex)

	list, err := f.coord.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.pub.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues(opInsert, "no_index")))
}

func TestCoordinator_InsertFailureLeavesRegistryUntouched(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "gone.txt") }},
		{"empty document", func(t *testing.T) string { return writeFile(t, "blank.txt", "  \n ") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.coord.Insert(ctx, f.handle, tt.path(t))
			require.Error(t, err)

			list, err := f.coord.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
			assert.Empty(t, f.pub.types())
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues(opInsert, "error")))
			assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.RegistryDrift.WithLabelValues(opInsert)))
		})
	}
}

func TestCoordinator_RegistryFailureAfterInsertIsCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeFile(t, "recipe.txt", "Tomato salad with basil.")

	f.redis.Close()

	_, err := f.coord.Insert(ctx, f.handle, path)
	require.Error(t, err)

	// the vector store keeps the document; nothing rolls it back
	docs, err := f.handle.GetRelevantDocuments(ctx, "tomato salad")
	require.NoError(t, err)
	assert.NotEmpty(t, docs)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RegistryDrift.WithLabelValues(opInsert)))
	f.logger.AssertLogged(t, zapcore.ErrorLevel, "registry out of step with index")
	assert.Empty(t, f.pub.types())
}

func TestCoordinator_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep, err := f.coord.Insert(ctx, f.handle, writeFile(t, "keep.txt", "keep this pancake recipe"))
	require.NoError(t, err)
	drop, err := f.coord.Insert(ctx, f.handle, writeFile(t, "drop.txt", "drop this waffle recipe"))
	require.NoError(t, err)

	msg, err := f.coord.Delete(ctx, f.handle, drop.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, "Document "+drop.ExternalID+" deleted", msg)

	list, err := f.coord.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []registry.Record{keep}, list)

	docs, err := f.handle.GetRelevantDocuments(ctx, "waffle recipe")
	require.NoError(t, err)
	for _, d := range docs {
		assert.NotEqual(t, drop.ExternalID, d.Metadata[index.MetadataDocumentID])
	}
	assert.Equal(t, []events.Type{events.DocumentInserted, events.DocumentInserted, events.DocumentDeleted}, f.pub.types())
}

func TestCoordinator_DeleteUnknownID(t *testing.T) {
	f := newFixture(t)

	msg, err := f.coord.Delete(context.Background(), f.handle, "never-inserted")
	require.NoError(t, err)
	assert.Equal(t, "Document never-inserted deleted", msg)
}

func TestCoordinator_DeleteWithoutIndex(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Delete(context.Background(), nil, "x")
	assert.ErrorIs(t, err, index.ErrNoActiveIndex)
	_, err = f.coord.DeleteAll(context.Background(), nil)
	assert.ErrorIs(t, err, index.ErrNoActiveIndex)
}

func TestCoordinator_DeleteAll(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		f := newFixture(t)
		msg, err := f.coord.DeleteAll(context.Background(), f.handle)
		require.NoError(t, err)
		assert.Equal(t, AllDeletedText, msg)
	})

	t.Run("populated", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
			_, err := f.coord.Insert(ctx, f.handle, writeFile(t, name, "curry recipe "+name))
			require.NoError(t, err)
		}

		msg, err := f.coord.DeleteAll(ctx, f.handle)
		require.NoError(t, err)
		assert.Equal(t, "All documents deleted", msg)

		list, err := f.coord.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
		docs, err := f.handle.GetRelevantDocuments(ctx, "curry")
		require.NoError(t, err)
		assert.Empty(t, docs)
		assert.Contains(t, f.pub.types(), events.DocumentsCleared)
	})
}

func TestCoordinator_PublishFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("nats down")

	_, err := f.coord.Insert(context.Background(), f.handle, writeFile(t, "r.txt", "bean chili"))
	require.NoError(t, err)
	f.logger.AssertLogged(t, zapcore.WarnLevel, "publishing lifecycle event failed")
}

// hangUpProvider opens indexes whose writes cancel the caller's context
// right after they succeed, as a client disconnecting mid-request would.
type hangUpProvider struct {
	index.Provider
	cancel *context.CancelFunc
}

func (p hangUpProvider) OpenIndex(ctx context.Context, name string) (index.Index, error) {
	idx, err := p.Provider.OpenIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	return hangUpIndex{Index: idx, cancel: p.cancel}, nil
}

type hangUpIndex struct {
	index.Index
	cancel *context.CancelFunc
}

func (i hangUpIndex) Insert(ctx context.Context, documentID string, chunks []schema.Document) error {
	defer (*i.cancel)()
	return i.Index.Insert(ctx, documentID, chunks)
}

func (i hangUpIndex) Delete(ctx context.Context, documentID string) error {
	defer (*i.cancel)()
	return i.Index.Delete(ctx, documentID)
}

func (i hangUpIndex) DeleteAll(ctx context.Context) error {
	defer (*i.cancel)()
	return i.Index.DeleteAll(ctx)
}

func TestCoordinator_CallerCancellationDoesNotSplitStores(t *testing.T) {
	bg := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := registry.NewRedisStore(client, "documents")
	require.NoError(t, err)
	reg, err := registry.New(store, logging.NewNop())
	require.NoError(t, err)

	var cancel context.CancelFunc
	inner, err := index.NewChromemProvider(index.ChromemConfig{}, index.HashEmbedder{}, logging.NewNop())
	require.NoError(t, err)
	gw, err := index.NewGateway(hangUpProvider{Provider: inner, cancel: &cancel},
		index.Options{LLM: index.NewScriptedLLM("ok")}, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, gw.CreateNamed(bg, "meals"))
	h, err := gw.Activate(bg, "meals")
	require.NoError(t, err)

	metrics := NewMetrics(prometheus.NewRegistry())
	coord, err := NewCoordinator(gw, reg, logging.NewNop(), WithMetrics(metrics))
	require.NoError(t, err)

	requestCtx := func() context.Context {
		ctx, c := context.WithCancel(bg)
		cancel = c
		return ctx
	}

	t.Run("insert", func(t *testing.T) {
		ctx := requestCtx()
		rec, err := coord.Insert(ctx, h, writeFile(t, "recipe.txt", "lentil soup"))
		require.NoError(t, err)
		assert.Error(t, ctx.Err())

		name, err := reg.FindByExternalID(bg, rec.ExternalID)
		require.NoError(t, err)
		assert.Equal(t, rec.DisplayName, name)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, reg.Put(bg, "stew_abcde.txt", "doc-1"))

		ctx := requestCtx()
		_, err := coord.Delete(ctx, h, "doc-1")
		require.NoError(t, err)
		assert.Error(t, ctx.Err())

		_, err = reg.FindByExternalID(bg, "doc-1")
		assert.ErrorIs(t, err, registry.ErrNotFound)
	})

	t.Run("delete all", func(t *testing.T) {
		require.NoError(t, reg.Put(bg, "stew_fghij.txt", "doc-2"))

		ctx := requestCtx()
		_, err := coord.DeleteAll(ctx, h)
		require.NoError(t, err)
		assert.Error(t, ctx.Err())

		records, err := reg.List(bg)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	assert.Zero(t, testutil.ToFloat64(metrics.RegistryDrift.WithLabelValues(opInsert)))
	assert.Zero(t, testutil.ToFloat64(metrics.RegistryDrift.WithLabelValues(opDelete)))
	assert.Zero(t, testutil.ToFloat64(metrics.RegistryDrift.WithLabelValues(opDeleteAll)))
}
