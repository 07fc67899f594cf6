package history

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewStore(client, "", ttl)
	require.NoError(t, err)
	return store, mr
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(nil, "", time.Hour)
	assert.Error(t, err)

	_, err = NewStore(redis.NewClient(&redis.Options{}), "", -time.Second)
	assert.Error(t, err)
}

func TestHistory_AppendAndRead(t *testing.T) {
	store, _ := newTestStore(t, 24*time.Hour)
	ctx := context.Background()
	h := store.For("chat-1")

	require.NoError(t, h.AddUserMessage(ctx, "what should I cook?"))
	require.NoError(t, h.AddAIMessage(ctx, "Try the lentil soup."))

	msgs, err := h.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[0].GetType())
	assert.Equal(t, "what should I cook?", msgs[0].GetContent())
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[1].GetType())
	assert.Equal(t, "Try the lentil soup.", msgs[1].GetContent())
}

func TestHistory_PersistedFormat(t *testing.T) {
	store, mr := newTestStore(t, 0)
	ctx := context.Background()
	h := store.For("abc")
	require.NoError(t, h.AddUserMessage(ctx, "hi"))

	assert.Equal(t, "message_store:abc", h.Key())
	items, err := mr.List("message_store:abc")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"type":"human","data":{"content":"hi","type":"human"}}`, items[0])
}

func TestHistory_TTLRefreshedOnAppend(t *testing.T) {
	store, mr := newTestStore(t, 24*time.Hour)
	ctx := context.Background()
	h := store.For("chat-ttl")

	require.NoError(t, h.AddUserMessage(ctx, "first"))
	mr.FastForward(23 * time.Hour)
	require.NoError(t, h.AddAIMessage(ctx, "second"))
	assert.Equal(t, 24*time.Hour, mr.TTL(h.Key()))

	mr.FastForward(25 * time.Hour)
	msgs, err := h.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHistory_NoTTL(t *testing.T) {
	store, mr := newTestStore(t, 0)
	h := store.For("forever")
	require.NoError(t, h.AddUserMessage(context.Background(), "x"))
	assert.Equal(t, time.Duration(0), mr.TTL(h.Key()))
}

func TestHistory_SetMessagesAndClear(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()
	h := store.For("chat-2")
	require.NoError(t, h.AddUserMessage(ctx, "old"))

	require.NoError(t, h.SetMessages(ctx, []llms.ChatMessage{
		llms.HumanChatMessage{Content: "q"},
		llms.AIChatMessage{Content: "a"},
	}))
	msgs, err := h.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "q", msgs[0].GetContent())

	require.NoError(t, h.Clear(ctx))
	msgs, err = h.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHistory_ChatsAreIsolated(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, store.For("a").AddUserMessage(ctx, "only in a"))

	msgs, err := store.For("b").Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHistory_RawKeepsUnknownTypes(t *testing.T) {
	store, mr := newTestStore(t, 0)
	ctx := context.Background()
	h := store.For("mixed")
	require.NoError(t, h.AddUserMessage(ctx, "q"))
	_, err := mr.Push(h.Key(), `{"type":"function","data":{"content":"f","type":"function"}}`)
	require.NoError(t, err)

	raw, err := h.Raw(ctx)
	require.NoError(t, err)
	assert.Len(t, raw, 2)

	msgs, err := h.Messages(ctx)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHistory_RawRejectsCorruptEntries(t *testing.T) {
	store, mr := newTestStore(t, 0)
	h := store.For("corrupt")
	_, err := mr.Push(h.Key(), "not json")
	require.NoError(t, err)

	_, err = h.Raw(context.Background())
	assert.Error(t, err)
}
