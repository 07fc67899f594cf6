// Package history stores conversation turns in Redis lists, one list per chat.
//
// Each message is appended as the JSON form of llms.ChatMessageModel and
// every append refreshes the list's expiry, so a chat disappears once it has
// been idle for the retention window.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// DefaultKeyPrefix namespaces history lists.
const DefaultKeyPrefix = "message_store:"

// Store hands out per-chat histories backed by a shared Redis client.
type Store struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewStore creates a history store. A zero ttl disables expiry.
func NewStore(client redis.Cmdable, prefix string, ttl time.Duration) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must not be negative")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}, nil
}

// For returns the history of chatID.
func (s *Store) For(chatID string) *History {
	return &History{client: s.client, key: s.prefix + chatID, ttl: s.ttl}
}

// History is the message list of one chat.
type History struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

var _ schema.ChatMessageHistory = (*History)(nil)

// Key returns the Redis key of the list.
func (h *History) Key() string { return h.key }

func (h *History) AddMessage(ctx context.Context, message llms.ChatMessage) error {
	raw, err := encode(message)
	if err != nil {
		return err
	}
	_, err = h.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, h.key, raw)
		if h.ttl > 0 {
			pipe.Expire(ctx, h.key, h.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append to %s: %w", h.key, err)
	}
	return nil
}

func (h *History) AddUserMessage(ctx context.Context, message string) error {
	return h.AddMessage(ctx, llms.HumanChatMessage{Content: message})
}

func (h *History) AddAIMessage(ctx context.Context, message string) error {
	return h.AddMessage(ctx, llms.AIChatMessage{Content: message})
}

func (h *History) Clear(ctx context.Context) error {
	return h.client.Del(ctx, h.key).Err()
}

// Messages returns the stored messages oldest first. Entries that cannot be
// decoded into a human or AI message are skipped.
func (h *History) Messages(ctx context.Context) ([]llms.ChatMessage, error) {
	models, err := h.Raw(ctx)
	if err != nil {
		return nil, err
	}
	msgs := make([]llms.ChatMessage, 0, len(models))
	for _, m := range models {
		if msg := toMessage(m); msg != nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// Raw returns the stored entries in their persisted form, oldest first.
func (h *History) Raw(ctx context.Context) ([]llms.ChatMessageModel, error) {
	items, err := h.client.LRange(ctx, h.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", h.key, err)
	}
	models := make([]llms.ChatMessageModel, 0, len(items))
	for _, item := range items {
		var m llms.ChatMessageModel
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", h.key, err)
		}
		models = append(models, m)
	}
	return models, nil
}

// SetMessages replaces the list in one transaction.
func (h *History) SetMessages(ctx context.Context, messages []llms.ChatMessage) error {
	raws := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		raw, err := encode(m)
		if err != nil {
			return err
		}
		raws = append(raws, raw)
	}
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, h.key)
		if len(raws) > 0 {
			pipe.RPush(ctx, h.key, raws...)
			if h.ttl > 0 {
				pipe.Expire(ctx, h.key, h.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", h.key, err)
	}
	return nil
}

func encode(m llms.ChatMessage) (string, error) {
	raw, err := json.Marshal(llms.ConvertChatMessageToModel(m))
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(raw), nil
}

func toMessage(m llms.ChatMessageModel) llms.ChatMessage {
	switch llms.ChatMessageType(m.Type) {
	case llms.ChatMessageTypeHuman:
		return llms.HumanChatMessage{Content: m.Data.Content}
	case llms.ChatMessageTypeAI:
		return llms.AIChatMessage{Content: m.Data.Content}
	case llms.ChatMessageTypeSystem:
		return llms.SystemChatMessage{Content: m.Data.Content}
	default:
		return nil
	}
}
