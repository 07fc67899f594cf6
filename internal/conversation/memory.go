package conversation

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/schema"
)

const (
	inputKey  = "input"
	outputKey = "output"
)

// windowMemory exposes the last k exchanges to the prompt but never rewrites
// the underlying history; old turns age out through the store's expiry.
type windowMemory struct {
	*memory.ConversationWindowBuffer
}

var _ schema.Memory = windowMemory{}

func newWindowMemory(history schema.ChatMessageHistory, k int) windowMemory {
	return windowMemory{memory.NewConversationWindowBuffer(k,
		memory.WithChatHistory(history),
		memory.WithInputKey(inputKey),
		memory.WithOutputKey(outputKey),
	)}
}

// SaveContext appends the exchange without pruning.
func (m windowMemory) SaveContext(ctx context.Context, inputs, outputs map[string]any) error {
	trimmed := make(map[string]any, len(outputs))
	for k, v := range outputs {
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}
		trimmed[k] = v
	}
	return m.ConversationBuffer.SaveContext(ctx, inputs, trimmed)
}
