package index

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// HashEmbedder is a deterministic bag-of-words embedder for tests. Texts
// sharing words get nearby vectors; nothing leaves the process.
type HashEmbedder struct{}

func (HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := HashEmbedder{}.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, Dimension)
	// bias term keeps the vector non-zero for texts without words
	v[0] = 0.01
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[int(h.Sum32()%(Dimension-1))+1]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

// ScriptedLLM replays canned responses in order and records every prompt.
// It is safe for concurrent use.
type ScriptedLLM struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	calls     int
	Err       error
}

var _ llms.Model = (*ScriptedLLM)(nil)

// NewScriptedLLM returns a model answering with responses, cycling when
// they run out.
func NewScriptedLLM(responses ...string) *ScriptedLLM {
	return &ScriptedLLM{responses: responses}
}

func (s *ScriptedLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prompt strings.Builder
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}
	s.prompts = append(s.prompts, prompt.String())

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("no responses configured")
	}
	resp := s.responses[s.calls%len(s.responses)]
	s.calls++
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: resp}}}, nil
}

func (s *ScriptedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

// Prompts returns the prompts seen so far.
func (s *ScriptedLLM) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
