package index

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Handle is an opened index. Handles are immutable and safe to share.
type Handle struct {
	index       Index
	provider    string
	llm         llms.Model
	topK        int
	temperature float64
}

var _ schema.Retriever = (*Handle)(nil)

// Name returns the index name.
func (h *Handle) Name() string { return h.index.Name() }

// Provider returns the name of the backend holding the index.
func (h *Handle) Provider() string { return h.provider }

// String renders the handle as Index(name=<name>, provider=<provider>).
func (h *Handle) String() string {
	return fmt.Sprintf("Index(name=%s, provider=%s)", h.Name(), h.provider)
}

// GetRelevantDocuments returns the chunks closest to query.
func (h *Handle) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	return h.index.Search(ctx, query, h.topK)
}

// Answer runs a stuff-documents retrieval QA chain over the index.
func (h *Handle) Answer(ctx context.Context, question string) (string, error) {
	qa := chains.NewRetrievalQAFromLLM(h.llm, h)
	answer, err := chains.Run(ctx, qa, question, chains.WithTemperature(h.temperature))
	if err != nil {
		return "", fmt.Errorf("retrieval qa on %s: %w", h.Name(), err)
	}
	return answer, nil
}
