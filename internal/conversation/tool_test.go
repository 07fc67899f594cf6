package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/tools"
)

type stubAgent struct {
	planned int
}

func (s *stubAgent) Plan(context.Context, []schema.AgentStep, map[string]string, ...chains.ChainCallOption) ([]schema.AgentAction, *schema.AgentFinish, error) {
	s.planned++
	return []schema.AgentAction{{Tool: "Calculator", ToolInput: "1+1"}}, nil, nil
}
func (s *stubAgent) GetInputKeys() []string  { return []string{inputKey} }
func (s *stubAgent) GetOutputKeys() []string { return []string{outputKey} }
func (s *stubAgent) GetTools() []tools.Tool  { return nil }

func TestReturnDirectAgent(t *testing.T) {
	inner := &stubAgent{}
	agent := newReturnDirectAgent(inner, "GPT Index")
	ctx := context.Background()

	tests := []struct {
		name       string
		steps      []schema.AgentStep
		wantFinish string
	}{
		{name: "no steps delegates"},
		{
			name:  "other tool delegates",
			steps: []schema.AgentStep{{Action: schema.AgentAction{Tool: "Calculator"}, Observation: "2"}},
		},
		{
			name:       "direct tool finishes",
			steps:      []schema.AgentStep{{Action: schema.AgentAction{Tool: "gpt index "}, Observation: "soup"}},
			wantFinish: "soup",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := inner.planned
			actions, finish, err := agent.Plan(ctx, tt.steps, map[string]string{inputKey: "q"})
			require.NoError(t, err)
			if tt.wantFinish == "" {
				assert.Nil(t, finish)
				assert.Len(t, actions, 1)
				assert.Equal(t, before+1, inner.planned)
				return
			}
			require.NotNil(t, finish)
			assert.Equal(t, tt.wantFinish, finish.ReturnValues[outputKey])
			assert.Equal(t, before, inner.planned)
		})
	}
}

func TestIndexTool_Metadata(t *testing.T) {
	tool := indexTool{}
	assert.Equal(t, "GPT Index", tool.Name())
	assert.Contains(t, tool.Description(), "what meal to eat")
}
