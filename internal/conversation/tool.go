package conversation

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/tools"

	"github.com/fyrsmithlabs/docchat/internal/index"
)

const (
	indexToolName        = "GPT Index"
	indexToolDescription = "useful for when you want to answer questions about what meal to eat. The input to this tool should be a complete english sentence."
)

// indexTool answers the agent's question from one index handle.
type indexTool struct {
	handle *index.Handle
}

var _ tools.Tool = indexTool{}

func (indexTool) Name() string        { return indexToolName }
func (indexTool) Description() string { return indexToolDescription }

func (t indexTool) Call(ctx context.Context, input string) (string, error) {
	return t.handle.Answer(ctx, input)
}

// returnDirectAgent finishes as soon as one of the direct tools has run,
// using that tool's observation as the final output.
type returnDirectAgent struct {
	agents.Agent
	direct map[string]bool
}

func newReturnDirectAgent(agent agents.Agent, direct ...string) returnDirectAgent {
	names := make(map[string]bool, len(direct))
	for _, name := range direct {
		names[strings.ToUpper(name)] = true
	}
	return returnDirectAgent{Agent: agent, direct: names}
}

func (a returnDirectAgent) Plan(
	ctx context.Context,
	steps []schema.AgentStep,
	inputs map[string]string,
	options ...chains.ChainCallOption,
) ([]schema.AgentAction, *schema.AgentFinish, error) {
	if n := len(steps); n > 0 {
		last := steps[n-1]
		if a.direct[strings.ToUpper(strings.TrimSpace(last.Action.Tool))] {
			return nil, &schema.AgentFinish{
				ReturnValues: map[string]any{outputKey: last.Observation},
				Log:          last.Observation,
			}, nil
		}
	}
	return a.Agent.Plan(ctx, steps, inputs, options...)
}
