package summary

import (
	"context"
	"fmt"

	"github.com/kalambet/minutes/internal/agno"
)

// AgentRunner issues blocking agent runs. *agno.Client satisfies it.
type AgentRunner interface {
	RunAgent(ctx context.Context, agentID string, req agno.RunRequest) (agno.RunResponse, error)
}

// AgentGenerator summarizes through a remote summarization agent. The agent
// owns its prompt; the transcript is sent verbatim as the run message.
type AgentGenerator struct {
	runner  AgentRunner
	agentID string
}

// NewAgentGenerator creates a generator that runs agentID on runner.
func NewAgentGenerator(runner AgentRunner, agentID string) *AgentGenerator {
	return &AgentGenerator{runner: runner, agentID: agentID}
}

func (g *AgentGenerator) Generate(ctx context.Context, conversation string) (Minutes, error) {
	resp, err := g.runner.RunAgent(ctx, g.agentID, agno.RunRequest{Message: conversation})
	if err != nil {
		return Minutes{}, fmt.Errorf("summary agent %s: %w", g.agentID, err)
	}
	return Minutes{Content: resp.Content, Reasoning: resp.ReasoningContent}, nil
}
