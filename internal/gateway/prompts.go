// Prompt construction for the planning session.
package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"conductor/internal/protocol"
)

// buildSystemPrompt composes the session system message: role, the
// propose-only contract, the output schema reminder and the tool
// preference ordering.
func buildSystemPrompt(roleID string, gated *protocol.GatedSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the planning subagent for role %q.\n\n", roleID)
	b.WriteString("You only PROPOSE. You emit plans, tool_requests and diffs; you never execute tools, write files or mutate any state yourself.\n\n")
	b.WriteString("Respond with a single JSON object matching this schema exactly:\n")
	b.WriteString(`{"plan": ["<ordered human-readable steps>"], "tool_requests": [<tool_request objects>]}` + "\n")
	b.WriteString("A response that does not validate against this schema terminates the session.\n\n")
	b.WriteString("Tool preference: favor low-cost tools without consent requirements. ")
	fmt.Fprintf(&b, "These capabilities require explicit consent and budget (entries ending in \".\" gate a whole family): %s. ", strings.Join(gated.Entries(), ", "))
	b.WriteString("Propose them only when the goal cannot be met otherwise.\n")
	b.WriteString("An empty tool_requests list signals that the goal needs no tool execution.\n")
	return b.String()
}

// userPayload is the structured first user message.
type userPayload struct {
	Goal                string                 `json:"goal"`
	Acceptance          []string               `json:"acceptance,omitempty"`
	AllowedCapabilities []string               `json:"allowed_capabilities,omitempty"`
	Budgets             map[string]interface{} `json:"budgets"`
	ArtifactDir         string                 `json:"artifact_dir,omitempty"`
	Node                map[string]interface{} `json:"node,omitempty"`
	ToolRequestExample  protocol.ToolRequest   `json:"tool_request_example"`
}

// buildUserPayload composes the first user message: goal, acceptance
// bar, allowed capabilities, budgets, artifact convention, node context
// and a worked example of the expected tool_request shape.
func buildUserPayload(req protocol.SubagentRequest, opts protocol.Options) (string, error) {
	payload := userPayload{
		Goal:                req.Goal,
		Acceptance:          req.Context.Acceptance,
		AllowedCapabilities: req.Context.AllowedCapabilities,
		Budgets: map[string]interface{}{
			"max_steps":    opts.MaxSteps,
			"max_seconds":  opts.MaxSeconds,
			"max_cost_usd": opts.MaxCostUSD,
			"test_mode":    opts.TestMode,
		},
		ArtifactDir: req.Context.ArtifactDir,
		Node:        req.Context.Node,
		ToolRequestExample: protocol.ToolRequest{
			Capability:        "web.search",
			Purpose:           "find three recent sources on the topic",
			InputSpec:         map[string]interface{}{"query": "example topic", "count": 3},
			ExpectedArtifacts: []string{"search.json"},
			Constraints:       protocol.Constraints{TestMode: opts.TestMode, MaxCostUSD: 0.1},
			Acceptance:        []string{"results include publication dates"},
			CostEstimateUSD:   0.01,
		},
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling session payload: %w", err)
	}
	return string(data), nil
}
