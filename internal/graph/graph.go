// Package graph defines task-graph nodes and the engine selector that
// decides whether a node runs deterministically or through the subagent
// gateway.
package graph

// Engine identifies the execution path chosen for a node.
type Engine string

const (
	EngineDeterministic Engine = "deterministic"
	EngineClaude        Engine = "claude"
)

// Routing modes.
const (
	ModeDeterministic = "deterministic"
	ModeClaude        = "claude"
	ModeHybrid        = "hybrid"
)

// Node types with special routing behavior.
const (
	// TypeAgentTask is the generic agent-mediated work item.
	TypeAgentTask = "agent_task"

	// Deterministic-only node kinds. These never reach the agent path.
	TypeGate    = "gate"
	TypePackage = "package"
	TypeReport  = "report"
	TypeVerify  = "verify"
)

// Default role ids used when a hybrid node does not name one.
const (
	DefaultAgentRole        = "agent"
	DefaultOrchestratorRole = "orchestrator"
)

// deterministicOnly is the hard guardrail set: gating, packaging,
// reporting and verification nodes are never agent-mediated, regardless
// of overrides or routing mode.
var deterministicOnly = map[string]bool{
	TypeGate:    true,
	TypePackage: true,
	TypeReport:  true,
	TypeVerify:  true,
}

// NodeParams carries the capability payload of a node.
type NodeParams struct {
	Capability string                 `json:"capability,omitempty" yaml:"capability,omitempty"`
	Role       string                 `json:"role,omitempty" yaml:"role,omitempty"`
	Agent      string                 `json:"agent,omitempty" yaml:"agent,omitempty"`
	Execution  string                 `json:"execution,omitempty" yaml:"execution,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`
}

// Node is one unit of work produced by the upstream graph builder.
// Read-only to this layer.
type Node struct {
	ID       string     `json:"id" yaml:"id"`
	Type     string     `json:"type" yaml:"type"`
	Params   NodeParams `json:"params" yaml:"params"`
	Requires []string   `json:"requires,omitempty" yaml:"requires,omitempty"`
}

// RoutingConfig controls engine selection. Include/Exclude are role-id
// sets and only consulted in hybrid mode.
type RoutingConfig struct {
	Mode    string   `json:"mode" toml:"mode" yaml:"mode"`
	Include []string `json:"include,omitempty" toml:"include" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" toml:"exclude" yaml:"exclude,omitempty"`
}

// IsDeterministicOnly reports whether a node type is in the guardrail set.
func IsDeterministicOnly(nodeType string) bool {
	return deterministicOnly[nodeType]
}

// RoleID derives the routing role for a node: explicit role, then agent
// id, then a default depending on whether this is a generic agent task.
func (n Node) RoleID() string {
	if n.Params.Role != "" {
		return n.Params.Role
	}
	if n.Params.Agent != "" {
		return n.Params.Agent
	}
	if n.Type == TypeAgentTask {
		return DefaultAgentRole
	}
	return DefaultOrchestratorRole
}

// SelectEngine decides the execution path for a node. Pure function:
// identical inputs always produce the same engine.
//
// Priority order:
//  1. guardrail node types are always deterministic
//  2. an explicit per-node execution override wins
//  3. a global deterministic/claude mode wins
//  4. hybrid: exclude beats include; an empty include set denies all
func SelectEngine(node Node, cfg RoutingConfig) Engine {
	if IsDeterministicOnly(node.Type) {
		return EngineDeterministic
	}

	switch node.Params.Execution {
	case string(EngineClaude):
		return EngineClaude
	case string(EngineDeterministic):
		return EngineDeterministic
	}

	switch cfg.Mode {
	case ModeDeterministic:
		return EngineDeterministic
	case ModeClaude:
		return EngineClaude
	}

	// Hybrid: route by role membership, default-deny.
	role := node.RoleID()
	for _, r := range cfg.Exclude {
		if r == role {
			return EngineDeterministic
		}
	}
	for _, r := range cfg.Include {
		if r == role {
			return EngineClaude
		}
	}
	return EngineDeterministic
}
