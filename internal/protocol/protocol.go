// Package protocol defines the wire schemas exchanged with the subagent:
// requests, responses, tool requests, escalations and session results.
// Everything the gateway and tool executor act on validates here first.
package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session-level taxonomy. Callers match with
// errors.Is; the gateway folds them into the session result instead of
// letting them cross its boundary.
var (
	// ErrProtocol marks non-parseable or schema-invalid model output.
	ErrProtocol = errors.New("protocol error")

	// ErrBudgetExceeded marks a time or cost ceiling breach.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrConsentRequired marks a gated capability proposed without consent.
	ErrConsentRequired = errors.New("secondary_consent_required")
)

// EscalationReasonConsent is the only escalation reason currently defined.
const EscalationReasonConsent = "secondary_consent_required"

// Consent states recorded in a SessionResult.
const (
	ConsentGranted     = "granted"
	ConsentNotRequired = "not_required"
	ConsentPending     = "pending"
)

// Options bound a gateway session. Zero values mean "use the
// environment default" and are overlaid by the gateway.
type Options struct {
	MaxSteps         int     `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	MaxSeconds       float64 `json:"max_seconds,omitempty" yaml:"max_seconds,omitempty"`
	MaxCostUSD       float64 `json:"max_cost_usd,omitempty" yaml:"max_cost_usd,omitempty"`
	TestMode         bool    `json:"test_mode,omitempty" yaml:"test_mode,omitempty"`
	SecondaryConsent bool    `json:"secondary_consent,omitempty" yaml:"secondary_consent,omitempty"`
	ConsentToken     string  `json:"consent_token,omitempty" yaml:"consent_token,omitempty"`
}

// HasConsent reports whether the caller authorized gated capabilities.
func (o Options) HasConsent() bool {
	return o.SecondaryConsent || o.ConsentToken != ""
}

// RequestContext carries everything the subagent needs to plan: the
// acceptance bar, what it may propose, and where artifacts land.
type RequestContext struct {
	Acceptance          []string               `json:"acceptance,omitempty" yaml:"acceptance,omitempty"`
	AllowedCapabilities []string               `json:"allowed_capabilities,omitempty" yaml:"allowed_capabilities,omitempty"`
	ArtifactDir         string                 `json:"artifact_dir,omitempty" yaml:"artifact_dir,omitempty"`
	Node                map[string]interface{} `json:"node,omitempty" yaml:"node,omitempty"`
}

// NodeCapability extracts the single capability from the node context,
// if the upstream graph supplied one.
func (c RequestContext) NodeCapability() string {
	if c.Node == nil {
		return ""
	}
	if cap, ok := c.Node["capability"].(string); ok {
		return cap
	}
	return ""
}

// SubagentRequest is one gateway invocation. Only its derived
// transcript and result are persisted, never the request itself.
type SubagentRequest struct {
	RoleID    string         `json:"role_id" yaml:"role_id"`
	Goal      string         `json:"goal" yaml:"goal"`
	Context   RequestContext `json:"context" yaml:"context"`
	Options   Options        `json:"options" yaml:"options"`
	SessionID string         `json:"session_id,omitempty" yaml:"session_id,omitempty"`
}

// ValidateRequest checks a request against the request schema.
func ValidateRequest(req SubagentRequest) error {
	if req.RoleID == "" {
		return fmt.Errorf("%w: request missing role_id", ErrProtocol)
	}
	if req.Goal == "" {
		return fmt.Errorf("%w: request missing goal", ErrProtocol)
	}
	if req.Options.MaxSteps < 0 || req.Options.MaxSeconds < 0 || req.Options.MaxCostUSD < 0 {
		return fmt.Errorf("%w: negative budget option", ErrProtocol)
	}
	return nil
}

// Constraints restrict a single tool request.
type Constraints struct {
	TestMode    bool    `json:"test_mode,omitempty"`
	MaxCostUSD  float64 `json:"max_cost_usd,omitempty"`
	SideEffects string  `json:"side_effects,omitempty"`
}

// ToolRequest is one proposed capability invocation. Immutable once
// proposed.
type ToolRequest struct {
	Capability        string                 `json:"capability"`
	Purpose           string                 `json:"purpose,omitempty"`
	InputSpec         map[string]interface{} `json:"input_spec,omitempty"`
	ExpectedArtifacts []string               `json:"expected_artifacts,omitempty"`
	Constraints       Constraints            `json:"constraints,omitempty"`
	Acceptance        []string               `json:"acceptance,omitempty"`
	CostEstimateUSD   float64                `json:"cost_estimate_usd,omitempty"`
}

// SubagentResponse is one planning step from the reasoning adapter.
type SubagentResponse struct {
	Plan         []string      `json:"plan"`
	ToolRequests []ToolRequest `json:"tool_requests"`
}

// ValidateResponse checks a parsed response against the response schema.
func ValidateResponse(resp *SubagentResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: nil response", ErrProtocol)
	}
	if len(resp.Plan) == 0 {
		return fmt.Errorf("%w: response missing plan", ErrProtocol)
	}
	for i, step := range resp.Plan {
		if step == "" {
			return fmt.Errorf("%w: empty plan step at index %d", ErrProtocol, i)
		}
	}
	for i, tr := range resp.ToolRequests {
		if tr.Capability == "" {
			return fmt.Errorf("%w: tool_request[%d] missing capability", ErrProtocol, i)
		}
		if tr.CostEstimateUSD < 0 {
			return fmt.Errorf("%w: tool_request[%d] negative cost estimate", ErrProtocol, i)
		}
	}
	return nil
}

// ProposedTool summarizes one gated tool inside an escalation.
type ProposedTool struct {
	Capability       string  `json:"capability"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Rationale        string  `json:"rationale,omitempty"`
}

// Escalation is the pending-decision terminal record for a session that
// proposed gated capabilities without consent. Written once, never
// mutated.
type Escalation struct {
	Reason        string         `json:"reason"`
	Description   string         `json:"description"`
	ProposedTools []ProposedTool `json:"proposed_tools"`
	Resolution    []string       `json:"resolution"`
	SessionID     string         `json:"session_id"`
}

// NewConsentEscalation builds the escalation record for gated tool
// requests, including both resolution paths.
func NewConsentEscalation(sessionID string, gated []ToolRequest) *Escalation {
	tools := make([]ProposedTool, 0, len(gated))
	for _, tr := range gated {
		tools = append(tools, ProposedTool{
			Capability:       tr.Capability,
			EstimatedCostUSD: tr.CostEstimateUSD,
			Rationale:        tr.Purpose,
		})
	}
	return &Escalation{
		Reason:      EscalationReasonConsent,
		Description: "proposed tool requests include consent-gated capabilities; no consent token was supplied",
		Resolution: []string{
			"re-run the session with options.consent_token (or options.secondary_consent) set",
			"revise the goal or allowed capabilities so no gated capability is required",
		},
		ProposedTools: tools,
		SessionID:     sessionID,
	}
}

// ResultSummary condenses the accepted response for the session result.
type ResultSummary struct {
	PlanSteps    int `json:"plan_steps"`
	ToolRequests int `json:"tool_requests"`
}

// SessionResult is the terminal summary of one gateway session. Written
// once at loop exit; overwritten only if the same session re-runs.
type SessionResult struct {
	OK             bool              `json:"ok"`
	Errors         []string          `json:"errors"`
	Steps          int               `json:"steps"`
	ConsentState   string            `json:"consent_state"`
	Summary        ResultSummary     `json:"summary"`
	Response       *SubagentResponse `json:"response"`
	Escalation     *Escalation       `json:"escalation"`
	TranscriptPath string            `json:"transcript_path,omitempty"`
}
