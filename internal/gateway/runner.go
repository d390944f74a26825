// Package gateway runs the bounded subagent planning session: one
// schema-validated plan/propose pass with budget enforcement, consent
// escalation, durable transcripts and a terminal session result.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"conductor/internal/events"
	"conductor/internal/protocol"
	"conductor/internal/transcript"
)

// State is the session state machine. A session starts in Planning and
// takes exactly one transition out: tool execution and any re-planning
// with tool results happen in a later phase outside this gateway, so
// this is a deliberate one-shot "plan, then hand off" contract.
type State string

const (
	StatePlanning  State = "planning"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateEscalated State = "escalated"
)

// Default budgets applied when neither the request nor the host config
// supplies one.
const (
	DefaultMaxSteps   = 3
	DefaultMaxSeconds = 120.0
	DefaultMaxCostUSD = 5.0
)

// SpendFn reports the cost accumulated so far by the execution layer.
// The gateway checks it between steps; it never computes costs itself.
type SpendFn func() float64

// Config wires a Runner's collaborators.
type Config struct {
	Transcripts *transcript.Store
	Events      *events.Log
	Gated       *protocol.GatedSet
	Defaults    protocol.Options
	Spend       SpendFn
}

// Runner executes subagent sessions against a reasoning provider.
type Runner struct {
	provider    llm.Provider
	transcripts *transcript.Store
	events      *events.Log
	gated       *protocol.GatedSet
	defaults    protocol.Options
	spend       SpendFn
	logger      *logging.Logger
}

// NewRunner creates a gateway runner. The provider and transcript store
// are required; a nil gated set falls back to the default gate.
func NewRunner(provider llm.Provider, cfg Config) *Runner {
	gated := cfg.Gated
	if gated == nil {
		gated = protocol.NewGatedSet(nil)
	}
	return &Runner{
		provider:    provider,
		transcripts: cfg.Transcripts,
		events:      cfg.Events,
		gated:       gated,
		defaults:    cfg.Defaults,
		spend:       cfg.Spend,
		logger:      logging.New().WithComponent("gateway"),
	}
}

// effectiveOptions overlays request options onto configured defaults.
func (r *Runner) effectiveOptions(o protocol.Options) protocol.Options {
	out := o
	if out.MaxSteps == 0 {
		out.MaxSteps = r.defaults.MaxSteps
	}
	if out.MaxSteps == 0 {
		out.MaxSteps = DefaultMaxSteps
	}
	if out.MaxSeconds == 0 {
		out.MaxSeconds = r.defaults.MaxSeconds
	}
	if out.MaxSeconds == 0 {
		out.MaxSeconds = DefaultMaxSeconds
	}
	if out.MaxCostUSD == 0 {
		out.MaxCostUSD = r.defaults.MaxCostUSD
	}
	if out.MaxCostUSD == 0 {
		out.MaxCostUSD = DefaultMaxCostUSD
	}
	if !out.TestMode {
		out.TestMode = r.defaults.TestMode
	}
	return out
}

// Run executes one session. Session-level failures (protocol, budget,
// consent) are captured in the result, never returned as errors; the
// error return is reserved for persistence failures that would lose the
// audit trail.
func (r *Runner) Run(ctx context.Context, req protocol.SubagentRequest) (*protocol.SessionResult, error) {
	result := &protocol.SessionResult{
		Errors:       []string{},
		ConsentState: protocol.ConsentNotRequired,
	}

	if err := protocol.ValidateRequest(req); err != nil {
		// Invalid requests never produce a transcript.
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	opts := r.effectiveOptions(req.Options)
	if opts.HasConsent() {
		result.ConsentState = protocol.ConsentGranted
	}

	ctx, span := r.startSessionSpan(ctx, req.RoleID, sessionID)
	start := time.Now()

	systemMsg := buildSystemPrompt(req.RoleID, r.gated)
	userMsg, err := buildUserPayload(req, opts)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%v: %v", protocol.ErrProtocol, err))
		r.endSessionSpan(span, StateFailed, nil)
		return result, nil
	}

	// Both prologue messages land in the transcript before the first
	// reasoning step, so the record survives an immediate failure.
	if err := r.append(req.RoleID, sessionID, transcript.Message{Role: "system", Content: systemMsg}); err != nil {
		r.endSessionSpan(span, StateFailed, err)
		return result, err
	}
	if err := r.append(req.RoleID, sessionID, transcript.Message{Role: "user", Content: userMsg}); err != nil {
		r.endSessionSpan(span, StateFailed, err)
		return result, err
	}
	result.TranscriptPath = r.transcripts.ThreadPath(req.RoleID, sessionID)

	r.emit(events.SessionStart, req.RoleID, sessionID, map[string]interface{}{
		"goal":      req.Goal,
		"max_steps": opts.MaxSteps,
		"test_mode": opts.TestMode,
	})

	history := []llm.Message{
		{Role: "system", Content: systemMsg},
		{Role: "user", Content: userMsg},
	}

	state := StatePlanning
	for state == StatePlanning && result.Steps < opts.MaxSteps {
		result.Steps++
		state = r.step(ctx, req, sessionID, opts, history, result, start)
	}
	if state == StatePlanning {
		result.Errors = append(result.Errors,
			fmt.Sprintf("%v: step budget (%d) exhausted without an accepted plan", protocol.ErrBudgetExceeded, opts.MaxSteps))
		state = StateFailed
	}

	result.OK = state == StateSucceeded

	if err := r.transcripts.WriteResult(req.RoleID, sessionID, result); err != nil {
		r.endSessionSpan(span, state, err)
		return result, fmt.Errorf("writing session result: %w", err)
	}

	r.emit(events.SessionEnd, req.RoleID, sessionID, map[string]interface{}{
		"state":       string(state),
		"steps":       result.Steps,
		"errors":      len(result.Errors),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	r.endSessionSpan(span, state, nil)

	return result, nil
}

// step performs one reasoning pass and returns the next state.
func (r *Runner) step(ctx context.Context, req protocol.SubagentRequest, sessionID string, opts protocol.Options, history []llm.Message, result *protocol.SessionResult, start time.Time) State {
	resp, err := r.provider.Chat(ctx, llm.ChatRequest{Messages: history})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("adapter failure: %v", err))
		return StateFailed
	}

	// The raw output is appended before parsing: a protocol failure must
	// still be auditable from the thread.
	if err := r.append(req.RoleID, sessionID, transcript.Message{
		Role:    "assistant",
		Content: resp.Content,
		Step:    result.Steps,
	}); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("transcript append failed: %v", err))
		return StateFailed
	}

	parsed, err := protocol.ParseResponse(resp.Content)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return StateFailed
	}

	// Single-capability nodes get a synthesized default tool request
	// when the model proposes none: a convenience for minimal round
	// trips, not a substitute for planning.
	if len(parsed.ToolRequests) == 0 {
		if capability := req.Context.NodeCapability(); capability != "" {
			parsed.ToolRequests = []protocol.ToolRequest{{
				Capability: capability,
				Purpose:    req.Goal,
				InputSpec:  req.Context.Node,
				Constraints: protocol.Constraints{
					TestMode:   opts.TestMode,
					MaxCostUSD: opts.MaxCostUSD,
				},
			}}
		}
	}

	if err := protocol.ValidateResponse(parsed); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return StateFailed
	}

	if gated := r.gated.Filter(parsed.ToolRequests); len(gated) > 0 && !opts.HasConsent() {
		esc := protocol.NewConsentEscalation(sessionID, gated)
		if err := r.transcripts.WriteEscalation(req.RoleID, sessionID, esc); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("writing escalation: %v", err))
			return StateFailed
		}
		r.emit(events.EscalationRaised, req.RoleID, sessionID, map[string]interface{}{
			"reason":         esc.Reason,
			"proposed_tools": len(esc.ProposedTools),
		})
		result.Escalation = esc
		result.Errors = append(result.Errors, protocol.ErrConsentRequired.Error())
		result.ConsentState = protocol.ConsentPending
		return StateEscalated
	}

	result.Response = parsed
	result.Summary = protocol.ResultSummary{
		PlanSteps:    len(parsed.Plan),
		ToolRequests: len(parsed.ToolRequests),
	}
	r.emit(events.PlanUpdated, req.RoleID, sessionID, map[string]interface{}{
		"plan_steps":    len(parsed.Plan),
		"tool_requests": len(parsed.ToolRequests),
	})

	// No proposed tools is the model's "done" signal.
	if len(parsed.ToolRequests) == 0 {
		return StateSucceeded
	}

	if elapsed := time.Since(start).Seconds(); elapsed > opts.MaxSeconds {
		result.Errors = append(result.Errors,
			fmt.Sprintf("%v: wall clock %.1fs exceeds max %.1fs", protocol.ErrBudgetExceeded, elapsed, opts.MaxSeconds))
		return StateFailed
	}
	if r.spend != nil {
		if spent := r.spend(); spent > opts.MaxCostUSD {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%v: accumulated cost $%.2f exceeds max $%.2f", protocol.ErrBudgetExceeded, spent, opts.MaxCostUSD))
			return StateFailed
		}
	}

	// Accepted plan with tool requests: hand off to the execution phase.
	return StateSucceeded
}

func (r *Runner) append(roleID, sessionID string, msg transcript.Message) error {
	return r.transcripts.Append(roleID, sessionID, msg)
}

func (r *Runner) emit(name, roleID, sessionID string, fields map[string]interface{}) {
	if r.events == nil {
		return
	}
	err := r.events.Emit(events.Event{
		Name:      name,
		Module:    "gateway",
		RoleID:    roleID,
		SessionID: sessionID,
		Fields:    fields,
	})
	if err != nil {
		r.logger.Warn("event emit failed", map[string]interface{}{"event": name, "error": err.Error()})
	}
}
