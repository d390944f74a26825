package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/agentkit/llm"

	"conductor/internal/events"
	"conductor/internal/protocol"
	"conductor/internal/transcript"
)

func newRunner(t *testing.T, provider llm.Provider, cfg Config) (*Runner, *transcript.Store) {
	t.Helper()
	store, err := transcript.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg.Transcripts = store
	return NewRunner(provider, cfg), store
}

func planResponse(toolRequestJSON string) string {
	if toolRequestJSON == "" {
		return `{"plan": ["summarize findings"], "tool_requests": []}`
	}
	return `{"plan": ["gather sources"], "tool_requests": [` + toolRequestJSON + `]}`
}

const searchToolJSON = `{"capability": "web.search", "purpose": "find sources",
	"input_spec": {"query": "golang", "count": 3}, "constraints": {"test_mode": true},
	"cost_estimate_usd": 0.01}`

const paymentsToolJSON = `{"capability": "payments.test", "purpose": "verify checkout",
	"input_spec": {"amount_cents": 100}, "cost_estimate_usd": 0.5}`

func TestRun_EndToEnd_NoEscalation(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse(planResponse(searchToolJSON))

	r, store := newRunner(t, provider, Config{})
	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID:    "A2.requirements_analyst",
		Goal:      "emit plan",
		SessionID: "sess-e2e",
	})
	if err != nil {
		t.Fatal(err)
	}

	if !result.OK {
		t.Errorf("ok=false, errors=%v", result.Errors)
	}
	if result.Steps != 1 {
		t.Errorf("steps = %d, want 1", result.Steps)
	}
	if result.Escalation != nil {
		t.Errorf("unexpected escalation: %+v", result.Escalation)
	}
	if result.Summary.PlanSteps != 1 || result.Summary.ToolRequests != 1 {
		t.Errorf("summary = %+v", result.Summary)
	}

	// The result document must be durable and inspectable.
	loaded, err := store.LoadResult("A2.requirements_analyst", "sess-e2e")
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.OK || loaded.Response == nil {
		t.Errorf("persisted result: %+v", loaded)
	}
	if loaded.Response.ToolRequests[0].Capability != "web.search" {
		t.Errorf("persisted response: %+v", loaded.Response)
	}
}

func TestRun_EndToEnd_Escalation(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse(planResponse(paymentsToolJSON))

	r, store := newRunner(t, provider, Config{})
	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID:    "A2.requirements_analyst",
		Goal:      "emit plan",
		SessionID: "sess-esc",
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.OK {
		t.Error("gated proposal without consent must not succeed")
	}
	found := false
	for _, e := range result.Errors {
		if e == protocol.EscalationReasonConsent {
			found = true
		}
	}
	if !found {
		t.Errorf("errors missing %s: %v", protocol.EscalationReasonConsent, result.Errors)
	}
	if result.ConsentState != protocol.ConsentPending {
		t.Errorf("consent state = %s", result.ConsentState)
	}

	esc, err := store.LoadEscalation("A2.requirements_analyst", "sess-esc")
	if err != nil {
		t.Fatalf("escalation file not written: %v", err)
	}
	if len(esc.ProposedTools) != 1 || esc.ProposedTools[0].Capability != "payments.test" {
		t.Errorf("proposed tools = %+v", esc.ProposedTools)
	}
	if len(esc.Resolution) != 2 {
		t.Errorf("resolution options = %v", esc.Resolution)
	}
}

func TestRun_EscalationConsentPair(t *testing.T) {
	// Identical inputs, with and without a consent token.
	run := func(token string) *protocol.SessionResult {
		provider := llm.NewMockProvider()
		provider.SetResponse(planResponse(paymentsToolJSON))
		r, _ := newRunner(t, provider, Config{})
		result, err := r.Run(context.Background(), protocol.SubagentRequest{
			RoleID:    "analyst",
			Goal:      "charge probe",
			SessionID: "sess-pair",
			Options:   protocol.Options{ConsentToken: token},
		})
		if err != nil {
			t.Fatal(err)
		}
		return result
	}

	without := run("")
	if without.OK || without.Escalation == nil {
		t.Errorf("no token: ok=%v escalation=%v", without.OK, without.Escalation)
	}

	with := run("consent-abc")
	if !with.OK {
		t.Errorf("with token: ok=false, errors=%v", with.Errors)
	}
	if with.Escalation != nil {
		t.Errorf("with token: unexpected escalation %+v", with.Escalation)
	}
	if with.ConsentState != protocol.ConsentGranted {
		t.Errorf("with token: consent state = %s", with.ConsentState)
	}
}

func TestRun_BoundedLoop(t *testing.T) {
	calls := 0
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		return &llm.ChatResponse{Content: planResponse(searchToolJSON)}, nil
	}

	r, _ := newRunner(t, provider, Config{})
	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID:  "analyst",
		Goal:    "emit plan",
		Options: protocol.Options{MaxSteps: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	if calls != 1 {
		t.Errorf("adapter invoked %d times, want exactly 1", calls)
	}
	if result.Steps != 1 {
		t.Errorf("steps = %d", result.Steps)
	}
}

func TestRun_ProtocolFailureAudit(t *testing.T) {
	const garbage = "I am sorry, I cannot produce JSON today."
	provider := llm.NewMockProvider()
	provider.SetResponse(garbage)

	r, store := newRunner(t, provider, Config{})
	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID:    "analyst",
		Goal:      "emit plan",
		SessionID: "sess-proto",
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.OK {
		t.Error("unparseable output must fail the session")
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "protocol error") {
		t.Errorf("errors = %v", result.Errors)
	}

	// The raw content must still be in the thread.
	msgs, err := store.Messages("analyst", "sess-proto")
	if err != nil {
		t.Fatal(err)
	}
	var sawRaw bool
	for _, m := range msgs {
		if m.Role == "assistant" && m.Content == garbage {
			sawRaw = true
		}
	}
	if !sawRaw {
		t.Error("raw assistant output missing from transcript")
	}
}

func TestRun_TranscriptPrologueAndOrdering(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse(planResponse(""))

	r, store := newRunner(t, provider, Config{})
	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID:    "analyst",
		Goal:      "emit plan",
		SessionID: "sess-thread",
		Context: protocol.RequestContext{
			Acceptance:          []string{"plan names a source"},
			AllowedCapabilities: []string{"web.search"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatalf("errors = %v", result.Errors)
	}

	msgs, err := store.Messages("analyst", "sess-thread")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("want system/user/assistant, got %d messages", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Role != "user" || msgs[2].Role != "assistant" {
		t.Errorf("roles = %s/%s/%s", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
	if !strings.Contains(msgs[1].Content, "emit plan") {
		t.Error("user payload missing the goal")
	}
	if !strings.Contains(msgs[1].Content, "tool_request_example") {
		t.Error("user payload missing the worked example")
	}
	if msgs[2].Step != 1 {
		t.Errorf("assistant step tag = %d", msgs[2].Step)
	}
	if result.TranscriptPath != store.ThreadPath("analyst", "sess-thread") {
		t.Errorf("transcript path = %s", result.TranscriptPath)
	}
}

func TestRun_InvalidRequestNoTranscript(t *testing.T) {
	provider := llm.NewMockProvider()
	r, store := newRunner(t, provider, Config{})

	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID:    "", // missing
		Goal:      "emit plan",
		SessionID: "sess-bad",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.OK || len(result.Errors) == 0 {
		t.Errorf("result = %+v", result)
	}
	if result.TranscriptPath != "" {
		t.Error("invalid request should not produce a transcript")
	}
	if _, err := store.Messages("", "sess-bad"); err == nil {
		t.Error("thread file written for invalid request")
	}
}

func TestRun_SchemaInvalidResponse(t *testing.T) {
	// Parseable JSON, but no plan: schema failure terminates.
	provider := llm.NewMockProvider()
	provider.SetResponse(`{"plan": [], "tool_requests": []}`)

	r, _ := newRunner(t, provider, Config{})
	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID: "analyst",
		Goal:   "emit plan",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.OK {
		t.Error("schema-invalid response must fail the session")
	}
}

func TestRun_SynthesizedDefaultToolRequest(t *testing.T) {
	// No tool_requests from the model, but the node context carries a
	// single capability.
	provider := llm.NewMockProvider()
	provider.SetResponse(planResponse(""))

	r, _ := newRunner(t, provider, Config{})
	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID: "analyst",
		Goal:   "audit the landing page",
		Context: protocol.RequestContext{
			Node: map[string]interface{}{"capability": "web.fetch", "url": "https://example.com"},
		},
		Options: protocol.Options{TestMode: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatalf("errors = %v", result.Errors)
	}
	if result.Summary.ToolRequests != 1 {
		t.Fatalf("summary = %+v", result.Summary)
	}
	tr := result.Response.ToolRequests[0]
	if tr.Capability != "web.fetch" || !tr.Constraints.TestMode {
		t.Errorf("synthesized request = %+v", tr)
	}
}

func TestRun_CostBudgetExceeded(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse(planResponse(searchToolJSON))

	r, _ := newRunner(t, provider, Config{
		Spend: func() float64 { return 9.75 },
	})
	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID:  "analyst",
		Goal:    "emit plan",
		Options: protocol.Options{MaxCostUSD: 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.OK {
		t.Error("overspent session must fail")
	}
	var budget bool
	for _, e := range result.Errors {
		if strings.Contains(e, "budget exceeded") {
			budget = true
		}
	}
	if !budget {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestRun_TimeBudgetExceeded(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		time.Sleep(50 * time.Millisecond)
		return &llm.ChatResponse{Content: planResponse(searchToolJSON)}, nil
	}

	r, _ := newRunner(t, provider, Config{})
	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID:  "analyst",
		Goal:    "emit plan",
		Options: protocol.Options{MaxSeconds: 0.001},
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.OK {
		t.Error("session past its wall-clock budget must fail")
	}
	var budget bool
	for _, e := range result.Errors {
		if strings.Contains(e, "budget exceeded") && strings.Contains(e, "wall clock") {
			budget = true
		}
	}
	if !budget {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestRun_AdapterErrorCaptured(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, context.DeadlineExceeded
	}

	r, store := newRunner(t, provider, Config{})
	result, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID:    "analyst",
		Goal:      "emit plan",
		SessionID: "sess-adapter",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.OK {
		t.Error("adapter failure must fail the session")
	}

	// Even on failure the result document is written.
	if _, err := store.LoadResult("analyst", "sess-adapter"); err != nil {
		t.Errorf("result not persisted on failure: %v", err)
	}
}

func TestRun_EmitsEvents(t *testing.T) {
	path := t.TempDir() + "/events.jsonl"
	log, err := events.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	provider := llm.NewMockProvider()
	provider.SetResponse(planResponse(searchToolJSON))

	r, _ := newRunner(t, provider, Config{Events: log})
	if _, err := r.Run(context.Background(), protocol.SubagentRequest{
		RoleID: "analyst",
		Goal:   "emit plan",
	}); err != nil {
		t.Fatal(err)
	}

	msgs, err := transcriptNames(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{events.SessionStart, events.PlanUpdated, events.SessionEnd}
	if len(msgs) != len(want) {
		t.Fatalf("events = %v", msgs)
	}
	for i, name := range want {
		if msgs[i] != name {
			t.Errorf("event[%d] = %s, want %s", i, msgs[i], name)
		}
	}
}
