// Runtime wiring: config, storage, event mirrors and the provider.
package main

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/telemetry"

	"conductor/internal/cache"
	"conductor/internal/config"
	"conductor/internal/events"
	"conductor/internal/gateway"
	"conductor/internal/protocol"
	"conductor/internal/toolexec"
	"conductor/internal/transcript"
)

// runtime holds the wired collaborators for one command invocation.
type runtime struct {
	cfg         *config.Config
	transcripts *transcript.Store
	eventLog    *events.Log
	exporter    telemetry.Exporter
	natsConn    *nats.Conn
}

// buildRuntime loads config and opens storage and event mirrors.
func buildRuntime(configPath string) (*runtime, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	transcripts, err := transcript.NewStore(cfg.Storage.AgentsRoot)
	if err != nil {
		return nil, err
	}

	eventLog, err := events.Open(cfg.Storage.EventsPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, transcripts: transcripts, eventLog: eventLog}

	if cfg.Telemetry.Enabled {
		exp, err := telemetry.NewExporter(cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("creating telemetry exporter: %w", err)
		}
		rt.exporter = exp
	} else {
		rt.exporter = telemetry.NewNoopExporter()
	}
	eventLog.AttachTelemetry(rt.exporter)

	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connecting event mirror: %w", err)
		}
		rt.natsConn = nc
		eventLog.AttachNATS(nc, cfg.Events.NATSSubject)
	}

	return rt, nil
}

// close releases the runtime's resources.
func (rt *runtime) close() {
	if rt.natsConn != nil {
		rt.natsConn.Close()
	}
	if rt.exporter != nil {
		rt.exporter.Close()
	}
	rt.eventLog.Close()
}

// provider builds the reasoning provider. Test mode uses the mock with
// a fixed done-response so sessions run fully offline.
func (rt *runtime) provider() (llm.Provider, error) {
	if rt.cfg.Executor.TestMode {
		mock := llm.NewMockProvider()
		mock.SetResponse(`{"plan": ["complete the goal directly"], "tool_requests": []}`)
		return mock, nil
	}

	name := rt.cfg.LLM.Provider
	if name == "" {
		name = llm.InferProviderFromModel(rt.cfg.LLM.Model)
	}
	if name == "" && rt.cfg.LLM.Model == "" {
		return nil, fmt.Errorf("LLM model not configured")
	}

	apiKey := rt.cfg.GetAPIKey()
	if globalCreds != nil && apiKey == "" {
		apiKey = globalCreds.GetAPIKey(name)
	}

	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  name,
		Model:     rt.cfg.LLM.Model,
		APIKey:    apiKey,
		MaxTokens: rt.cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	return provider, nil
}

// gatewayRunner wires a gateway runner from the runtime.
func (rt *runtime) gatewayRunner(provider llm.Provider) *gateway.Runner {
	return gateway.NewRunner(provider, gateway.Config{
		Transcripts: rt.transcripts,
		Events:      rt.eventLog,
		Gated:       protocol.NewGatedSet(rt.cfg.Protocol.GatedCapabilities),
		Defaults: protocol.Options{
			MaxSteps:   rt.cfg.Budgets.MaxSteps,
			MaxSeconds: rt.cfg.Budgets.MaxSeconds,
			MaxCostUSD: rt.cfg.Budgets.MaxCostUSD,
			TestMode:   rt.cfg.Executor.TestMode,
		},
	})
}

// toolExecutor wires a tool executor from the runtime.
func (rt *runtime) toolExecutor() (*toolexec.Executor, error) {
	store, err := cache.NewFileStore(rt.cfg.Executor.CacheRoot, rt.cfg.Executor.CacheLRUSize)
	if err != nil {
		return nil, err
	}

	registry := toolexec.DefaultRegistry()
	if rt.cfg.Executor.AllowPlaceholder {
		registry.AllowPlaceholder()
	}

	var creds toolexec.Credentials
	if globalCreds != nil {
		creds = globalCreds
	}
	return toolexec.New(store, registry, toolexec.Options{
		ArtifactRoot: rt.cfg.Executor.ArtifactRoot,
		TestMode:     rt.cfg.Executor.TestMode,
		Credentials:  creds,
		Events:       rt.eventLog,
	}), nil
}
