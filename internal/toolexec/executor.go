// Package toolexec dispatches validated tool requests to capability
// handlers, with a content-addressed per-tenant cache, test/live mode
// duality, bounded retries and redaction.
package toolexec

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"conductor/internal/cache"
	"conductor/internal/events"
	"conductor/internal/protocol"
)

// Executor-level sentinel errors.
var (
	// ErrUnregisteredCapability is returned when no handler is bound to
	// a capability and the placeholder handler is not enabled.
	ErrUnregisteredCapability = errors.New("unregistered capability")

	// ErrCredentialMissing is returned when a live-mode handler runs
	// without its provider credential. Never downgraded to test mode.
	ErrCredentialMissing = errors.New("credential missing")
)

// Credentials resolves provider API keys. Satisfied by
// agentkit/credentials.Credentials; tests supply a map-backed fake.
type Credentials interface {
	GetAPIKey(provider string) string
}

// Request is one tool execution, scoped to a tenant and run.
type Request struct {
	Tenant        string
	RunID         string
	Tool          protocol.ToolRequest
	SelectedTools []string
}

// Result is the normalized execution outcome.
type Result struct {
	Capability string                 `json:"capability"`
	Cached     bool                   `json:"cached"`
	Artifacts  []string               `json:"artifacts"`
	Outputs    map[string]interface{} `json:"outputs"`
}

// Invocation is the context a handler executes in.
type Invocation struct {
	Tenant      string
	RunID       string
	Tool        protocol.ToolRequest
	TestMode    bool
	ArtifactDir string
	Redactor    *Redactor
	Credentials Credentials
	HTTP        *http.Client
}

// Handler executes one capability. Implementations are independent
// units; each decides its own test-mode and live-mode behavior.
type Handler interface {
	Capability() string
	Execute(ctx context.Context, inv Invocation) (artifacts []string, outputs map[string]interface{}, err error)
}

// Registry maps capability strings to handlers, resolved at startup so
// unknown capabilities fail fast.
type Registry struct {
	handlers         map[string]Handler
	allowPlaceholder bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to its capability. Later registrations win.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Capability()] = h
}

// AllowPlaceholder enables the no-op fallback handler for capabilities
// without a dedicated implementation. Off by default: unknown
// capabilities are an error unless the host explicitly opts in.
func (r *Registry) AllowPlaceholder() {
	r.allowPlaceholder = true
}

// Resolve returns the handler for a capability.
func (r *Registry) Resolve(capability string) (Handler, error) {
	if h, ok := r.handlers[capability]; ok {
		return h, nil
	}
	if r.allowPlaceholder {
		return placeholderHandler{capability: capability}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnregisteredCapability, capability)
}

// Options configure an Executor.
type Options struct {
	ArtifactRoot string
	TestMode     bool
	Credentials  Credentials
	Events       *events.Log
	HTTPClient   *http.Client
}

// Executor runs tool requests through the cache and handler registry.
type Executor struct {
	cache    cache.Store
	registry *Registry
	opts     Options
	logger   *logging.Logger
}

// New creates an executor. The cache store and registry are required;
// events and credentials are optional.
func New(store cache.Store, registry *Registry, opts Options) *Executor {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Executor{
		cache:    store,
		registry: registry,
		opts:     opts,
		logger:   logging.New().WithComponent("toolexec"),
	}
}

// Execute runs one tool request: cache probe, handler dispatch on miss,
// cache write-back. Artifacts are always written before the cache entry
// that references them.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	capability := req.Tool.Capability
	keyHash := KeyHash(capability, req.Tool.InputSpec, req.SelectedTools)

	ctx, span := e.startToolSpan(ctx, capability, req.Tenant, keyHash)

	if entry, ok, err := e.cache.Get(req.Tenant, capability, keyHash); err == nil && ok {
		if artifactsExist(entry.Artifacts) {
			e.emit(events.CacheHit, req, map[string]interface{}{
				"capability": capability,
				"key_hash":   keyHash,
			})
			e.endToolSpan(span, true, nil)
			return &Result{
				Capability: entry.Capability,
				Cached:     true,
				Artifacts:  entry.Artifacts,
				Outputs:    entry.Outputs,
			}, nil
		}
		// A listed artifact vanished: stale entry, treat as a miss and
		// recompute. Never an error.
		e.logger.Debug("stale cache entry, recomputing", map[string]interface{}{
			"capability": capability,
			"key_hash":   keyHash,
		})
	}

	handler, err := e.registry.Resolve(capability)
	if err != nil {
		e.endToolSpan(span, false, err)
		return nil, err
	}

	inv := Invocation{
		Tenant:      req.Tenant,
		RunID:       req.RunID,
		Tool:        req.Tool,
		TestMode:    e.opts.TestMode || req.Tool.Constraints.TestMode,
		ArtifactDir: filepath.Join(e.opts.ArtifactRoot, cache.NormalizeTenant(req.Tenant), req.RunID),
		Redactor:    NewRedactor(req.Tenant),
		Credentials: e.opts.Credentials,
		HTTP:        e.opts.HTTPClient,
	}
	if err := os.MkdirAll(inv.ArtifactDir, 0755); err != nil {
		e.endToolSpan(span, false, err)
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	start := time.Now()
	artifacts, outputs, err := handler.Execute(ctx, inv)
	if err != nil {
		e.endToolSpan(span, false, err)
		return nil, fmt.Errorf("executing %s: %w", capability, err)
	}
	if outputs == nil {
		outputs = map[string]interface{}{}
	}

	if fb, ok := outputs["fallback"].(bool); ok && fb {
		e.emit(events.ToolFallback, req, map[string]interface{}{
			"capability": capability,
			"reason":     outputs["fallback_reason"],
		})
	}

	entry := &cache.Entry{Capability: capability, Artifacts: artifacts, Outputs: outputs}
	if err := e.cache.Put(req.Tenant, capability, keyHash, entry); err != nil {
		e.endToolSpan(span, false, err)
		return nil, fmt.Errorf("caching %s result: %w", capability, err)
	}

	e.emit(events.ToolExecute, req, map[string]interface{}{
		"capability":  capability,
		"key_hash":    keyHash,
		"test_mode":   inv.TestMode,
		"artifacts":   len(artifacts),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	e.endToolSpan(span, false, nil)

	return &Result{
		Capability: capability,
		Cached:     false,
		Artifacts:  artifacts,
		Outputs:    outputs,
	}, nil
}

// emit writes an observability event if a log is attached.
func (e *Executor) emit(name string, req Request, fields map[string]interface{}) {
	if e.opts.Events == nil {
		return
	}
	fields["tenant"] = cache.NormalizeTenant(req.Tenant)
	fields["run_id"] = req.RunID
	if err := e.opts.Events.Emit(events.Event{Name: name, Module: "toolexec", Fields: fields}); err != nil {
		e.logger.Warn("event emit failed", map[string]interface{}{"event": name, "error": err.Error()})
	}
}

// artifactsExist reports whether every listed artifact is still on disk.
func artifactsExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// placeholderHandler writes trivial files for each expected artifact so
// downstream existence checks pass. Only reachable when the registry
// explicitly allows it.
type placeholderHandler struct {
	capability string
}

func (h placeholderHandler) Capability() string { return h.capability }

func (h placeholderHandler) Execute(_ context.Context, inv Invocation) ([]string, map[string]interface{}, error) {
	var artifacts []string
	for _, rel := range inv.Tool.ExpectedArtifacts {
		path := filepath.Join(inv.ArtifactDir, filepath.Base(rel))
		content := fmt.Sprintf("placeholder artifact for %s\n", h.capability)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return nil, nil, fmt.Errorf("writing placeholder artifact: %w", err)
		}
		artifacts = append(artifacts, path)
	}
	return artifacts, map[string]interface{}{"placeholder": true}, nil
}
