// Package events provides the shared append-only observability stream.
// Every component writes named events to one JSONL file; the stream can
// additionally be mirrored to NATS and to an OTLP telemetry exporter.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/telemetry"
)

// Event names emitted by the execution core.
const (
	SessionStart     = "session_start"
	PlanUpdated      = "plan_updated"
	EscalationRaised = "escalation_raised"
	SessionEnd       = "session_end"
	ToolExecute      = "tool_execute"
	ToolFallback     = "tool_fallback"
	CacheHit         = "cache_hit"
)

// Event is one line in the stream.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Name      string                 `json:"event_name"`
	Module    string                 `json:"module"`
	RoleID    string                 `json:"role_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Log appends events to a single shared JSONL file. Safe for concurrent
// use within one process.
type Log struct {
	mu       sync.Mutex
	f        *os.File
	nc       *nats.Conn
	subject  string
	exporter telemetry.Exporter
}

// Open opens (or creates) the event log at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &Log{f: f}, nil
}

// AttachNATS mirrors every event to a NATS subject.
func (l *Log) AttachNATS(nc *nats.Conn, subject string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nc = nc
	l.subject = subject
}

// AttachTelemetry mirrors every event to a telemetry exporter.
func (l *Log) AttachTelemetry(exp telemetry.Exporter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exporter = exp
}

// Emit appends one event. The timestamp is stamped here if unset.
// Mirror failures are not fatal: the file append is the durable record.
func (l *Log) Emit(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", ev.Name, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending event %s: %w", ev.Name, err)
	}

	if l.nc != nil {
		// Best effort; the subscriber may be down.
		_ = l.nc.Publish(l.subject, data)
	}
	if l.exporter != nil {
		fields := map[string]interface{}{
			"module":     ev.Module,
			"role_id":    ev.RoleID,
			"session_id": ev.SessionID,
		}
		for k, v := range ev.Fields {
			fields[k] = v
		}
		l.exporter.LogEvent(ev.Name, fields)
	}
	return nil
}

// Close closes the underlying file. Mirrors are owned by the caller.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
