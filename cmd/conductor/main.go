// Package main is the entry point for the conductor CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/vinayprograms/agentkit/credentials"
	"gopkg.in/yaml.v3"

	"conductor/internal/graph"
	"conductor/internal/protocol"
	"conductor/internal/toolexec"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

// globalCreds holds loaded credentials (file > env fallback happens in
// GetAPIKey).
var globalCreds *credentials.Credentials

func init() {
	if creds, _, err := credentials.Load(); err == nil && creds != nil {
		globalCreds = creds
	}
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("conductor"),
		kong.Description("Capability execution core: engine routing, subagent sessions and tool execution."),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Run routes every node in a graph file and prints the decisions.
func (c *RouteCmd) Run() error {
	rt, err := buildRuntime(c.Config)
	if err != nil {
		return err
	}
	defer rt.close()

	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("reading graph file: %w", err)
	}
	var nodes []graph.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return fmt.Errorf("parsing graph file: %w", err)
	}

	for _, node := range nodes {
		engine := graph.SelectEngine(node, rt.cfg.Routing)
		fmt.Printf("%s\t%s\n", node.ID, engine)
	}
	return nil
}

// Run executes one gateway session from a request document.
func (c *RunCmd) Run() error {
	rt, err := buildRuntime(c.Config)
	if err != nil {
		return err
	}
	defer rt.close()

	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("reading request file: %w", err)
	}
	var req protocol.SubagentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing request file: %w", err)
	}

	provider, err := rt.provider()
	if err != nil {
		return err
	}

	result, err := rt.gatewayRunner(provider).Run(context.Background(), req)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// execRequest is the exec command's input document.
type execRequest struct {
	ToolRequest   protocol.ToolRequest `json:"tool_request"`
	SelectedTools []string             `json:"selected_tools,omitempty"`
}

// Run executes one tool request.
func (c *ExecCmd) Run() error {
	rt, err := buildRuntime(c.Config)
	if err != nil {
		return err
	}
	defer rt.close()

	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("reading tool request file: %w", err)
	}
	var req execRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing tool request file: %w", err)
	}

	executor, err := rt.toolExecutor()
	if err != nil {
		return err
	}

	runID := c.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	result, err := executor.Execute(context.Background(), toolexec.Request{
		Tenant:        c.Tenant,
		RunID:         runID,
		Tool:          req.ToolRequest,
		SelectedTools: req.SelectedTools,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

// Run prints version information.
func (c *VersionCmd) Run() error {
	fmt.Printf("conductor version %s (commit: %s)\n", version, commit)
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
