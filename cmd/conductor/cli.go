// Package main defines the CLI structure using kong.
package main

// CLI defines the command-line interface.
type CLI struct {
	Route   RouteCmd   `cmd:"" help:"Select the engine for each node in a graph file"`
	Run     RunCmd     `cmd:"" help:"Run a subagent gateway session"`
	Exec    ExecCmd    `cmd:"" help:"Execute a tool request"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RouteCmd routes graph nodes to engines.
type RouteCmd struct {
	File   string `arg:"" help:"Graph YAML file (list of nodes)"`
	Config string `help:"Config file path"`
}

// RunCmd runs one gateway session from a request document.
type RunCmd struct {
	File   string `arg:"" help:"SubagentRequest JSON file"`
	Config string `help:"Config file path"`
}

// ExecCmd executes one tool request.
type ExecCmd struct {
	File   string `arg:"" help:"Tool execution request JSON file"`
	Tenant string `default:"default" help:"Tenant identifier"`
	RunID  string `name:"run" help:"Run identifier (generated if empty)"`
	Config string `help:"Config file path"`
}

// VersionCmd shows version information.
type VersionCmd struct{}
