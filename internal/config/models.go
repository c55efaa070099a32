// Package config parses and validates the gateway's declarative server list.
package config

// ServerSpec is the declarative description of one child MCP server.
type ServerSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Equal reports whether two ServerSpecs describe the same child process.
// Equality drives the added/removed/changed decision on reload.
func (s ServerSpec) Equal(o ServerSpec) bool {
	if s.Command != o.Command {
		return false
	}
	if len(s.Args) != len(o.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	if len(s.Env) != len(o.Env) {
		return false
	}
	for k, v := range s.Env {
		if ov, ok := o.Env[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Config is the full set of named child servers the gateway should mount.
type Config struct {
	Servers map[string]ServerSpec
}

// document is the on-disk JSON shape: {"mcpServers": {...}}.
type document struct {
	MCPServers map[string]rawServerSpec `json:"mcpServers"`
}

type rawServerSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}
