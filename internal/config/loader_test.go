package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mcphub.jsonc")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeTemp(t, `{
		// trailing comment
		"mcpServers": {
			"srv1": {"command": "echo", "args": ["hello"], "env": {"FOO": "bar"}}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	spec, ok := cfg.Servers["srv1"]
	if !ok {
		t.Fatalf("expected srv1 in config")
	}
	if spec.Command != "echo" || len(spec.Args) != 1 || spec.Args[0] != "hello" {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	if spec.Env["FOO"] != "bar" {
		t.Fatalf("unexpected env: %+v", spec.Env)
	}
}

func TestLoadEmptyServersRejected(t *testing.T) {
	path := writeTemp(t, `{ "mcpServers": {} }`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty mcpServers")
	} else if lerr, ok := err.(*LoadError); !ok || lerr.Kind != ErrSchemaViolation {
		t.Fatalf("expected schema-violation, got %v", err)
	}
}

func TestLoadMissingCommand(t *testing.T) {
	path := writeTemp(t, `{ "mcpServers": { "srv1": {"args": ["x"]} } }`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing command")
	}
}

func TestLoadInvalidSyntax(t *testing.T) {
	path := writeTemp(t, `{ not json `)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected parse error")
	}
	lerr, ok := err.(*LoadError)
	if !ok || lerr.Kind != ErrInvalidSyntax {
		t.Fatalf("expected invalid-syntax, got %v", err)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	lerr, ok := err.(*LoadError)
	if !ok || lerr.Kind != ErrFileNotFound {
		t.Fatalf("expected file-not-found, got %v", err)
	}
}

func TestServerSpecEqual(t *testing.T) {
	a := ServerSpec{Command: "echo", Args: []string{"a", "b"}, Env: map[string]string{"K": "V"}}
	b := ServerSpec{Command: "echo", Args: []string{"a", "b"}, Env: map[string]string{"K": "V"}}
	if !a.Equal(b) {
		t.Fatalf("expected equal specs")
	}
	c := ServerSpec{Command: "echo", Args: []string{"a", "c"}, Env: map[string]string{"K": "V"}}
	if a.Equal(c) {
		t.Fatalf("expected unequal specs")
	}
}
