package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/HyphaGroup/mcphub/internal/config"
)

func TestChildSessionLifecycle(t *testing.T) {
	stub := buildStub(t)
	spec := config.ServerSpec{Command: stub}

	cs, err := StartChildSession(context.Background(), "stub", spec, 5*time.Second)
	if err != nil {
		t.Fatalf("StartChildSession: %v", err)
	}
	defer func() { _ = cs.Close() }()

	if cs.State() != StateConnected {
		t.Fatalf("state = %v, want connected", cs.State())
	}

	tools, err := cs.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	found := false
	for _, tool := range tools {
		if tool.Name == "echo" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected echo tool in %+v", tools)
	}

	content, err := cs.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(content) == 0 {
		t.Fatalf("expected non-empty content")
	}

	if err := cs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if cs.State() != StateTerminated {
		t.Fatalf("state after close = %v, want terminated", cs.State())
	}
	// Close is idempotent.
	if err := cs.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestChildSessionSpawnFailure(t *testing.T) {
	spec := config.ServerSpec{Command: "/nonexistent/binary/does-not-exist"}
	_, err := StartChildSession(context.Background(), "bad", spec, time.Second)
	if err == nil {
		t.Fatalf("expected spawn failure")
	}
}

func TestChildSessionCallsAfterClose(t *testing.T) {
	stub := buildStub(t)
	spec := config.ServerSpec{Command: stub}

	cs, err := StartChildSession(context.Background(), "stub", spec, 5*time.Second)
	if err != nil {
		t.Fatalf("StartChildSession: %v", err)
	}
	_ = cs.Close()

	if _, err := cs.ListTools(context.Background()); err != ErrNotConnected {
		t.Fatalf("ListTools after close = %v, want ErrNotConnected", err)
	}
}
