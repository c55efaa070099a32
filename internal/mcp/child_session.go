package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HyphaGroup/mcphub/internal/logger"
	"github.com/HyphaGroup/mcphub/internal/metrics"

	"github.com/HyphaGroup/mcphub/internal/config"
)

const protocolVersion = "2024-11-05"

// SessionState is one point in a ChildSession's lifecycle:
// spawned -> initializing -> connected -> draining -> terminated.
type SessionState int

const (
	StateSpawned SessionState = iota
	StateInitializing
	StateConnected
	StateDraining
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Tool is one entry from a child's tools/list response.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ContentItem is one entry of a tools/call result's content array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// responseSlot is the single-shot correlation primitive between a writer
// awaiting a reply and the one reader goroutine that demultiplexes stdout.
type responseSlot chan rpcResponse

// ChildSession owns one spawned child process and its framed stdio stream.
// Exclusively owned by exactly one mounted Route.
type ChildSession struct {
	name string
	spec config.ServerSpec

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	requestID atomic.Int64

	mu      sync.Mutex
	state   SessionState
	slots   map[int64]responseSlot
	writeMu sync.Mutex

	cancelReader context.CancelFunc
	readerDone   chan struct{}
}

func setState(cs *ChildSession, s SessionState) {
	cs.mu.Lock()
	cs.state = s
	cs.mu.Unlock()
	metrics.RecordChildSessionTransition(cs.name, s.String())
}

// State returns the session's current lifecycle state.
func (cs *ChildSession) State() SessionState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// StartChildSession spawns spec's command with the parent environment
// overlaid by spec.Env, attaches newline-delimited JSON-RPC framing to its
// stdio, and performs the MCP initialize handshake before timeout elapses.
func StartChildSession(ctx context.Context, name string, spec config.ServerSpec, timeout time.Duration) (*ChildSession, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), envSlice(spec.Env)...)
	cmd.Stderr = os.Stderr

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	readerCtx, cancel := context.WithCancel(context.Background())
	cs := &ChildSession{
		name:         name,
		spec:         spec,
		cmd:          cmd,
		stdin:        stdinPipe,
		stdout:       stdoutPipe,
		slots:        make(map[int64]responseSlot),
		cancelReader: cancel,
		readerDone:   make(chan struct{}),
		state:        StateSpawned,
	}

	setState(cs, StateInitializing)
	go cs.readLoop(readerCtx)

	initCtx, initCancel := context.WithTimeout(ctx, timeout)
	defer initCancel()

	result, err := cs.call(initCtx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcphub", "version": "1.0"},
	})
	if err != nil {
		_ = cs.Close()
		if initCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrInitializeTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInitializeRejected, err)
	}
	_ = result

	setState(cs, StateConnected)
	return cs, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// readLoop is the single goroutine that consumes the child's stdout,
// demultiplexing responses to their response slot by request id.
func (cs *ChildSession) readLoop(ctx context.Context) {
	defer close(cs.readerDone)

	scanner := bufio.NewScanner(cs.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			logger.WarnContext(ctx, "child produced unparseable line", "server", cs.name, "error", err)
			continue
		}
		if resp.JSONRPC != "2.0" {
			continue
		}

		cs.mu.Lock()
		slot, ok := cs.slots[resp.ID]
		if ok {
			delete(cs.slots, resp.ID)
		}
		cs.mu.Unlock()

		if ok {
			slot <- resp
		}
	}

	cs.onReaderExit()
}

// onReaderExit transitions a connected session to draining and wakes every
// outstanding response slot with stream-closed, per spec.md §4.2.
func (cs *ChildSession) onReaderExit() {
	cs.mu.Lock()
	if cs.state == StateConnected || cs.state == StateInitializing {
		cs.state = StateDraining
	}
	slots := cs.slots
	cs.slots = make(map[int64]responseSlot)
	cs.mu.Unlock()

	metrics.RecordChildSessionTransition(cs.name, StateDraining.String())

	for _, slot := range slots {
		slot <- rpcResponse{Error: &rpcError{Code: -1, Message: ErrStreamClosed.Error()}}
	}
}

// call issues one JSON-RPC request and waits for its correlated response.
func (cs *ChildSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := cs.requestID.Add(1)
	slot := make(responseSlot, 1)

	cs.mu.Lock()
	if cs.state == StateDraining || cs.state == StateTerminated {
		cs.mu.Unlock()
		return nil, ErrStreamClosed
	}
	cs.slots[id] = slot
	cs.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')

	cs.writeMu.Lock()
	_, writeErr := cs.stdin.Write(data)
	cs.writeMu.Unlock()
	if writeErr != nil {
		cs.mu.Lock()
		delete(cs.slots, id)
		cs.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrStreamClosed, writeErr)
	}

	select {
	case resp := <-slot:
		if resp.Error != nil {
			return nil, fmt.Errorf("child error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		cs.mu.Lock()
		delete(cs.slots, id)
		cs.mu.Unlock()
		return nil, ctx.Err()
	}
}

// ListTools issues tools/list against a connected child.
func (cs *ChildSession) ListTools(ctx context.Context) ([]Tool, error) {
	if cs.State() != StateConnected {
		return nil, ErrNotConnected
	}
	raw, err := cs.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode tools/list response: %w", err)
	}
	return payload.Tools, nil
}

// CallTool issues tools/call. Arguments is omitted from the outgoing
// request entirely when nil or empty, preserving the distinction MCP
// children draw between "no arguments" and "empty object" (spec.md §4.2).
func (cs *ChildSession) CallTool(ctx context.Context, name string, arguments map[string]any) ([]ContentItem, error) {
	if cs.State() != StateConnected {
		return nil, ErrNotConnected
	}
	params := map[string]any{"name": name}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	}
	raw, err := cs.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Content []ContentItem `json:"content"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode tools/call response: %w", err)
	}
	return payload.Content, nil
}

// Close cancels the reader task, closes stdin, waits a small grace period
// for the child to exit, then kills it. Idempotent.
func (cs *ChildSession) Close() error {
	cs.mu.Lock()
	if cs.state == StateTerminated {
		cs.mu.Unlock()
		return nil
	}
	cs.state = StateTerminated
	cs.mu.Unlock()
	metrics.RecordChildSessionTransition(cs.name, StateTerminated.String())

	cs.cancelReader()
	if cs.stdin != nil {
		_ = cs.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- cs.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		if cs.cmd.Process != nil {
			_ = cs.cmd.Process.Kill()
		}
		<-done
	}

	return nil
}
