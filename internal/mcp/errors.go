package mcp

import "errors"

// Child session start failures (spec.md §4.2).
var (
	ErrSpawnFailed        = errors.New("spawn-failed")
	ErrStreamClosed       = errors.New("stream-closed")
	ErrInitializeTimeout  = errors.New("initialize-timeout")
	ErrInitializeRejected = errors.New("initialize-rejected")
	ErrNotConnected       = errors.New("child session not connected")
	ErrDuplicateRoute     = errors.New("route already mounted")
)

// JSON-RPC error codes used by the proxy endpoint (spec.md §4.3, §7).
const (
	CodeNotInitialized = -32000
	CodeMethodNotFound = -32601
)
