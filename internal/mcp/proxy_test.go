package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HyphaGroup/mcphub/internal/config"
)

func newTestRoute(t *testing.T) *Route {
	t.Helper()
	stub := buildStub(t)
	cs, err := StartChildSession(context.Background(), "test", config.ServerSpec{Command: stub}, 5*time.Second)
	if err != nil {
		t.Fatalf("StartChildSession: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return &Route{MountPath: "/test/mcp/", ServerName: "test", Session: cs, HTTP: NewHTTPSessionTable(30 * time.Minute)}
}

func doRPC(t *testing.T, handler http.HandlerFunc, body map[string]any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/test/mcp/", bytes.NewReader(raw))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)

	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Code, resp
}

func TestProxySessionGate(t *testing.T) {
	route := newTestRoute(t)
	handler := ProxyHandler(route)

	status, resp := doRPC(t, handler, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	errObj, _ := resp["error"].(map[string]any)
	if errObj == nil || int(errObj["code"].(float64)) != CodeNotInitialized {
		t.Fatalf("expected -32000 error, got %+v", resp)
	}

	status, resp = doRPC(t, handler, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "initialize"}, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	result, _ := resp["result"].(map[string]any)
	sessionID, _ := result["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("expected sessionId in result, got %+v", resp)
	}

	status, resp = doRPC(t, handler, map[string]any{"jsonrpc": "2.0", "id": 3, "method": "tools/list"},
		map[string]string{"x-session-id": sessionID})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	result, _ = resp["result"].(map[string]any)
	if result == nil || result["tools"] == nil {
		t.Fatalf("expected result.tools, got %+v", resp)
	}
}

func TestProxyAnonymousSessionStability(t *testing.T) {
	route := newTestRoute(t)
	handler := ProxyHandler(route)

	mkReq := func(body map[string]any) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/test/mcp/", bytes.NewReader(raw))
		req.RemoteAddr = "10.0.0.5:4444"
		req.Header.Set("User-Agent", "test-agent")
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	rec1 := mkReq(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	var resp1 map[string]any
	_ = json.Unmarshal(rec1.Body.Bytes(), &resp1)
	sid1 := resp1["result"].(map[string]any)["sessionId"].(string)

	rec2 := mkReq(map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/list"})
	var resp2 map[string]any
	_ = json.Unmarshal(rec2.Body.Bytes(), &resp2)

	if resp2["error"] != nil {
		t.Fatalf("second request from same ip+ua should be initialized, got %+v", resp2)
	}
	if sid1 == "" || sid1[:5] != "anon:" {
		t.Fatalf("expected anonymous session id, got %q", sid1)
	}
}

func TestProxyUnsupportedMethod(t *testing.T) {
	route := newTestRoute(t)
	handler := ProxyHandler(route)

	status, resp := doRPC(t, handler, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "bogus"}, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	errObj, _ := resp["error"].(map[string]any)
	if errObj == nil || int(errObj["code"].(float64)) != CodeMethodNotFound {
		t.Fatalf("expected -32601 error, got %+v", resp)
	}
}

func TestProxyGateWithoutChildSession(t *testing.T) {
	route := &Route{MountPath: "/test/mcp/", ServerName: "test", HTTP: NewHTTPSessionTable(0)}
	handler := ProxyHandler(route)

	status, _ := doRPC(t, handler, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"}, nil)
	if status != http.StatusOK {
		t.Fatalf("initialize should succeed even with no child, got %d", status)
	}

	status, _ = doRPC(t, handler, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/list"},
		map[string]string{"x-session-id": "s1"})
	if status != http.StatusOK {
		t.Fatalf("tools/list with uninitialized new session should 200 with -32000, got %d", status)
	}
}

func TestAnonymousSessionIDExactBytes(t *testing.T) {
	// Pin the fingerprint derivation to the original implementation's exact
	// byte sequence: sha256(ip + "|" + userAgent), truncated to 16 hex chars.
	got := anonymousSessionID("127.0.0.1", "curl/8.0")
	if len(got) != len("anon:")+16 {
		t.Fatalf("unexpected anonymous id length: %q", got)
	}
	// First 16 hex chars of sha256("127.0.0.1|curl/8.0").
	if got != "anon:079a604b7f827f6f" {
		t.Fatalf("anonymous id = %q, want %q", got, "anon:079a604b7f827f6f")
	}
	if got != anonymousSessionID("127.0.0.1", "curl/8.0") {
		t.Fatalf("fingerprint must be deterministic")
	}
	if anonymousSessionID("127.0.0.1", "curl/8.0") == anonymousSessionID("127.0.0.1", "curl/8.1") {
		t.Fatalf("different user agents must not collide")
	}
}
