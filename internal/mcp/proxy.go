package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"

	"github.com/HyphaGroup/mcphub/internal/logger"
	"github.com/HyphaGroup/mcphub/internal/metrics"
)

// rpcCall is the inbound JSON-RPC request body the proxy endpoint accepts.
type rpcCall struct {
	JSONRPC   string          `json:"jsonrpc"`
	ID        any             `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ProxyHandler builds the single POST handler for one mounted route: the
// per-route HTTP-to-MCP proxy and session gate described in spec.md §4.3.
func ProxyHandler(route *Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}

		var body rpcCall
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeRPCError(w, http.StatusOK, nil, -32700, "Parse error: "+err.Error())
			return
		}

		sessionID := resolveSessionID(r, body)
		route.HTTP.GetOrCreate(sessionID)
		metrics.SetHTTPSessionTableSize(route.MountPath, float64(route.HTTP.Len()))

		switch body.Method {
		case "initialize":
			route.HTTP.MarkInitialized(sessionID)
			metrics.RecordProxyMethodCall(body.Method, "ok")
			writeRPCResult(w, body.ID, map[string]any{
				"protocolVersion": protocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": route.ServerName, "version": "1.0"},
				"sessionId":       sessionID,
			})
			return

		case "tools/list":
			if !route.HTTP.IsInitialized(sessionID) {
				metrics.RecordProxyMethodCall(body.Method, "not_initialized")
				writeRPCError(w, http.StatusOK, body.ID, CodeNotInitialized, "Bad Request: Server not initialized")
				return
			}
			handleListTools(w, r, route, body)
			return

		case "tools/call":
			if !route.HTTP.IsInitialized(sessionID) {
				metrics.RecordProxyMethodCall(body.Method, "not_initialized")
				writeRPCError(w, http.StatusOK, body.ID, CodeNotInitialized, "Bad Request: Server not initialized")
				return
			}
			handleCallTool(w, r, route, body)
			return

		default:
			metrics.RecordProxyMethodCall(body.Method, "unsupported")
			writeRPCError(w, http.StatusOK, body.ID, CodeMethodNotFound, "Method not found")
			return
		}
	}
}

func handleListTools(w http.ResponseWriter, r *http.Request, route *Route, body rpcCall) {
	if route.Session == nil || route.Session.State() != StateConnected {
		metrics.RecordProxyMethodCall(body.Method, "not_connected")
		writeRPCHTTPError(w, http.StatusServiceUnavailable, "MCP server not connected")
		return
	}
	tools, err := route.Session.ListTools(r.Context())
	if err != nil {
		metrics.RecordProxyMethodCall(body.Method, "error")
		logger.ErrorContext(r.Context(), "tools/list forwarding failed", "route", route.MountPath, "error", err)
		writeRPCHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.RecordProxyMethodCall(body.Method, "ok")
	writeRPCResult(w, body.ID, map[string]any{"tools": tools})
}

func handleCallTool(w http.ResponseWriter, r *http.Request, route *Route, body rpcCall) {
	if route.Session == nil || route.Session.State() != StateConnected {
		metrics.RecordProxyMethodCall(body.Method, "not_connected")
		writeRPCHTTPError(w, http.StatusServiceUnavailable, "MCP server not connected")
		return
	}

	var params callToolParams
	if len(body.Params) > 0 {
		if err := json.Unmarshal(body.Params, &params); err != nil {
			metrics.RecordProxyMethodCall(body.Method, "error")
			writeRPCHTTPError(w, http.StatusInternalServerError, "invalid tools/call params: "+err.Error())
			return
		}
	}

	content, err := route.Session.CallTool(r.Context(), params.Name, params.Arguments)
	if err != nil {
		metrics.RecordProxyMethodCall(body.Method, "error")
		logger.ErrorContext(r.Context(), "tools/call forwarding failed", "route", route.MountPath, "error", err)
		writeRPCHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.RecordProxyMethodCall(body.Method, "ok")
	writeRPCResult(w, body.ID, map[string]any{"content": content})
}

// resolveSessionID implements spec.md §4.3's resolution order: header,
// query parameter, body field, else a stable anonymous fingerprint.
func resolveSessionID(r *http.Request, body rpcCall) string {
	if h := r.Header.Get("x-session-id"); h != "" {
		return h
	}
	if q := r.URL.Query().Get("sessionId"); q != "" {
		return q
	}
	if body.SessionID != "" {
		return body.SessionID
	}
	return anonymousSessionID(clientIP(r), r.UserAgent())
}

// anonymousSessionID reproduces the original implementation's fingerprint
// exactly: "anon:" + hex(sha256(ip + "|" + userAgent))[:16].
func anonymousSessionID(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent))
	return "anon:" + hex.EncodeToString(sum[:])[:16]
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRPCResult(w http.ResponseWriter, id any, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func writeRPCError(w http.ResponseWriter, status int, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

// writeRPCHTTPError is used for the 500/503 failure-mapping cases in
// spec.md §4.3, which surface as plain HTTP errors with a "detail" body
// rather than a JSON-RPC envelope.
func writeRPCHTTPError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"detail": detail})
}
