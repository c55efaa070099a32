package mcp

import (
	"net/http"
	"sync"

	"github.com/HyphaGroup/mcphub/internal/metrics"
)

// Route is a named HTTP mount point backed by exactly one ChildSession.
type Route struct {
	MountPath  string
	ServerName string
	Session    *ChildSession
	HTTP       *HTTPSessionTable
}

// RouteTable maps mount paths to Routes with atomic swap semantics. The
// table itself holds no child-session-closing logic: the reconfiguration
// controller is responsible for closing ChildSessions it unmounts or
// discards on rollback (spec.md §4.4).
type RouteTable struct {
	mu     sync.RWMutex
	routes map[string]*Route
}

// NewRouteTable returns an empty route table.
func NewRouteTable() *RouteTable {
	return &RouteTable{routes: make(map[string]*Route)}
}

// Mount adds route under path, rejecting duplicates.
func (t *RouteTable) Mount(path string, route *Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.routes[path]; exists {
		return ErrDuplicateRoute
	}
	t.routes[path] = route
	metrics.SetMountedRoutes(float64(len(t.routes)))
	return nil
}

// Unmount removes path, a no-op if it was not present.
func (t *RouteTable) Unmount(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, path)
	metrics.SetMountedRoutes(float64(len(t.routes)))
}

// Lookup returns the route mounted at path, if any.
func (t *RouteTable) Lookup(path string) (*Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[path]
	return r, ok
}

// Snapshot returns a shallow copy of the current table, suitable for either
// diffing against a new config or restoring after a failed apply.
func (t *RouteTable) Snapshot() map[string]*Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*Route, len(t.routes))
	for k, v := range t.routes {
		out[k] = v
	}
	return out
}

// Restore atomically replaces the entire table with snapshot. This is the
// rollback primitive: it never leaves the table partially mutated. Restore
// does not close any ChildSession — the caller owns that.
func (t *RouteTable) Restore(snapshot map[string]*Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	replacement := make(map[string]*Route, len(snapshot))
	for k, v := range snapshot {
		replacement[k] = v
	}
	t.routes = replacement
	metrics.SetMountedRoutes(float64(len(t.routes)))
}

// ServeHTTP is the gateway's single top-level entry point for every mounted
// route: it resolves r.URL.Path against a consistent table snapshot and
// forwards to that route's proxy endpoint, or responds 404 if nothing is
// mounted there (spec.md's request flow: "route table lookup -> proxy
// endpoint -> session gate -> child session").
func (t *RouteTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := t.Lookup(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	ProxyHandler(route)(w, r)
}
