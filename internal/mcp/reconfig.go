package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HyphaGroup/mcphub/internal/audit"
	"github.com/HyphaGroup/mcphub/internal/config"
	"github.com/HyphaGroup/mcphub/internal/logger"
	"github.com/HyphaGroup/mcphub/internal/metrics"
)

// Controller drives the route table in response to config snapshots,
// implementing the diff/apply/rollback loop of spec.md §4.5. It serialises
// applies: a new config event may not begin to mutate the table while a
// previous apply is in flight. Routes are dispatched dynamically by the
// gateway's top-level handler via RouteTable.Lookup, so Apply never touches
// the HTTP mux directly — this sidesteps *http.ServeMux's "no duplicate
// pattern" restriction when a changed server is unmounted and remounted at
// the same path.
type Controller struct {
	table           *RouteTable
	pathPrefix      string
	initTimeout     time.Duration
	httpIdleTimeout time.Duration

	mu      sync.Mutex
	current *config.Config
}

// NewController returns a controller for an empty starting config.
func NewController(table *RouteTable, pathPrefix string, initTimeout, httpIdleTimeout time.Duration) *Controller {
	return &Controller{
		table:           table,
		pathPrefix:      pathPrefix,
		initTimeout:     initTimeout,
		httpIdleTimeout: httpIdleTimeout,
		current:         &config.Config{Servers: map[string]config.ServerSpec{}},
	}
}

// MountPath returns the canonical mount path for a server name:
// <pathPrefix><name>/mcp/
func (c *Controller) MountPath(name string) string {
	return c.pathPrefix + name + "/mcp/"
}

// Current returns the config currently reflected by the route table.
func (c *Controller) Current() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Apply reconciles the route table with newConfig per spec.md §4.5: diff by
// name into removed/added/changed sets, tear down removed+changed, mount
// added+changed, and on any single mount failure roll the entire table back
// to its pre-apply snapshot while leaving the stored config untouched.
func (c *Controller) Apply(ctx context.Context, newConfig *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldConfig := c.current
	snapshot := c.table.Snapshot()
	correlationID := audit.NewCorrelationID()

	removed, added, changed := diff(oldConfig, newConfig)

	// Unmount removed and changed routes from the table so new requests stop
	// reaching them, but keep their ChildSessions alive until the apply
	// actually commits: a failed mount later in this pass rolls the table
	// back to snapshot, and a replaced session that was already closed here
	// would leave the restored route pointing at a terminated child, 503ing
	// every request until the next successful reload. Deferring the close
	// to commit time keeps a failed reload's old servers fully usable.
	var replaced []*ChildSession
	for _, name := range append(append([]string{}, removed...), changed...) {
		path := c.MountPath(name)
		if route, ok := c.table.Lookup(path); ok {
			c.table.Unmount(path)
			if route.Session != nil {
				replaced = append(replaced, route.Session)
			}
			audit.Log(audit.Event{Operation: audit.OpRouteUnmount, Server: name, CorrelationID: correlationID, Success: true})
		}
	}

	var started []*ChildSession
	abort := func(applyErr error) error {
		for _, cs := range started {
			_ = cs.Close()
		}
		c.table.Restore(snapshot)
		metrics.RecordReconfigApply("rollback")
		audit.Log(audit.Event{Operation: audit.OpReloadRollback, CorrelationID: correlationID, Success: false, Error: applyErr.Error()})
		logger.ErrorContext(ctx, "reconfiguration rolled back", "error", applyErr)
		return applyErr
	}

	for _, name := range append(append([]string{}, added...), changed...) {
		spec := newConfig.Servers[name]
		cs, err := StartChildSession(ctx, name, spec, c.initTimeout)
		if err != nil {
			return abort(fmt.Errorf("mount %q: %w", name, err))
		}
		started = append(started, cs)

		route := &Route{
			MountPath:  c.MountPath(name),
			ServerName: name,
			Session:    cs,
			HTTP:       NewHTTPSessionTable(c.httpIdleTimeout),
		}
		if err := c.table.Mount(route.MountPath, route); err != nil {
			return abort(fmt.Errorf("mount %q: %w", name, err))
		}
		audit.Log(audit.Event{Operation: audit.OpRouteMount, Server: name, CorrelationID: correlationID, Success: true})
	}

	for _, cs := range replaced {
		_ = cs.Close()
	}

	c.current = newConfig
	metrics.RecordReconfigApply("success")
	audit.Log(audit.Event{Operation: audit.OpReloadApply, CorrelationID: correlationID, Success: true})
	return nil
}

// diff computes the removed/added/changed server-name sets between old and
// new configs per spec.md §4.5 step 2.
func diff(oldConfig, newConfig *config.Config) (removed, added, changed []string) {
	for name := range oldConfig.Servers {
		if _, ok := newConfig.Servers[name]; !ok {
			removed = append(removed, name)
		}
	}
	for name, newSpec := range newConfig.Servers {
		oldSpec, ok := oldConfig.Servers[name]
		if !ok {
			added = append(added, name)
			continue
		}
		if !oldSpec.Equal(newSpec) {
			changed = append(changed, name)
		}
	}
	return removed, added, changed
}
