package mcp

import (
	"sync"
	"time"
)

// HTTPSession is a per-client conversation state, scoped to a single Route.
// The first request under a sessionId that sets Initialized=true must be an
// initialize call; no other method may set it (spec.md §3).
type HTTPSession struct {
	SessionID   string
	Initialized bool
	LastSeen    time.Time
}

// HTTPSessionTable is a route-owned, lock-protected map of HTTPSessions. It
// is mutated only by its route's request handlers; the idle-eviction sweep
// (driven by internal/lifecycle) is the one other writer.
//
// The spec leaves the table unbounded (§9's open question); this
// implementation resolves that by evicting sessions idle longer than
// idleTimeout, matching the teacher's ActiveSessionManager cleanup pattern.
type HTTPSessionTable struct {
	mu          sync.Mutex
	sessions    map[string]*HTTPSession
	idleTimeout time.Duration
}

// NewHTTPSessionTable returns an empty table that evicts entries idle
// longer than idleTimeout. A zero idleTimeout disables eviction.
func NewHTTPSessionTable(idleTimeout time.Duration) *HTTPSessionTable {
	return &HTTPSessionTable{
		sessions:    make(map[string]*HTTPSession),
		idleTimeout: idleTimeout,
	}
}

// GetOrCreate returns the session for id, creating an
// HTTPSession{Initialized:false} on first sight (spec.md §4.3).
func (t *HTTPSessionTable) GetOrCreate(id string) *HTTPSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		s = &HTTPSession{SessionID: id}
		t.sessions[id] = s
	}
	s.LastSeen = time.Now()
	return s
}

// MarkInitialized flips Initialized to true for id, if present.
func (t *HTTPSessionTable) MarkInitialized(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		s.Initialized = true
		s.LastSeen = time.Now()
	}
}

// IsInitialized reports whether id has completed its initialize call. It
// reads Initialized under the table's lock rather than on the *HTTPSession
// pointer directly, since HTTPSession fields are mutated concurrently by
// other requests on the same session id (spec.md §5).
func (t *HTTPSessionTable) IsInitialized(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return ok && s.Initialized
}

// Len reports the current table size, for the HTTPSessionTableSize gauge.
func (t *HTTPSessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// EvictIdle removes every session whose LastSeen is older than idleTimeout,
// returning the number of sessions removed. Called periodically by the
// lifecycle supervisor's cron sweep; a no-op when idleTimeout is zero.
func (t *HTTPSessionTable) EvictIdle(now time.Time) int {
	if t.idleTimeout == 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, s := range t.sessions {
		if now.Sub(s.LastSeen) > t.idleTimeout {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}
