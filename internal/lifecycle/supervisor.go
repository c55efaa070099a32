// Package lifecycle installs signal handlers and coordinates graceful
// shutdown of the gateway's tracked resources (spec.md §4.7).
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HyphaGroup/mcphub/internal/logger"
	"github.com/HyphaGroup/mcphub/internal/mcp"
)

// idleSweepSchedule and IdleTimeout resolve spec.md §9's open question on
// HttpSession table growth: entries idle longer than IdleTimeout are
// evicted by a periodic sweep.
const (
	idleSweepSchedule = "@every 1m"
	IdleTimeout       = 30 * time.Minute
)

// Closer is anything the supervisor shuts down on exit; satisfied by
// *watcher.Watcher and an *http.Server wrapped to match. The route table's
// ChildSessions are not tracked as Closers: Shutdown closes them directly
// from a table snapshot.
type Closer interface {
	Close() error
}

// Supervisor installs SIGINT/SIGTERM handlers, runs the idle-session sweep,
// and drives a coordinated shutdown when signalled.
type Supervisor struct {
	table *mcp.RouteTable
	cron  *cron.Cron

	mu      sync.Mutex
	closers []Closer

	shutdownOnce sync.Once
	done         chan struct{}
}

// New returns a Supervisor that sweeps idle HttpSessions out of every route
// in table. Call Track to register additional resources to close on
// shutdown, then Run to block until a termination signal arrives.
func New(table *mcp.RouteTable) *Supervisor {
	s := &Supervisor{
		table: table,
		cron:  cron.New(),
		done:  make(chan struct{}),
	}
	if _, err := s.cron.AddFunc(idleSweepSchedule, s.sweepIdleSessions); err != nil {
		logger.Slog().Error("failed to schedule idle-session sweep", "error", err)
	}
	return s
}

// Track registers c to be closed during shutdown, in the order added.
func (s *Supervisor) Track(c Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, c)
}

func (s *Supervisor) sweepIdleSessions() {
	now := time.Now()
	for path, route := range s.table.Snapshot() {
		if route.HTTP == nil {
			continue
		}
		if removed := route.HTTP.EvictIdle(now); removed > 0 {
			logger.Slog().Info("evicted idle HTTP sessions", "route", path, "count", removed)
		}
	}
}

// Run installs signal handlers, starts the idle sweep, and blocks until
// SIGINT or SIGTERM, then performs a coordinated shutdown: cancel tracked
// tasks with gracePeriod, then close every ChildSession in the route table
// in parallel with a bounded wait.
func (s *Supervisor) Run(gracePeriod time.Duration) {
	s.cron.Start()
	defer s.cron.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Slog().Info("received shutdown signal", "signal", sig.String())
	s.Shutdown(gracePeriod)
}

// Shutdown runs the coordinated teardown described in spec.md §4.7: close
// tracked resources, then close every mounted ChildSession in parallel,
// bounded by gracePeriod. Safe to call more than once.
func (s *Supervisor) Shutdown(gracePeriod time.Duration) {
	s.shutdownOnce.Do(func() {
		defer close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), gracePeriod)
		defer cancel()

		s.mu.Lock()
		closers := append([]Closer(nil), s.closers...)
		s.mu.Unlock()
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Slog().Warn("error closing tracked resource", "error", err)
			}
		}

		routes := s.table.Snapshot()
		var wg sync.WaitGroup
		for _, route := range routes {
			if route.Session == nil {
				continue
			}
			wg.Add(1)
			go func(cs interface{ Close() error }) {
				defer wg.Done()
				_ = cs.Close()
			}(route.Session)
		}

		closedCh := make(chan struct{})
		go func() {
			wg.Wait()
			close(closedCh)
		}()

		select {
		case <-closedCh:
			logger.Slog().Info("all child sessions closed cleanly")
		case <-ctx.Done():
			logger.Slog().Warn("shutdown grace period exceeded; exiting with sessions outstanding")
		}
	})
}

// Done returns a channel closed once Shutdown has completed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}
