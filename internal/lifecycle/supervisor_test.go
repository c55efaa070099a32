package lifecycle

import (
	"testing"
	"time"

	"github.com/HyphaGroup/mcphub/internal/mcp"
)

type fakeCloser struct{ closed bool }

func (f *fakeCloser) Close() error {
	f.closed = true
	return nil
}

func TestSupervisorShutdownClosesTrackedResources(t *testing.T) {
	table := mcp.NewRouteTable()
	sup := New(table)

	fc := &fakeCloser{}
	sup.Track(fc)

	sup.Shutdown(2 * time.Second)

	if !fc.closed {
		t.Fatalf("expected tracked closer to be closed")
	}
	select {
	case <-sup.Done():
	default:
		t.Fatalf("expected Done() to be closed after Shutdown")
	}
}

func TestSupervisorShutdownIdempotent(t *testing.T) {
	table := mcp.NewRouteTable()
	sup := New(table)

	fc := &fakeCloser{}
	sup.Track(fc)

	sup.Shutdown(time.Second)
	sup.Shutdown(time.Second) // must not panic or double-close
}

func TestSupervisorSweepsIdleSessions(t *testing.T) {
	table := mcp.NewRouteTable()
	route := &mcp.Route{MountPath: "/srv1/mcp/", ServerName: "srv1", HTTP: mcp.NewHTTPSessionTable(time.Millisecond)}
	_ = table.Mount(route.MountPath, route)
	_ = route.HTTP.GetOrCreate("s1")

	time.Sleep(5 * time.Millisecond)

	sup := New(table)
	sup.sweepIdleSessions()

	if route.HTTP.Len() != 0 {
		t.Fatalf("expected idle session to be evicted, table size = %d", route.HTTP.Len())
	}
}
