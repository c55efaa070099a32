package mcp

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

var (
	stubBinaryDir  string
	stubBinaryOnce sync.Once
	stubBinaryPath string
	stubBinaryErr  error
)

// TestMain owns the lifetime of the compiled mcphub-stub fixture: it must
// outlive every individual test, so its directory is created and removed
// here rather than via t.TempDir(), which would tear it down as soon as the
// first test that triggers the build returns.
func TestMain(m *testing.M) {
	code := m.Run()
	if stubBinaryDir != "" {
		_ = os.RemoveAll(stubBinaryDir)
	}
	os.Exit(code)
}

// buildStub compiles cmd/mcphub-stub once per test binary invocation and
// returns the path to the resulting executable. The stub is a real MCP
// child process, not a mock, matching spec.md §8's concrete scenarios.
func buildStub(t *testing.T) string {
	t.Helper()
	stubBinaryOnce.Do(func() {
		_, thisFile, _, _ := runtime.Caller(0)
		moduleRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))

		dir, err := os.MkdirTemp("", "mcphub-stub-*")
		if err != nil {
			stubBinaryErr = fmt.Errorf("create stub build dir: %w", err)
			return
		}
		stubBinaryDir = dir

		out := filepath.Join(dir, "mcphub-stub")
		cmd := exec.Command("go", "build", "-o", out, "./cmd/mcphub-stub")
		cmd.Dir = moduleRoot
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			stubBinaryErr = err
			return
		}
		stubBinaryPath = out
	})
	if stubBinaryErr != nil {
		t.Skipf("could not build mcphub-stub fixture: %v", stubBinaryErr)
	}
	return stubBinaryPath
}
