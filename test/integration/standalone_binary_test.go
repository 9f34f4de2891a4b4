package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestStandaloneBinaryVersionAndHelpWorkOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}
	goModPathBytes, err := exec.Command("go", "env", "GOMOD").Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	goModPath := strings.TrimSpace(string(goModPathBytes))
	if goModPath == "" {
		t.Fatalf("go env GOMOD returned empty")
	}
	repoRoot := filepath.Dir(goModPath)

	buildDir := t.TempDir()
	binaryPath := filepath.Join(buildDir, "rpcfleet")

	build := exec.Command("go", "build", "-o", binaryPath, "./cmd/rpcfleet")
	build.Dir = repoRoot
	build.Env = os.Environ()
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, string(out))
	}

	outside := t.TempDir()
	copiedBinary := filepath.Join(outside, "rpcfleet")

	// Use a direct file copy to avoid relying on platform-specific tools.
	data, err := os.ReadFile(binaryPath)
	if err != nil {
		t.Fatalf("read built binary: %v", err)
	}
	if err := os.WriteFile(copiedBinary, data, 0o755); err != nil {
		t.Fatalf("write copied binary: %v", err)
	}

	version := exec.Command(copiedBinary, "version")
	version.Dir = outside
	if out, err := version.CombinedOutput(); err != nil {
		t.Fatalf("version failed: %v\n%s", err, string(out))
	}

	help := exec.Command(copiedBinary, "--help")
	help.Dir = outside
	if out, err := help.CombinedOutput(); err != nil {
		t.Fatalf("--help failed: %v\n%s", err, string(out))
	}

	status := exec.Command(copiedBinary, "pool", "status", "--format", "json")
	status.Dir = outside
	status.Env = append(os.Environ(),
		"RPCFLEET_ENDPOINTS=http://127.0.0.1:1",
		"XDG_CACHE_HOME="+filepath.Join(outside, "cache"),
		"XDG_CONFIG_HOME="+filepath.Join(outside, "config"),
	)
	out, err := status.CombinedOutput()
	if err != nil {
		t.Fatalf("pool status failed: %v\n%s", err, string(out))
	}
	if !strings.Contains(string(out), `"total": 1`) {
		t.Fatalf("pool status output missing endpoint total:\n%s", string(out))
	}
}
