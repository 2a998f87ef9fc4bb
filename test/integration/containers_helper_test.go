package integration

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// containersAvailable returns true if a Docker or Podman socket is present
func containersAvailable() bool {
	if _, err := os.Stat("/var/run/docker.sock"); err == nil {
		return true
	}
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return true
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		if uid := os.Getuid(); uid > 0 {
			runtimeDir = "/run/user/" + strconv.Itoa(uid)
		}
	}
	if runtimeDir != "" {
		if _, err := os.Stat(filepath.Join(runtimeDir, "podman", "podman.sock")); err == nil {
			return true
		}
	}
	return false
}

// repoFile reads a file relative to the module root
func repoFile(t *testing.T, rel string) []byte {
	t.Helper()
	root, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			break
		}
		root = filepath.Dir(root)
	}
	b, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return b
}
