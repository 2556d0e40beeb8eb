package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	memerrors "mem-os/pkg/errors"
)

func tempPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "workspace-target")
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := tempPath(t)
	h, err := Acquire(p, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := os.Stat(lockfilePath(p)); err != nil {
		t.Fatalf("expected lockfile to exist: %v", err)
	}
	h.Release()
	if _, err := os.Stat(lockfilePath(p)); !os.IsNotExist(err) {
		t.Fatalf("expected lockfile removed after release")
	}
}

func TestAcquireTimesOutWhenHeld(t *testing.T) {
	p := tempPath(t)
	h1, err := Acquire(p, time.Second)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer h1.Release()

	_, err = Acquire(p, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected second acquire to time out")
	}
	if !memerrors.Is(err, memerrors.KindLockTimeout) {
		t.Fatalf("expected LockTimeout, got %v", err)
	}
}

func TestAcquireManySortsPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "b-path")
	b := filepath.Join(dir, "a-path")

	h, err := AcquireMany([]string{a, b}, time.Second)
	if err != nil {
		t.Fatalf("AcquireMany failed: %v", err)
	}
	defer h.Release()

	if h.paths[0] != b || h.paths[1] != a {
		t.Fatalf("expected sorted acquisition order, got %+v", h.paths)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := tempPath(t)
	h, err := Acquire(p, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	h.Release()
	h.Release() // must not panic or double-unlock
}

func TestStaleLockReclaimed(t *testing.T) {
	p := tempPath(t)
	// Simulate a lockfile from a PID that certainly doesn't exist.
	hostname, _ := os.Hostname()
	stale := lockInfo{PID: 1 << 30, Hostname: hostname, AcquiredAt: time.Now().Add(-time.Hour)}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(lockfilePath(p), data, 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	start := time.Now()
	h, err := Acquire(p, 2*StaleGrace+time.Second)
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed: %v", err)
	}
	defer h.Release()
	if time.Since(start) < StaleGrace {
		t.Fatal("expected reclamation to wait at least the grace period")
	}
}
