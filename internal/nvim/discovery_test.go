package nvim

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProc writes a /proc-shaped directory for one process.
func fakeProc(t *testing.T, root string, pid int, comm string, args ...string) {
	t.Helper()
	procDir := filepath.Join(root, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(procDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "comm"), []byte(comm+"\n"), 0o644))
	cmdline := ""
	for _, a := range args {
		cmdline += a + "\x00"
	}
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "cmdline"), []byte(cmdline), 0o644))
}

func TestCandidatesOrderAndDedup(t *testing.T) {
	procRoot := t.TempDir()
	fakeProc(t, procRoot, 101, "nvim", "nvim", "song.strdl")
	fakeProc(t, procRoot, 102, "nvim", "nvim", "--embed")
	fakeProc(t, procRoot, 103, "nvim", "nvim", "--headless", "--listen", "/tmp/custom.sock")
	fakeProc(t, procRoot, 104, "bash", "bash")

	env := map[string]string{
		"NVIM": "/tmp/env.sock",
	}

	got := Candidates(DiscoveryOptions{
		Explicit:   []string{"/tmp/explicit.sock", "/tmp/env.sock"}, // env dup must collapse
		WellKnown:  "/tmp/well-known.sock",
		ProcRoot:   procRoot,
		RuntimeDir: "/run/user/1000",
		TempDir:    t.TempDir(), // empty; no glob hits
		Getenv:     func(k string) string { return env[k] },
	})

	want := []string{
		"/tmp/explicit.sock",
		"/tmp/env.sock",
		"/tmp/well-known.sock",
		"/run/user/1000/nvim.101.0",
		"/tmp/custom.sock",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("candidate list mismatch (-want +got):\n%s", diff)
	}
}

func TestCandidatesExcludesEmbeddedWithoutListener(t *testing.T) {
	procRoot := t.TempDir()
	fakeProc(t, procRoot, 55, "nvim", "nvim", "--embed")

	got := Candidates(DiscoveryOptions{
		WellKnown: "/tmp/wk.sock",
		ProcRoot:  procRoot,
		TempDir:   t.TempDir(),
		Getenv:    func(string) string { return "" },
	})
	assert.Equal(t, []string{"/tmp/wk.sock"}, got)
}

func TestCandidatesEnvFallbackOrder(t *testing.T) {
	env := map[string]string{
		"NVIM_LISTEN_ADDRESS": "/tmp/legacy.sock",
	}
	got := Candidates(DiscoveryOptions{
		WellKnown: "/tmp/wk.sock",
		ProcRoot:  t.TempDir(),
		TempDir:   t.TempDir(),
		Getenv:    func(k string) string { return env[k] },
	})
	assert.Equal(t, []string{"/tmp/wk.sock", "/tmp/legacy.sock"}, got)
}

func TestProbeDeadSocketFailsFast(t *testing.T) {
	start := time.Now()
	ok := Probe(filepath.Join(t.TempDir(), "nothing.sock"), 200*time.Millisecond)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second, "probe must be bounded by its timeout")
}
