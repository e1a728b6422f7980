package proctree_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-orchestrator/internal/proctree"
)

// TestFindByNameLocatesKnownProcess verifies lookup against the test
// binary's own process table entry is excluded while a spawned child
// with a matching name is found.
func TestFindByNameLocatesKnownProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell required")
	}

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}()

	pids, err := proctree.FindByName(t.Context(), "sleep")
	require.NoError(t, err)

	found := false
	for _, pid := range pids {
		if int(pid) == cmd.Process.Pid {
			found = true
		}
		assert.NotEqual(t, os.Getpid(), int(pid), "must never report the calling process")
	}
	assert.True(t, found, "spawned sleep process not found, pids=%v", pids)
}

// TestFindByNameIgnoresMissing verifies no matches for a made-up name.
func TestFindByNameIgnoresMissing(t *testing.T) {
	pids, err := proctree.FindByName(t.Context(), "no-such-executable-name-xyz")
	require.NoError(t, err)
	assert.Empty(t, pids)
}

// TestKillTerminatesChildren verifies the whole tree dies, not just the
// immediate child.
func TestKillTerminatesChildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell required")
	}

	// Parent shell spawns a grandchild that writes a file if it survives
	// past the kill.
	marker := filepath.Join(t.TempDir(), "survived")
	script := "sleep 2 && touch " + marker + " & wait"
	cmd := exec.Command("sh", "-c", script)
	require.NoError(t, cmd.Start())

	// Give the shell a moment to fork the grandchild.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, proctree.Kill(cmd.Process.Pid))
	_, _ = cmd.Process.Wait()

	// The grandchild would create the marker ~2s in; wait past that.
	time.Sleep(2500 * time.Millisecond)
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "grandchild survived tree kill")
}

// TestKillMissingPidIsNoError verifies killing an exited pid is safe.
func TestKillMissingPidIsNoError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell required")
	}

	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	assert.NoError(t, proctree.Kill(cmd.Process.Pid))
}
