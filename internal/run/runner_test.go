package run_test

import (
	"context"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-orchestrator/internal/classify"
	"media-orchestrator/internal/domain"
	"media-orchestrator/internal/run"
)

// collector gathers emitted events safely across reader goroutines.
type collector struct {
	mu     sync.Mutex
	events []classify.Event
}

func (c *collector) emit(e classify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []classify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]classify.Event(nil), c.events...)
}

func (c *collector) byKind(kind classify.Kind) []classify.Event {
	var out []classify.Event
	for _, e := range c.snapshot() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix shell required")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// TestRunStreamsClassifiedEvents verifies live classification of both
// streams and a Completed outcome on exit 0.
func TestRunStreamsClassifiedEvents(t *testing.T) {
	requireUnix(t)

	script := `
echo '[1/2] Scanning: a.mp4'
echo '[2/2] b.mp4'
echo '[SAVED] /out/a.txt'
echo 'diagnostic noise' 1>&2
`
	var c collector
	runner := run.NewRunner(nil)
	outcome, err := runner.Run(t.Context(), run.Spec{Path: "sh", Args: []string{"-c", script}}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, outcome.Kind)

	progress := c.byKind(classify.KindProgress)
	require.Len(t, progress, 2)
	assert.Equal(t, 1, progress[0].Current)
	assert.Equal(t, "a.mp4", progress[0].Label)
	assert.Equal(t, 2, progress[1].Current)
	assert.Equal(t, "b.mp4", progress[1].Label)

	saved := c.byKind(classify.KindSaved)
	require.Len(t, saved, 1)
	assert.Equal(t, "/out/a.txt", saved[0].Detail)

	// stderr arrives as error-level log events.
	foundStderr := false
	for _, e := range c.byKind(classify.KindLog) {
		if e.Stream == classify.StreamStderr && e.Line == "diagnostic noise" {
			foundStderr = true
			assert.Equal(t, classify.LevelError, e.Level)
		}
	}
	assert.True(t, foundStderr, "stderr line not observed")
}

// TestRunNonZeroExitIsFailed verifies exit-code classification.
func TestRunNonZeroExitIsFailed(t *testing.T) {
	requireUnix(t)

	var c collector
	runner := run.NewRunner(nil)
	outcome, err := runner.Run(t.Context(), run.Spec{Path: "sh", Args: []string{"-c", "echo oops; exit 3"}}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	assert.Equal(t, 3, outcome.ExitCode)
}

// TestRunCancelKillsProcessTree verifies cancellation yields Cancelled
// and the spawned tree is gone afterwards.
func TestRunCancelKillsProcessTree(t *testing.T) {
	requireUnix(t)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	runner := run.NewRunner(nil)
	outcome, err := runner.Run(ctx, run.Spec{Path: "sh", Args: []string{"-c", "sleep 30"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCancelled, outcome.Kind)
	assert.Less(t, time.Since(start), 10*time.Second, "cancel must not wait for the sleep")
}

// TestRunLaunchFailure verifies a typed error for unspawnable workers.
func TestRunLaunchFailure(t *testing.T) {
	runner := run.NewRunner(nil)
	_, err := runner.Run(t.Context(), run.Spec{Path: "/no/such/binary-xyz"}, nil)
	require.Error(t, err)

	var launchErr *run.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, "/no/such/binary-xyz", launchErr.Path)
}

// TestRunInjectsUnbufferedHint verifies the engine sees PYTHONUNBUFFERED.
func TestRunInjectsUnbufferedHint(t *testing.T) {
	requireUnix(t)

	var c collector
	runner := run.NewRunner(nil)
	outcome, err := runner.Run(t.Context(), run.Spec{
		Path: "sh",
		Args: []string{"-c", `echo "unbuffered=$PYTHONUNBUFFERED extra=$EXTRA_VAR"`},
		Env:  map[string]string{"EXTRA_VAR": "42"},
	}, c.emit)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCompleted, outcome.Kind)

	logs := c.byKind(classify.KindLog)
	require.NotEmpty(t, logs)
	assert.Equal(t, "unbuffered=1 extra=42", logs[0].Line)
}

// TestRunConcurrentJobsAreIndependent verifies two jobs run side by side
// with no shared state and no merged event streams.
func TestRunConcurrentJobsAreIndependent(t *testing.T) {
	requireUnix(t)

	runner := run.NewRunner(nil)

	var wg sync.WaitGroup
	results := make([]domain.Outcome, 2)
	collectors := []*collector{{}, {}}
	scripts := []string{
		`for i in 1 2 3; do echo "[$i/3] left-$i.mp4"; done`,
		`for i in 1 2 3; do echo "[$i/3] right-$i.mp4"; done`,
	}

	for i := range scripts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := runner.Run(t.Context(), run.Spec{Path: "sh", Args: []string{"-c", scripts[i]}}, collectors[i].emit)
			require.NoError(t, err)
			results[i] = outcome
		}()
	}
	wg.Wait()

	for i, c := range collectors {
		assert.Equal(t, domain.OutcomeCompleted, results[i].Kind)
		progress := c.byKind(classify.KindProgress)
		require.Len(t, progress, 3, "job %d", i)
		for j, e := range progress {
			assert.Equal(t, j+1, e.Current, "job %d in-stream order", i)
		}
	}

	// No cross-contamination between the two jobs' labels.
	for _, e := range collectors[0].byKind(classify.KindProgress) {
		assert.Contains(t, e.Label, "left-")
	}
	for _, e := range collectors[1].byKind(classify.KindProgress) {
		assert.Contains(t, e.Label, "right-")
	}
}
