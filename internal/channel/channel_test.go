package channel_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"media-orchestrator/internal/channel"
	"media-orchestrator/internal/classify"
	"media-orchestrator/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine is a shell stand-in for the persistent worker: it reads
// JSON commands line by line and answers with the engine's own output
// grammar.
const fakeEngine = `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"action":"exit"'*) exit 0 ;;
    *'"action":"scan"'*)
      echo '[1/3] Scanning: a.mp4'
      echo '[2/3] Scanning: b.mp4'
      echo '[3/3] Scanning: c.mp4'
      echo '{"status":"complete","action":"scan"}'
      ;;
    *'"action":"slow"'*)
      sleep 2
      echo '{"status":"complete","action":"slow"}'
      ;;
    *'"action":"wrong"'*)
      echo '{"status":"complete","action":"other"}'
      ;;
    *'"action":"die"'*) exit 7 ;;
  esac
done
`

// collector gathers emitted events across reader goroutines.
type collector struct {
	mu     sync.Mutex
	events []classify.Event
}

func (c *collector) emit(e classify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) byKind(kind classify.Kind) []classify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []classify.Event
	for _, e := range c.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// newFakeChannel writes the fake engine script and builds a channel
// around it.
func newFakeChannel(t *testing.T, c *collector, opts ...func(*channel.Config)) *channel.Channel {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix shell required")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	script := filepath.Join(t.TempDir(), "fake-engine.sh")
	require.NoError(t, os.WriteFile(script, []byte(fakeEngine), 0o755))

	cfg := channel.Config{
		Path: "sh",
		Args: []string{script},
		Supported: []domain.Action{
			domain.ActionScan,
			domain.ActionTranscribe,
			"slow", "wrong", "die",
		},
	}
	if c != nil {
		cfg.Emit = c.emit
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return channel.New(cfg)
}

// stopChannel shuts the channel down and fails the test on timeout.
func stopChannel(t *testing.T, ch *channel.Channel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ch.Stop(ctx))
}

// TestChannelStartIsIdempotent checks repeated Start and Stop calls.
func TestChannelStartIsIdempotent(t *testing.T) {
	ch := newFakeChannel(t, nil)
	require.NoError(t, ch.Start())
	require.NoError(t, ch.Start())
	assert.True(t, ch.Running())

	stopChannel(t, ch)
	assert.False(t, ch.Running())
	assert.Equal(t, domain.WorkerStopped, ch.State())

	// Second stop completes immediately without error.
	start := time.Now()
	stopChannel(t, ch)
	assert.Less(t, time.Since(start), time.Second)
}

// TestChannelScanEndToEnd checks the scan round trip: three progress
// events in order, then a Completed resolution.
func TestChannelScanEndToEnd(t *testing.T) {
	var c collector
	ch := newFakeChannel(t, &c)
	require.NoError(t, ch.Start())
	defer stopChannel(t, ch)

	outcome, err := ch.Send(t.Context(), domain.NewCommand(domain.ActionScan).With(domain.ParamDirectory, "/media"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, outcome.Kind)

	progress := c.byKind(classify.KindProgress)
	require.Len(t, progress, 3)
	wantLabels := []string{"a.mp4", "b.mp4", "c.mp4"}
	for i, e := range progress {
		assert.Equal(t, i+1, e.Current)
		assert.Equal(t, 3, e.Total)
		assert.Equal(t, wantLabels[i], e.Label)
	}
}

// TestChannelRejectsOverlappingSend checks the serial-only invariant.
func TestChannelRejectsOverlappingSend(t *testing.T) {
	ch := newFakeChannel(t, nil)
	require.NoError(t, ch.Start())
	defer stopChannel(t, ch)

	first := make(chan domain.Outcome, 1)
	go func() {
		outcome, err := ch.Send(context.Background(), domain.NewCommand("slow"))
		if err == nil {
			first <- outcome
		}
	}()

	// Let the first command register its pending completion.
	time.Sleep(200 * time.Millisecond)

	_, err := ch.Send(t.Context(), domain.NewCommand(domain.ActionScan))
	require.ErrorIs(t, err, channel.ErrCommandPending)

	select {
	case outcome := <-first:
		assert.Equal(t, domain.OutcomeCompleted, outcome.Kind)
	case <-time.After(10 * time.Second):
		t.Fatal("first command never resolved")
	}
}

// TestChannelMismatchedMarkerDoesNotResolve checks exact action
// equality: a marker for a different action must leave the pending
// command unresolved.
func TestChannelMismatchedMarkerDoesNotResolve(t *testing.T) {
	var c collector
	ch := newFakeChannel(t, &c)
	require.NoError(t, ch.Start())
	defer stopChannel(t, ch)

	ctx, cancel := context.WithTimeout(t.Context(), 700*time.Millisecond)
	defer cancel()

	outcome, err := ch.Send(ctx, domain.NewCommand("wrong"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCancelled, outcome.Kind, "mismatched marker must not complete the command")

	completions := c.byKind(classify.KindCompletion)
	require.NotEmpty(t, completions, "the stray marker still flows to subscribers")
	assert.Equal(t, "other", completions[0].Action)
}

// TestChannelStaleMarkerIgnoredAfterCancel checks that a cancelled
// command's late marker does not resolve the next command incorrectly,
// and the channel stays usable.
func TestChannelStaleMarkerIgnoredAfterCancel(t *testing.T) {
	ch := newFakeChannel(t, nil)
	require.NoError(t, ch.Start())
	defer stopChannel(t, ch)

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()

	outcome, err := ch.Send(ctx, domain.NewCommand("slow"))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCancelled, outcome.Kind)

	// The worker finishes the cancelled command anyway; its marker must
	// be dropped and the next command must still resolve on its own tag.
	outcome, err = ch.Send(t.Context(), domain.NewCommand(domain.ActionScan))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, outcome.Kind)
}

// TestChannelWorkerCrashFailsPending checks the worker dying mid-command
// resolves the pending as Failed instead of hanging the caller.
func TestChannelWorkerCrashFailsPending(t *testing.T) {
	ch := newFakeChannel(t, nil)
	require.NoError(t, ch.Start())
	defer stopChannel(t, ch)

	outcome, err := ch.Send(t.Context(), domain.NewCommand("die"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	assert.Equal(t, 7, outcome.ExitCode)

	assert.Eventually(t, func() bool {
		return ch.State() == domain.WorkerCrashed
	}, 5*time.Second, 50*time.Millisecond)

	_, err = ch.Send(t.Context(), domain.NewCommand(domain.ActionScan))
	assert.ErrorIs(t, err, channel.ErrNotRunning)

	assert.ErrorIs(t, ch.Start(), channel.ErrNotRestartable)
}

// TestChannelSendBeforeStart checks Send on an unstarted channel.
func TestChannelSendBeforeStart(t *testing.T) {
	ch := newFakeChannel(t, nil)
	_, err := ch.Send(t.Context(), domain.NewCommand(domain.ActionScan))
	assert.ErrorIs(t, err, channel.ErrNotRunning)
}

// TestChannelStopForceKillsStubbornWorker checks the bounded grace
// period followed by a tree kill.
func TestChannelStopForceKillsStubbornWorker(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell required")
	}

	// A worker that never reads stdin and never exits on its own.
	script := filepath.Join(t.TempDir(), "stubborn.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nwhile true; do sleep 1; done\n"), 0o755))

	ch := channel.New(channel.Config{
		Path:      "sh",
		Args:      []string{script},
		StopGrace: 300 * time.Millisecond,
	})
	require.NoError(t, ch.Start())

	start := time.Now()
	stopChannel(t, ch)
	elapsed := time.Since(start)

	assert.Equal(t, domain.WorkerStopped, ch.State())
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond, "grace period must elapse first")
	assert.Less(t, elapsed, 5*time.Second, "force kill must not wait for the worker")
}

// TestChannelSupports checks the warm worker's declared action set.
func TestChannelSupports(t *testing.T) {
	ch := channel.New(channel.Config{Path: "sh"})
	assert.True(t, ch.Supports(domain.ActionScan))
	assert.True(t, ch.Supports(domain.ActionTranscribe))
	assert.False(t, ch.Supports(domain.ActionExtractTimestamps))
}
