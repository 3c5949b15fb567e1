package service

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemoteHost scripts the remote side: pgrep answers from the alive
// flag, pkill flips it unless control failures are simulated.
type fakeRemoteHost struct {
	mu          sync.Mutex
	alive       bool
	failControl bool
	commands    []string
}

func (f *fakeRemoteHost) run(_ context.Context, _ string, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	switch {
	case strings.HasPrefix(command, "pgrep"):
		if f.alive {
			return nil
		}
		return errors.New("pgrep: no match")
	case strings.HasPrefix(command, "pkill"):
		if f.failControl {
			return errors.New("ssh: connection reset")
		}
		f.alive = false
		return nil
	}
	return nil
}

func (f *fakeRemoteHost) sawCommand(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func newTestRemote(t *testing.T, host *fakeRemoteHost) *remoteService {
	t.Helper()
	spec := Spec{
		Name:     "red-pitaya",
		Kind:     KindRemote,
		StopWait: 500 * time.Millisecond,
		Remote: RemoteSpec{
			Host:          "rp-1",
			User:          "root",
			RemoteCommand: "/opt/rp/run.sh",
			Pattern:       "run.sh",
			Settle:        time.Millisecond,
		},
	}
	rs := newRemoteService(spec)
	// Stand in for the ssh child so tests need no network.
	rs.transport.buildCmd = func() *exec.Cmd { return exec.Command("sleep", "30") }
	rs.run = host.run
	t.Cleanup(func() { rs.transport.Cleanup(context.Background()) })
	return rs
}

func TestRemoteStatusFourStates(t *testing.T) {
	ctx := context.Background()
	host := &fakeRemoteHost{}
	rs := newTestRemote(t, host)

	// Both down, never started.
	st := rs.Status(ctx)
	require.NotNil(t, st.Remote)
	assert.False(t, st.Remote.Transport)
	assert.False(t, st.Remote.Remote)
	assert.False(t, st.Running)
	assert.Equal(t, StateNeverStarted, st.State)

	// Remote up without transport (pre-existing process on the host).
	host.alive = true
	st = rs.Status(ctx)
	assert.False(t, st.Remote.Transport)
	assert.True(t, st.Remote.Remote)
	assert.False(t, st.Running)

	// Both up.
	require.NoError(t, rs.Start(ctx))
	st = rs.Status(ctx)
	assert.True(t, st.Remote.Transport)
	assert.True(t, st.Remote.Remote)
	assert.True(t, st.Running)
	assert.Equal(t, StateRunning, st.State)

	// Transport up, remote died.
	host.mu.Lock()
	host.alive = false
	host.mu.Unlock()
	st = rs.Status(ctx)
	assert.True(t, st.Remote.Transport)
	assert.False(t, st.Remote.Remote)
	assert.False(t, st.Running)
}

func TestRemoteStopKillsPatternAndTransport(t *testing.T) {
	ctx := context.Background()
	host := &fakeRemoteHost{alive: true}
	rs := newTestRemote(t, host)

	require.NoError(t, rs.Start(ctx))
	require.NoError(t, rs.Stop(ctx))

	assert.True(t, host.sawCommand("pkill -f 'run.sh'"))
	st := rs.Status(ctx)
	assert.False(t, st.Remote.Transport)
	assert.False(t, st.Remote.Remote)
}

func TestRemoteStopNotRunning(t *testing.T) {
	host := &fakeRemoteHost{}
	rs := newTestRemote(t, host)
	assert.ErrorIs(t, rs.Stop(context.Background()), ErrNotRunning)
}

func TestRemoteStopControlFailure(t *testing.T) {
	ctx := context.Background()
	host := &fakeRemoteHost{alive: true, failControl: true}
	rs := newTestRemote(t, host)

	require.NoError(t, rs.Start(ctx))
	err := rs.Stop(ctx)

	var rce *RemoteControlError
	require.ErrorAs(t, err, &rce)
	assert.Equal(t, "red-pitaya", rce.Service)
	// The local transport is torn down even when the remote kill failed.
	assert.False(t, rs.transport.alive())
}

func TestRemoteSecretPipedToStdin(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	captured := filepath.Join(dir, "stdin.txt")

	t.Setenv("HWMAN_TEST_SECRET", "hunter2")

	spec := Spec{
		Name: "rp",
		Kind: KindRemote,
		Remote: RemoteSpec{
			Host:          "rp-1",
			RemoteCommand: "irrelevant",
			Pattern:       "x",
			Settle:        time.Millisecond,
			SecretEnv:     "HWMAN_TEST_SECRET",
		},
	}
	rs := newRemoteService(spec)
	rs.run = (&fakeRemoteHost{}).run
	rs.transport.buildCmd = func() *exec.Cmd {
		return exec.Command("/bin/sh", "-c", "cat > "+captured)
	}

	require.NoError(t, rs.Start(ctx))
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(captured)
		return err == nil && string(b) == "hunter2\n"
	}, 3*time.Second, 20*time.Millisecond)
}
