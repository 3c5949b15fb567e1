package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/hwman/internal/metrics"
)

// runnerFunc executes one control command on the remote host and returns
// the command's error. Swapped out in tests.
type runnerFunc func(ctx context.Context, target, command string) error

func sshRun(ctx context.Context, target, command string) error {
	// #nosec G204 target and command come from operator-owned config
	cmd := exec.CommandContext(ctx, "ssh", "-o", "BatchMode=yes", target, command)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}

// remoteService supervises a process on another host. The only live handle
// it holds is the local ssh transport child; the remote process itself is
// observed and controlled through fresh ssh invocations matching the
// configured pattern. Transport and remote liveness are therefore
// independent observations.
type remoteService struct {
	spec      Spec
	transport *localService
	run       runnerFunc
}

func newRemoteService(spec Spec) *remoteService {
	t := newLocalService(spec)
	t.buildCmd = func() *exec.Cmd {
		// #nosec G204 destination and command come from operator-owned config
		return exec.Command("ssh", "-o", "BatchMode=yes", spec.Remote.Target(), spec.Remote.RemoteCommand)
	}
	t.stdin = func() io.Reader {
		if spec.Remote.SecretEnv == "" {
			return nil
		}
		secret := os.Getenv(spec.Remote.SecretEnv)
		if secret == "" {
			return nil
		}
		// One write, then EOF; the child never gets the secret via argv or env.
		return strings.NewReader(secret + "\n")
	}
	return &remoteService{spec: spec, transport: t, run: sshRun}
}

func (r *remoteService) Name() string { return r.spec.Name }
func (r *remoteService) Kind() Kind   { return KindRemote }

// Start spawns the ssh transport and waits the settle interval. The remote
// end registers itself asynchronously and offers no readiness handshake;
// the settle sleep is the stand-in, and RetryConnect covers the remainder
// on the consumer side.
func (r *remoteService) Start(ctx context.Context) error {
	if err := r.transport.Start(ctx); err != nil {
		return err
	}
	select {
	case <-time.After(r.spec.settle()):
	case <-ctx.Done():
		return ctx.Err()
	}
	slog.Info("remote service started", "name", r.spec.Name, "host", r.spec.Remote.Host)
	return nil
}

// Stop kills the remote process by pattern over a fresh ssh connection,
// escalating to SIGKILL if it does not clear within the stop window, then
// tears down the local transport. A failing control command is reported as
// a RemoteControlError; the transport teardown still proceeds.
func (r *remoteService) Stop(ctx context.Context) error {
	transportUp := r.transport.alive()
	remoteUp := r.probeRemote(ctx)
	if !transportUp && !remoteUp {
		return ErrNotRunning
	}

	var controlErr error
	if remoteUp {
		controlErr = r.killRemote(ctx)
	}

	if transportUp {
		if err := r.transport.Stop(ctx); err != nil && controlErr == nil {
			controlErr = err
		}
	}
	return controlErr
}

func (r *remoteService) killRemote(ctx context.Context) error {
	pattern := r.spec.Remote.Pattern
	if err := r.run(ctx, r.spec.Remote.Target(), "pkill -f "+shellQuote(pattern)); err != nil {
		// pkill exits 1 when nothing matched; that is a clean stop.
		if !isExitCode(err, 1) {
			rce := &RemoteControlError{Service: r.spec.Name, Op: "pkill", Err: err}
			slog.Error("remote stop failed", "name", r.spec.Name, "err", err)
			return rce
		}
	}

	deadline := time.Now().Add(r.spec.stopWait())
	for time.Now().Before(deadline) {
		if !r.probeRemote(ctx) {
			return nil
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	metrics.IncKill(r.spec.Name)
	slog.Warn("remote service did not stop in time, killing", "name", r.spec.Name)
	if err := r.run(ctx, r.spec.Remote.Target(), "pkill -9 -f "+shellQuote(pattern)); err != nil && !isExitCode(err, 1) {
		rce := &RemoteControlError{Service: r.spec.Name, Op: "pkill -9", Err: err}
		slog.Error("remote kill failed", "name", r.spec.Name, "err", err)
		return rce
	}
	return nil
}

// probeRemote checks for the pattern on the remote host. An unreachable
// host counts as not running; the failure is surfaced through metrics, not
// an error, because status must always be answerable.
func (r *remoteService) probeRemote(ctx context.Context) bool {
	err := r.run(ctx, r.spec.Remote.Target(), "pgrep -f "+shellQuote(r.spec.Remote.Pattern))
	if err == nil {
		return true
	}
	if !isExitCode(err, 1) {
		metrics.IncRemoteProbeFailure(r.spec.Name)
		slog.Warn("remote probe failed", "name", r.spec.Name, "err", err)
	}
	return false
}

// Status reports both legs. Running means both the transport and the remote
// process are up; the Remote field preserves the individual observations so
// an operator can tell a dead tunnel from a dead instrument.
func (r *remoteService) Status(ctx context.Context) Status {
	st := r.transport.Status(ctx)
	remoteUp := r.probeRemote(ctx)
	transportUp := st.Running

	st.Kind = KindRemote
	st.Remote = &RemoteStatus{Transport: transportUp, Remote: remoteUp}
	st.Running = transportUp && remoteUp
	switch {
	case st.Running:
		st.State = StateRunning
	case st.State == StateNeverStarted && !remoteUp:
		st.State = StateNeverStarted
	default:
		st.State = StateExited
	}
	return st
}

// Cleanup force-kills both legs, best effort.
func (r *remoteService) Cleanup(ctx context.Context) {
	if r.spec.Remote.Pattern != "" {
		_ = r.run(ctx, r.spec.Remote.Target(), "pkill -9 -f "+shellQuote(r.spec.Remote.Pattern))
	}
	r.transport.Cleanup(ctx)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isExitCode(err error, code int) bool {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode() == code
	}
	return false
}
