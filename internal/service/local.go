package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/hwman/internal/metrics"
)

// localService runs one child process on this host. The child gets its own
// process group so signals aimed at it never reach the supervisor.
type localService struct {
	spec Spec

	// buildCmd overrides the spec's command construction; the remote
	// transport uses it to assemble the ssh invocation directly.
	buildCmd func() *exec.Cmd
	// stdin, when set, is evaluated at spawn time and connected to the
	// child's stdin. The pipe closes after the reader drains.
	stdin func() io.Reader

	mu        sync.Mutex
	cmd       *exec.Cmd
	started   bool
	running   bool
	pid       int
	startedAt time.Time
	stoppedAt time.Time
	exitErr   error
	waitDone  chan struct{}
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func newLocalService(spec Spec) *localService {
	return &localService{spec: spec}
}

func (l *localService) Name() string { return l.spec.Name }
func (l *localService) Kind() Kind   { return KindLocal }

// Start spawns the child. The caller (supervisor) holds the per-service
// lock, so the alive probe and the spawn are one atomic step from the
// outside.
func (l *localService) Start(ctx context.Context) error {
	if l.alive() {
		return ErrAlreadyRunning
	}

	var cmd *exec.Cmd
	if l.buildCmd != nil {
		cmd = l.buildCmd()
	} else {
		cmd = l.spec.BuildCommand()
	}
	if l.spec.WorkDir != "" {
		cmd.Dir = l.spec.WorkDir
	}
	if len(l.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), l.spec.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if l.stdin != nil {
		if in := l.stdin(); in != nil {
			cmd.Stdin = in
		}
	}
	l.wireOutput(cmd)

	if err := cmd.Start(); err != nil {
		l.closeWriters()
		return err
	}
	done := make(chan struct{})

	l.mu.Lock()
	l.cmd = cmd
	l.started = true
	l.running = true
	l.pid = cmd.Process.Pid
	l.startedAt = time.Now()
	l.exitErr = nil
	l.waitDone = done
	l.mu.Unlock()

	go l.monitor(cmd, done)

	metrics.IncStart(l.spec.Name)
	metrics.SetRunning(l.spec.Name, true)
	slog.Info("service started", "name", l.spec.Name, "pid", cmd.Process.Pid)
	return nil
}

// monitor owns the single cmd.Wait for this run.
func (l *localService) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	l.mu.Lock()
	l.running = false
	l.stoppedAt = time.Now()
	l.exitErr = err
	l.mu.Unlock()
	l.closeWriters()
	close(done)
	metrics.SetRunning(l.spec.Name, false)
}

// Stop signals SIGTERM to the process group, waits the configured window
// for the monitor to reap the child, and escalates to SIGKILL.
func (l *localService) Stop(ctx context.Context) error {
	l.mu.Lock()
	running := l.running
	pid := l.pid
	done := l.waitDone
	l.mu.Unlock()

	if !running {
		return ErrNotRunning
	}

	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.spec.stopWait()):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		metrics.IncKill(l.spec.Name)
		slog.Warn("service did not stop in time, killed", "name", l.spec.Name, "pid", pid)
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
			// reap is best-effort at this point
		}
	}
	metrics.IncStop(l.spec.Name)
	slog.Info("service stopped", "name", l.spec.Name)
	return nil
}

func (l *localService) Status(ctx context.Context) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Status{
		Name:      l.spec.Name,
		Kind:      KindLocal,
		Running:   l.running,
		PID:       l.pid,
		StartedAt: l.startedAt,
		StoppedAt: l.stoppedAt,
	}
	switch {
	case !l.started:
		st.State = StateNeverStarted
		st.PID = 0
	case l.running:
		st.State = StateRunning
	default:
		st.State = StateExited
		if l.exitErr != nil {
			st.ExitError = l.exitErr.Error()
		}
	}
	return st
}

// Cleanup force-stops whatever is left. Used on shutdown after Stop has
// already had its chance.
func (l *localService) Cleanup(ctx context.Context) {
	l.mu.Lock()
	running := l.running
	pid := l.pid
	l.mu.Unlock()
	if running && pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	l.closeWriters()
}

func (l *localService) alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// wireOutput connects the child's streams to the configured rotating
// writers. Streams without a destination stay nil; exec opens the null
// device for those itself and closes it after the spawn, so the parent
// never holds a descriptor for them.
func (l *localService) wireOutput(cmd *exec.Cmd) {
	lc := l.spec.Log
	if lc.Dir == "" && lc.StdoutPath == "" && lc.StderrPath == "" {
		return
	}
	if lc.Dir != "" {
		_ = os.MkdirAll(lc.Dir, 0o750)
	}
	outW, errW, _ := lc.Writers(l.spec.Name)
	l.mu.Lock()
	l.outCloser = outW
	l.errCloser = errW
	l.mu.Unlock()
	if outW != nil {
		cmd.Stdout = outW
	}
	if errW != nil {
		cmd.Stderr = errW
	}
}

func (l *localService) closeWriters() {
	l.mu.Lock()
	out, errw := l.outCloser, l.errCloser
	l.outCloser, l.errCloser = nil, nil
	l.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errw != nil {
		_ = errw.Close()
	}
}
