// Package service supervises the external programs the lab hardware depends
// on: local helper daemons and the remote signal processor reached over an
// ssh control connection. Each service is started, probed and stopped by
// name; the per-name lock serializes lifecycle operations so concurrent
// start requests cannot double-spawn.
package service

import (
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/hwman/internal/logger"
)

// Kind selects the service implementation.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

const (
	// DefaultStopWait bounds the graceful SIGTERM window before SIGKILL.
	DefaultStopWait = 5 * time.Second
	// DefaultSettle is slept after spawning a remote transport; the remote
	// end registers itself asynchronously and offers no readiness signal.
	DefaultSettle = 2 * time.Second
)

// RemoteSpec configures the ssh leg of a remote service.
type RemoteSpec struct {
	Host          string        `json:"host" mapstructure:"host"`
	User          string        `json:"user" mapstructure:"user"`
	RemoteCommand string        `json:"remote_command" mapstructure:"remote_command"`
	Pattern       string        `json:"pattern" mapstructure:"pattern"`
	Settle        time.Duration `json:"settle" mapstructure:"settle"`
	// SecretEnv names the local environment variable whose value is piped
	// once to the remote command's stdin at spawn. The value itself is never
	// stored in the spec or logged.
	SecretEnv string `json:"secret_env" mapstructure:"secret_env"`
}

// Target is the ssh destination, user@host or bare host.
func (r RemoteSpec) Target() string {
	if r.User == "" {
		return r.Host
	}
	return r.User + "@" + r.Host
}

// Spec describes one supervised service.
type Spec struct {
	Name     string        `json:"name" mapstructure:"name"`
	Kind     Kind          `json:"kind" mapstructure:"kind"`
	Command  string        `json:"command" mapstructure:"command"`
	WorkDir  string        `json:"work_dir" mapstructure:"work_dir"`
	Env      []string      `json:"env" mapstructure:"env"`
	Log      logger.Config `json:"log" mapstructure:"log"`
	StopWait time.Duration `json:"stop_wait" mapstructure:"stop_wait"`
	Remote   RemoteSpec    `json:"remote" mapstructure:"remote"`
}

func (s Spec) stopWait() time.Duration {
	if s.StopWait <= 0 {
		return DefaultStopWait
	}
	return s.StopWait
}

func (s Spec) settle() time.Duration {
	if s.Remote.Settle <= 0 {
		return DefaultSettle
	}
	return s.Remote.Settle
}

// BuildCommand constructs an *exec.Cmd for the spec's command string. A
// shell is only interposed when the command needs one, and an explicit
// "sh -c ..." prefix is honored without double-wrapping.
func (s Spec) BuildCommand() *exec.Cmd {
	return buildShellCommand(s.Command)
}

func buildShellCommand(cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if after, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", after)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// argument with one layer of outer quotes stripped, so the script inside
// still parses redirections.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
