package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCommandSimple(t *testing.T) {
	cmd := Spec{Command: "sleep 5"}.BuildCommand()
	assert.Contains(t, cmd.Path, "sleep")
	assert.Equal(t, []string{"sleep", "5"}, cmd.Args)
}

func TestBuildCommandShellMetachars(t *testing.T) {
	cmd := Spec{Command: "echo hi > /tmp/x"}.BuildCommand()
	assert.Equal(t, "/bin/sh", cmd.Path)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi > /tmp/x"}, cmd.Args)
}

func TestBuildCommandExplicitShell(t *testing.T) {
	cmd := Spec{Command: `sh -c 'echo hi; sleep 1'`}.BuildCommand()
	assert.Equal(t, "/bin/sh", cmd.Path)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi; sleep 1"}, cmd.Args)
}

func TestBuildCommandEmpty(t *testing.T) {
	cmd := Spec{}.BuildCommand()
	assert.Equal(t, "/bin/true", cmd.Path)
}

func TestSpecDefaults(t *testing.T) {
	s := Spec{}
	assert.Equal(t, DefaultStopWait, s.stopWait())
	assert.Equal(t, DefaultSettle, s.settle())

	s.StopWait = 1
	s.Remote.Settle = 2
	assert.EqualValues(t, 1, s.stopWait())
	assert.EqualValues(t, 2, s.settle())
}

func TestRemoteTarget(t *testing.T) {
	assert.Equal(t, "rp-1", RemoteSpec{Host: "rp-1"}.Target())
	assert.Equal(t, "root@rp-1", RemoteSpec{Host: "rp-1", User: "root"}.Target())
}
