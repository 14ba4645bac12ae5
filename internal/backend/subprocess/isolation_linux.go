//go:build linux

package subprocess

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// applyIsolation drops the child to a dedicated non-root uid/gid, puts
// it in its own process group (so killProcessGroup can reach children
// it spawns), and asks the kernel to SIGKILL it if cortexd itself
// dies — the same no-orphan discipline the spec's sandbox contract
// asks of the container backend, applied at the syscall level since a
// subprocess has no cgroup/namespace boundary of its own.
func applyIsolation(cmd *exec.Cmd, uid, gid int) {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGKILL,
	}
	if uid > 0 && gid > 0 {
		attr.Credential = &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}
	}
	cmd.SysProcAttr = attr
}

// killProcessGroup sends SIGKILL to the whole process group so a timed
// out computation cannot leave orphaned children behind.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
