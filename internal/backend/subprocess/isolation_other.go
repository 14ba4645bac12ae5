//go:build !linux

package subprocess

import "os/exec"

// applyIsolation is a no-op outside Linux; the uid/gid-drop and
// process-group isolation it provides on Linux rely on syscalls that
// don't exist elsewhere. The subprocess backend is documented as a
// development-only fallback (see original_source's own ProcessExecutor
// docstring), so this is an accepted degradation, not silent unsafety
// in a multi-tenant deployment (those always run the Docker backend).
func applyIsolation(cmd *exec.Cmd, uid, gid int) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
