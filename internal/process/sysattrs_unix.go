//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in a new process group so the whole
// tree it spawns can be signalled as a unit.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup asks the child's process group to exit gracefully.
func terminateGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killGroup forcibly terminates the entire process group rooted at pid.
// Supervised processes commonly spawn children that would otherwise keep
// holding network ports after the parent exits.
func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
