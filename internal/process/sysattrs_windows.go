//go:build windows

package process

import (
	"os/exec"
	"strconv"
	"syscall"
)

// Windows creation flags
const createNewProcessGroup = 0x00000200

// configureSysProcAttr creates a new process group so the child tree can be
// terminated as a unit.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// terminateGroup has no graceful equivalent of SIGTERM for arbitrary
// console-less processes; fall back to a tree kill via taskkill.
func terminateGroup(pid int) error {
	return killGroup(pid)
}

// killGroup terminates pid and its whole descendant tree.
func killGroup(pid int) error {
	// #nosec G204
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}
