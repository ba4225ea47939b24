//go:build unix

package process

import (
	"syscall"
)

// sysProcAttr puts the child in its own process group, so stopInstance can
// signal every descendant it spawns, not just the immediate child.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGTERM to the process group led by pid.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}
