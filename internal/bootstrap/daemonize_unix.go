//go:build unix

package bootstrap

import "syscall"

func daemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

func setUmask() {
	syscall.Umask(0)
}
