//go:build unix

package main

import "syscall"

// detachedProcAttr starts the viewer in its own session so it outlives the
// difftool and ignores the terminal's hangup.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
