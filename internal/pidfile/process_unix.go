//go:build !windows

package pidfile

import "syscall"

// processAlive sends signal 0, which performs no action but reports
// whether pid exists and is reachable by this process.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
