//go:build windows

package pidfile

import "os"

// processAlive on Windows opens the process handle; unlike on POSIX,
// os.FindProcess itself fails if the pid does not exist.
func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
