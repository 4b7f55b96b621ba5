//go:build darwin || linux

package smtp

import (
	"syscall"
)

// setSocketOptions enables SO_REUSEADDR and TCP_NODELAY on the dialed
// socket, per spec.md §4.5's "Required socket options". Grounded on the
// teacher's platform-specific build-tagged files (misc/sys_unix.go,
// misc/sys_linux.go) for the pattern of isolating syscall-level code behind
// a build tag.
func setSocketOptions(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
