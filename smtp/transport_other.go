//go:build !darwin && !linux

package smtp

import "syscall"

// setSocketOptions is a no-op on platforms other than darwin/linux, mirroring
// the teacher's misc/sys_windows.go pattern of degrading gracefully on
// platforms where the syscall-level tuning isn't wired up, rather than
// failing the dial. SO_REUSEADDR/TCP_NODELAY remain at their OS defaults.
func setSocketOptions(_, _ string, _ syscall.RawConn) error {
	return nil
}
