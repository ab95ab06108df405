//go:build unix

package fdlimit

import "golang.org/x/sys/unix"

// Detect returns the soft RLIMIT_NOFILE of the process.
func Detect() uint64 {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err == nil && lim.Cur > 0 {
		return uint64(lim.Cur)
	}
	return defaultLimit
}
