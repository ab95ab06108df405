//go:build !unix

package fdlimit

// Detect returns a conservative default where rlimits are not available.
func Detect() uint64 {
	return defaultLimit
}
