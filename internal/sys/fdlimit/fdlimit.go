package fdlimit

const (
	defaultLimit = 8192

	// Each in-flight proxy test may hold a proxy connection, a TLS session to
	// the proxy and a pooled idle connection. Reserve the rest for the web UI,
	// source fetches and log files.
	fdsPerWorker = 4
	reservedFDs  = 64
)

// ClampWorkers bounds requested by what the given descriptor limit can sustain.
// The result is always at least 1.
func ClampWorkers(requested int, limit uint64) int {
	if requested < 1 {
		requested = 1
	}
	if limit <= reservedFDs {
		return 1
	}
	budget := (limit - reservedFDs) / fdsPerWorker
	if budget < 1 {
		return 1
	}
	if uint64(requested) > budget {
		return int(budget)
	}
	return requested
}
