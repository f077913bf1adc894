//go:build !unix

package metrics

import "time"

// processCPUTime is unavailable without rusage; the CPU gauge stays at 0.
func processCPUTime() time.Duration {
	return 0
}
