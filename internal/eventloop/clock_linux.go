//go:build linux

package eventloop

import "golang.org/x/sys/unix"

// Now reads CLOCK_MONOTONIC in microseconds.
func Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackNow()
	}
	return ts.Nano() / 1000
}
