//go:build !linux

package eventloop

// Now reads the process monotonic clock in microseconds.
func Now() int64 {
	return fallbackNow()
}
