package health

import (
	"context"
	"sync/atomic"
	"time"
)

// Runner runs a function on the filter's event loop.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// LoopCheck measures how long the event loop takes to run an empty task.
// A loop slower than slow is degraded; one that does not answer is
// unhealthy.
func LoopCheck(loop Runner, slow time.Duration) Check {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		if err := loop.Do(ctx, func() {}); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "event loop not responding",
				Error:   err.Error(),
			}
		}
		latency := time.Since(start)
		details := map[string]any{"latency_us": latency.Microseconds()}
		if latency > slow {
			return CheckResult{Status: StatusDegraded, Message: "event loop is slow", Details: details}
		}
		return CheckResult{Status: StatusHealthy, Message: "event loop ok", Details: details}
	}
}

// PingCheck wraps a connectivity probe such as a database ping.
func PingCheck(what string, ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: what + " unreachable",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: what + " ok"}
	}
}

// DropCheck reports degraded while a loss counter keeps growing between
// checks.
func DropCheck(what string, count func() uint64) Check {
	var last atomic.Uint64
	return func(ctx context.Context) CheckResult {
		n := count()
		prev := last.Swap(n)
		details := map[string]any{"dropped": n}
		if n > prev {
			return CheckResult{
				Status:  StatusDegraded,
				Message: what + " is dropping events",
				Details: details,
			}
		}
		return CheckResult{Status: StatusHealthy, Message: what + " ok", Details: details}
	}
}
