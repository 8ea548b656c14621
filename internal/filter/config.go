package filter

import "fmt"

// Default thresholds, in microseconds.
const (
	DefaultTimeout int64 = 100_000
	DefaultOverlap int64 = 50_000
	DefaultMaxWait int64 = 10_000_000
)

// Config holds the filter thresholds.
type Config struct {
	// Timeout is the maximum age of a pending key before it is forced to
	// resolve on its own.
	Timeout int64

	// Overlap is the maximum gap between two presses for them to be
	// considered a chord. A gap equal to Overlap still qualifies.
	Overlap int64

	// MaxWait bounds the timer when nothing else constrains it.
	MaxWait int64

	// SpecialDoubles lists the combo names recognised as chords of two
	// character keys or of both thumb-shift keys.
	SpecialDoubles []string
}

// DefaultSpecialDoubles returns the default special-double combo names.
func DefaultSpecialDoubles() []string {
	return []string{"[fj]", "[gh]", BothShifts}
}

// DefaultConfig returns a configuration with the default thresholds.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		Overlap:        DefaultOverlap,
		MaxWait:        DefaultMaxWait,
		SpecialDoubles: DefaultSpecialDoubles(),
	}
}

// applyDefaults fills in non-positive thresholds. A nil SpecialDoubles
// gets the defaults; an empty non-nil slice disables special doubles.
func (c Config) applyDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Overlap <= 0 {
		c.Overlap = d.Overlap
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.SpecialDoubles == nil {
		c.SpecialDoubles = d.SpecialDoubles
	}
	return c
}

// String summarises the thresholds for logs.
func (c Config) String() string {
	return fmt.Sprintf("timeout=%dus overlap=%dus maxwait=%dus doubles=%v",
		c.Timeout, c.Overlap, c.MaxWait, c.SpecialDoubles)
}
