package keyevent

// Modifier is the modifier bit set of a key event.
type Modifier uint32

const (
	// ModNone indicates no modifiers.
	ModNone Modifier = 0

	ModShift Modifier = 1 << iota
	ModControl
	ModAlt
	ModSuper

	// ModLShift marks a character resolved together with the left
	// thumb-shift key.
	ModLShift
	// ModRShift marks a character resolved together with the right
	// thumb-shift key.
	ModRShift

	// ModTestDelay marks a synthetic event asking the filter to block for
	// the number of microseconds held in the event name.
	ModTestDelay

	// ModRelease marks a key release.
	ModRelease
)

// ignoredForBase are the bits BaseEqual does not compare.
const ignoredForBase = ModRelease | ModLShift | ModRShift

// order fixes the notation order of modifier names.
var order = []struct {
	mod  Modifier
	name string
}{
	{ModShift, "shift"},
	{ModControl, "control"},
	{ModAlt, "alt"},
	{ModSuper, "super"},
	{ModLShift, "lshift"},
	{ModRShift, "rshift"},
	{ModTestDelay, "usleep"},
	{ModRelease, "release"},
}

var modifierNames = map[string]Modifier{
	"shift":   ModShift,
	"control": ModControl,
	"ctrl":    ModControl,
	"alt":     ModAlt,
	"meta":    ModAlt,
	"super":   ModSuper,
	"lshift":  ModLShift,
	"rshift":  ModRShift,
	"usleep":  ModTestDelay,
	"release": ModRelease,
}

// Has returns true if m contains mod.
func (m Modifier) Has(mod Modifier) bool {
	return m&mod != 0
}

// With returns m with mod added.
func (m Modifier) With(mod Modifier) Modifier {
	return m | mod
}

// Without returns m with mod removed.
func (m Modifier) Without(mod Modifier) Modifier {
	return m &^ mod
}

func (m Modifier) base() Modifier {
	return m.Without(ignoredForBase)
}

func (m Modifier) names() []string {
	var out []string
	for _, o := range order {
		if m.Has(o.mod) {
			out = append(out, o.name)
		}
	}
	return out
}
