package filter

import (
	"fmt"

	"thumbshift/internal/keyevent"
)

// BothShifts is the combo name of the two thumb-shift keys pressed together.
const BothShifts = "[" + keyevent.LeftShift + "][" + keyevent.RightShift + "]"

// mergeShift applies the thumb-shift bit denoted by shift to char.
// It is a no-op when shift is not a thumb-shift key.
func mergeShift(shift, char keyevent.KeyEvent) keyevent.KeyEvent {
	switch shift.Name {
	case keyevent.LeftShift:
		char.Modifiers = char.Modifiers.With(keyevent.ModLShift)
	case keyevent.RightShift:
		char.Modifiers = char.Modifiers.With(keyevent.ModRShift)
	}
	return char
}

// comboName returns the canonical name of a homogeneous pair: two
// thumb-shift keys or two character keys. Character pairs are ordered by
// code point. Any other pair is a caller bug.
func comboName(x, y keyevent.KeyEvent) string {
	switch {
	case x.IsShift() && y.IsShift():
		return BothShifts
	case x.IsChar() && y.IsChar():
		lo, hi := x.Code, y.Code
		if hi < lo {
			lo, hi = hi, lo
		}
		return "[" + string(lo) + string(hi) + "]"
	default:
		panic(fmt.Sprintf("filter: comboName on non-homogeneous pair %s, %s", x, y))
	}
}

// homogeneous reports whether x and y are both character keys or both
// thumb-shift keys.
func homogeneous(x, y keyevent.KeyEvent) bool {
	return (x.IsChar() && y.IsChar()) || (x.IsShift() && y.IsShift())
}

// shiftChord reports whether one of x and y is a thumb-shift key and the
// other a character key.
func shiftChord(x, y keyevent.KeyEvent) bool {
	return (x.IsShift() && y.IsChar()) || (x.IsChar() && y.IsShift())
}

// absorb folds the thumb-shift bit of s into its partner p and returns p.
// A thumb-shift and a character merge into the shifted character whichever
// of the two is s; otherwise p is returned with only s's shift bit applied.
func absorb(s, p keyevent.KeyEvent) keyevent.KeyEvent {
	if p.IsShift() && s.IsChar() {
		return mergeShift(p, s)
	}
	return mergeShift(s, p)
}
