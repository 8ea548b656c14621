// Package keyevent defines the key event value type that flows through the
// thumb-shift filter, together with its modifier bit set and a compact
// textual notation used by scripts, traces and logs.
//
// # Notation
//
// A key event is written either as a bare key name or as a parenthesised
// list of modifier names followed by the key name:
//
//	a                  character key 'a'
//	lshift             left thumb-shift key (no character)
//	(release a)        release of 'a'
//	(lshift a)         'a' with the left thumb-shift applied
//	(usleep 50000)     test-delay of 50ms
//
// Single printable characters carry their code point in Code; named keys
// carry Code 0.
package keyevent

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Names of the two thumb-shift keys.
const (
	LeftShift  = "lshift"
	RightShift = "rshift"
)

// KeyEvent is a physical or synthesized keystroke.
type KeyEvent struct {
	// Name is the stable symbolic identifier ("a", "lshift", "[fj]").
	// For test-delay events it holds the delay in microseconds.
	Name string

	// Code is the Unicode scalar value produced by the key, or 0 for
	// modifier and other non-character keys.
	Code rune

	// Modifiers is the modifier state of the event.
	Modifiers Modifier
}

// New creates a key event from a name, deriving Code when the name is a
// single printable character.
func New(name string, mods Modifier) KeyEvent {
	return KeyEvent{Name: name, Code: codeFor(name), Modifiers: mods}
}

// Char creates a character key event.
func Char(r rune) KeyEvent {
	if r == ' ' {
		return KeyEvent{Name: "space", Code: r}
	}
	return KeyEvent{Name: string(r), Code: r}
}

// Delay creates a test-delay event for d.
func Delay(d time.Duration) KeyEvent {
	return KeyEvent{Name: strconv.FormatInt(d.Microseconds(), 10), Modifiers: ModTestDelay}
}

// Release returns a copy of k with the release bit set.
func (k KeyEvent) Release() KeyEvent {
	k.Modifiers = k.Modifiers.With(ModRelease)
	return k
}

// IsRelease reports whether k is a key release.
func (k KeyEvent) IsRelease() bool {
	return k.Modifiers.Has(ModRelease)
}

// IsShift reports whether k is one of the thumb-shift keys.
func (k KeyEvent) IsShift() bool {
	return k.Name == LeftShift || k.Name == RightShift
}

// IsChar reports whether k produces a character.
func (k KeyEvent) IsChar() bool {
	return k.Code != 0 && !k.IsShift()
}

// BaseEqual reports whether k and other refer to the same physical key,
// ignoring the release bit and any applied thumb-shift bits.
func (k KeyEvent) BaseEqual(other KeyEvent) bool {
	return k.Name == other.Name &&
		k.Code == other.Code &&
		k.Modifiers.base() == other.Modifiers.base()
}

// Delay returns the duration encoded in a test-delay event's name.
// It returns 0 for events without ModTestDelay or with a malformed name.
func (k KeyEvent) Delay() time.Duration {
	if !k.Modifiers.Has(ModTestDelay) {
		return 0
	}
	us, err := strconv.ParseInt(k.Name, 10, 64)
	if err != nil || us < 0 {
		return 0
	}
	return time.Duration(us) * time.Microsecond
}

// String returns the event in notation form.
func (k KeyEvent) String() string {
	names := k.Modifiers.names()
	if len(names) == 0 {
		return k.Name
	}
	return "(" + strings.Join(names, " ") + " " + k.Name + ")"
}

// Parse parses an event written in notation form.
func Parse(s string) (KeyEvent, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return KeyEvent{}, fmt.Errorf("keyevent: empty key")
	}

	if !strings.HasPrefix(s, "(") {
		if strings.ContainsAny(s, " \t()") && utf8.RuneCountInString(s) > 1 {
			return KeyEvent{}, fmt.Errorf("keyevent: malformed key %q", s)
		}
		return New(s, ModNone), nil
	}

	if !strings.HasSuffix(s, ")") {
		return KeyEvent{}, fmt.Errorf("keyevent: unbalanced parenthesis in %q", s)
	}
	fields := strings.Fields(s[1 : len(s)-1])
	if len(fields) == 0 {
		return KeyEvent{}, fmt.Errorf("keyevent: empty key list %q", s)
	}

	name := fields[len(fields)-1]
	var mods Modifier
	for _, f := range fields[:len(fields)-1] {
		m, ok := modifierNames[f]
		if !ok {
			return KeyEvent{}, fmt.Errorf("keyevent: unknown modifier %q in %q", f, s)
		}
		mods = mods.With(m)
	}

	if mods.Has(ModTestDelay) {
		if _, err := strconv.ParseInt(name, 10, 64); err != nil {
			return KeyEvent{}, fmt.Errorf("keyevent: invalid delay %q: %w", name, err)
		}
		return KeyEvent{Name: name, Modifiers: mods}, nil
	}
	return New(name, mods), nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// static tables.
func MustParse(s string) KeyEvent {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

func codeFor(name string) rune {
	if name == "space" {
		return ' '
	}
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || size != len(name) || r < 0x20 || r == 0x7f {
		return 0
	}
	return r
}
