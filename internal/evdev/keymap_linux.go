//go:build linux

package evdev

import (
	"github.com/holoplot/go-evdev"

	"thumbshift/internal/keyevent"
)

// US layout characters of the keys the filter cares about.
var usLayout = map[evdev.EvCode][2]rune{
	evdev.KEY_A: {'a', 'A'}, evdev.KEY_B: {'b', 'B'}, evdev.KEY_C: {'c', 'C'},
	evdev.KEY_D: {'d', 'D'}, evdev.KEY_E: {'e', 'E'}, evdev.KEY_F: {'f', 'F'},
	evdev.KEY_G: {'g', 'G'}, evdev.KEY_H: {'h', 'H'}, evdev.KEY_I: {'i', 'I'},
	evdev.KEY_J: {'j', 'J'}, evdev.KEY_K: {'k', 'K'}, evdev.KEY_L: {'l', 'L'},
	evdev.KEY_M: {'m', 'M'}, evdev.KEY_N: {'n', 'N'}, evdev.KEY_O: {'o', 'O'},
	evdev.KEY_P: {'p', 'P'}, evdev.KEY_Q: {'q', 'Q'}, evdev.KEY_R: {'r', 'R'},
	evdev.KEY_S: {'s', 'S'}, evdev.KEY_T: {'t', 'T'}, evdev.KEY_U: {'u', 'U'},
	evdev.KEY_V: {'v', 'V'}, evdev.KEY_W: {'w', 'W'}, evdev.KEY_X: {'x', 'X'},
	evdev.KEY_Y: {'y', 'Y'}, evdev.KEY_Z: {'z', 'Z'},

	evdev.KEY_1: {'1', '!'}, evdev.KEY_2: {'2', '@'}, evdev.KEY_3: {'3', '#'},
	evdev.KEY_4: {'4', '$'}, evdev.KEY_5: {'5', '%'}, evdev.KEY_6: {'6', '^'},
	evdev.KEY_7: {'7', '&'}, evdev.KEY_8: {'8', '*'}, evdev.KEY_9: {'9', '('},
	evdev.KEY_0: {'0', ')'},

	evdev.KEY_MINUS:      {'-', '_'},
	evdev.KEY_EQUAL:      {'=', '+'},
	evdev.KEY_LEFTBRACE:  {'[', '{'},
	evdev.KEY_RIGHTBRACE: {']', '}'},
	evdev.KEY_SEMICOLON:  {';', ':'},
	evdev.KEY_APOSTROPHE: {'\'', '"'},
	evdev.KEY_GRAVE:      {'`', '~'},
	evdev.KEY_BACKSLASH:  {'\\', '|'},
	evdev.KEY_COMMA:      {',', '<'},
	evdev.KEY_DOT:        {'.', '>'},
	evdev.KEY_SLASH:      {'/', '?'},
	evdev.KEY_SPACE:      {' ', ' '},
}

// Keymap assigns evdev key codes to the thumb-shift keys.
type Keymap struct {
	Left  evdev.EvCode
	Right evdev.EvCode
}

// DefaultKeymap uses the Japanese conversion keys as thumb keys.
func DefaultKeymap() Keymap {
	return Keymap{Left: evdev.KEY_MUHENKAN, Right: evdev.KEY_HENKAN}
}

// held tracks modifier keys that change translation.
type held struct {
	shift   int
	control int
	alt     int
	super   int
}

func (h *held) update(code evdev.EvCode, value int32) bool {
	var n *int
	switch code {
	case evdev.KEY_LEFTSHIFT, evdev.KEY_RIGHTSHIFT:
		n = &h.shift
	case evdev.KEY_LEFTCTRL, evdev.KEY_RIGHTCTRL:
		n = &h.control
	case evdev.KEY_LEFTALT, evdev.KEY_RIGHTALT:
		n = &h.alt
	case evdev.KEY_LEFTMETA, evdev.KEY_RIGHTMETA:
		n = &h.super
	default:
		return false
	}
	switch value {
	case 1:
		*n++
	case 0:
		if *n > 0 {
			*n--
		}
	}
	return true
}

// Translation is the outcome of translating one input event.
type Translation int

const (
	// Ignore drops the event: not a key, or a modifier.
	Ignore Translation = iota
	// Feed passes the key to the filter.
	Feed
	// Reset discards pending keys; the key itself is not filtered.
	Reset
)

// translator turns raw EV_KEY events into key events.
type translator struct {
	keymap Keymap
	mods   held
}

func (t *translator) translate(ev *evdev.InputEvent) (keyevent.KeyEvent, Translation) {
	if ev.Type != evdev.EV_KEY {
		return keyevent.KeyEvent{}, Ignore
	}
	if t.mods.update(ev.Code, ev.Value) {
		return keyevent.KeyEvent{}, Ignore
	}

	var mods keyevent.Modifier
	if ev.Value == 0 {
		mods = mods.With(keyevent.ModRelease)
	}

	switch ev.Code {
	case t.keymap.Left:
		return keyevent.New(keyevent.LeftShift, mods), Feed
	case t.keymap.Right:
		return keyevent.New(keyevent.RightShift, mods), Feed
	}

	chars, ok := usLayout[ev.Code]
	if !ok || t.mods.control > 0 || t.mods.alt > 0 || t.mods.super > 0 {
		if ev.Value == 0 {
			return keyevent.KeyEvent{}, Ignore
		}
		return keyevent.KeyEvent{}, Reset
	}

	r := chars[0]
	if t.mods.shift > 0 {
		r = chars[1]
		mods = mods.With(keyevent.ModShift)
	}
	k := keyevent.Char(r)
	k.Modifiers = mods
	return k, Feed
}
