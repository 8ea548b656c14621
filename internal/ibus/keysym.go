package ibus

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"thumbshift/internal/keyevent"
)

// IBus key event state masks.
const (
	ShiftMask   uint32 = 1 << 0
	LockMask    uint32 = 1 << 1
	ControlMask uint32 = 1 << 2
	Mod1Mask    uint32 = 1 << 3 // Alt
	Mod4Mask    uint32 = 1 << 6 // Super/Meta
	ReleaseMask uint32 = 1 << 30
)

// bypassMask is the state that sends a key straight to the application.
const bypassMask = ControlMask | Mod1Mask | Mod4Mask

// Keysyms of keys commonly used as thumb keys.
const (
	KeyMuhenkan         uint32 = 0xff22
	KeyHenkan           uint32 = 0xff23
	KeyHiraganaKatakana uint32 = 0xff27
	KeyZenkakuHankaku   uint32 = 0xff2a
	KeyEisuToggle       uint32 = 0xff30
	KeyShiftL           uint32 = 0xffe1
	KeyShiftR           uint32 = 0xffe2
	KeyControlR         uint32 = 0xffe4
	KeyAltL             uint32 = 0xffe9
	KeyAltR             uint32 = 0xffea
	KeySuperR           uint32 = 0xffec
	KeySpace            uint32 = 0x0020
	unicodeKeysymOffset uint32 = 0x01000000
)

var keysymNames = map[string]uint32{
	"muhenkan":          KeyMuhenkan,
	"henkan":            KeyHenkan,
	"henkan_mode":       KeyHenkan,
	"hiragana_katakana": KeyHiraganaKatakana,
	"zenkaku_hankaku":   KeyZenkakuHankaku,
	"eisu_toggle":       KeyEisuToggle,
	"shift_l":           KeyShiftL,
	"shift_r":           KeyShiftR,
	"control_r":         KeyControlR,
	"alt_l":             KeyAltL,
	"alt_r":             KeyAltR,
	"super_r":           KeySuperR,
	"space":             KeySpace,
}

// ParseKeysym resolves a keysym name ("Muhenkan"), a hexadecimal keysym
// ("0xff22") or a single character.
func ParseKeysym(name string) (uint32, error) {
	if v, ok := keysymNames[strings.ToLower(name)]; ok {
		return v, nil
	}
	if strings.HasPrefix(name, "0x") || strings.HasPrefix(name, "0X") {
		v, err := strconv.ParseUint(name[2:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("keysym %q: %w", name, err)
		}
		return uint32(v), nil
	}
	if r, size := utf8.DecodeRuneInString(name); size == len(name) && r != utf8.RuneError && unicode.IsPrint(r) {
		return runeToKeyval(r), nil
	}
	return 0, fmt.Errorf("unknown keysym %q", name)
}

func keyvalToRune(keyval uint32) rune {
	// Latin-1 keysyms are their own code points.
	if keyval >= 0x20 && keyval <= 0x7e {
		return rune(keyval)
	}
	if keyval >= 0xa0 && keyval <= 0xff {
		return rune(keyval)
	}

	if keyval >= unicodeKeysymOffset {
		return rune(keyval - unicodeKeysymOffset)
	}

	return 0
}

func runeToKeyval(r rune) uint32 {
	if (r >= 0x20 && r <= 0x7e) || (r >= 0xa0 && r <= 0xff) {
		return uint32(r)
	}
	return unicodeKeysymOffset + uint32(r)
}

// Action tells the service what to do with a raw key event.
type Action int

const (
	// Filter feeds the translated event to the engine.
	Filter Action = iota
	// Bypass hands the key to the application untouched.
	Bypass
	// ResetBypass discards pending keys, then bypasses.
	ResetBypass
)

func (a Action) String() string {
	switch a {
	case Filter:
		return "filter"
	case Bypass:
		return "bypass"
	case ResetBypass:
		return "reset-bypass"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Keymap assigns keysyms to the two thumb-shift keys.
type Keymap struct {
	left  map[uint32]struct{}
	right map[uint32]struct{}
}

// NewKeymap builds a Keymap from keysym names.
func NewKeymap(left, right []string) (*Keymap, error) {
	km := &Keymap{
		left:  make(map[uint32]struct{}, len(left)),
		right: make(map[uint32]struct{}, len(right)),
	}
	for _, name := range left {
		v, err := ParseKeysym(name)
		if err != nil {
			return nil, fmt.Errorf("left thumb: %w", err)
		}
		km.left[v] = struct{}{}
	}
	for _, name := range right {
		v, err := ParseKeysym(name)
		if err != nil {
			return nil, fmt.Errorf("right thumb: %w", err)
		}
		if _, dup := km.left[v]; dup {
			return nil, fmt.Errorf("keysym %q is mapped to both thumbs", name)
		}
		km.right[v] = struct{}{}
	}
	return km, nil
}

// DefaultKeymap maps Muhenkan to the left thumb and Henkan to the right.
func DefaultKeymap() *Keymap {
	return &Keymap{
		left:  map[uint32]struct{}{KeyMuhenkan: {}},
		right: map[uint32]struct{}{KeyHenkan: {}},
	}
}

// Translate converts an IBus key event into a filter key event.
func (km *Keymap) Translate(keyval, state uint32) (keyevent.KeyEvent, Action) {
	if state&bypassMask != 0 {
		return keyevent.KeyEvent{}, Bypass
	}

	var mods keyevent.Modifier
	if state&ReleaseMask != 0 {
		mods = mods.With(keyevent.ModRelease)
	}

	if _, ok := km.left[keyval]; ok {
		return keyevent.New(keyevent.LeftShift, mods), Filter
	}
	if _, ok := km.right[keyval]; ok {
		return keyevent.New(keyevent.RightShift, mods), Filter
	}

	r := keyvalToRune(keyval)
	if r == 0 || !unicode.IsPrint(r) {
		return keyevent.KeyEvent{}, ResetBypass
	}
	if state&ShiftMask != 0 {
		mods = mods.With(keyevent.ModShift)
	}
	k := keyevent.Char(r)
	k.Modifiers = mods
	return k, Filter
}

// ToIBus converts a resolved event back to a keyval and state. It fails
// for thumb-shifted characters and for events without a character, which
// have no keysym of their own.
func ToIBus(k keyevent.KeyEvent) (keyval, state uint32, ok bool) {
	if !k.IsChar() || k.Modifiers.Has(keyevent.ModLShift) || k.Modifiers.Has(keyevent.ModRShift) {
		return 0, 0, false
	}
	if k.Modifiers.Has(keyevent.ModShift) {
		state |= ShiftMask
	}
	if k.Modifiers.Has(keyevent.ModRelease) {
		state |= ReleaseMask
	}
	return runeToKeyval(k.Code), state, true
}
