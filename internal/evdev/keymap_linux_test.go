//go:build linux

package evdev

import (
	"testing"

	"github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
)

func keyEv(code evdev.EvCode, value int32) *evdev.InputEvent {
	return &evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: value}
}

func TestTranslate(t *testing.T) {
	tr := translator{keymap: DefaultKeymap()}

	steps := []struct {
		name   string
		ev     *evdev.InputEvent
		want   string
		action Translation
	}{
		{"letter", keyEv(evdev.KEY_A, 1), "a", Feed},
		{"letter release", keyEv(evdev.KEY_A, 0), "(release a)", Feed},
		{"repeat is a press", keyEv(evdev.KEY_A, 2), "a", Feed},
		{"left thumb", keyEv(evdev.KEY_MUHENKAN, 1), "lshift", Feed},
		{"right thumb release", keyEv(evdev.KEY_HENKAN, 0), "(release rshift)", Feed},
		{"space", keyEv(evdev.KEY_SPACE, 1), "space", Feed},
		{"shift down", keyEv(evdev.KEY_LEFTSHIFT, 1), "", Ignore},
		{"shifted letter", keyEv(evdev.KEY_F, 1), "(shift F)", Feed},
		{"shifted digit", keyEv(evdev.KEY_1, 1), "(shift !)", Feed},
		{"shift up", keyEv(evdev.KEY_LEFTSHIFT, 0), "", Ignore},
		{"plain again", keyEv(evdev.KEY_F, 1), "f", Feed},
		{"control down", keyEv(evdev.KEY_LEFTCTRL, 1), "", Ignore},
		{"control chord", keyEv(evdev.KEY_C, 1), "", Reset},
		{"control up", keyEv(evdev.KEY_LEFTCTRL, 0), "", Ignore},
		{"enter", keyEv(evdev.KEY_ENTER, 1), "", Reset},
		{"enter release", keyEv(evdev.KEY_ENTER, 0), "", Ignore},
		{"not a key", &evdev.InputEvent{Type: evdev.EV_SYN}, "", Ignore},
	}

	for _, s := range steps {
		k, action := tr.translate(s.ev)
		assert.Equal(t, s.action, action, s.name)
		if action == Feed {
			assert.Equal(t, s.want, k.String(), s.name)
		}
	}
}

func TestHeldNeverNegative(t *testing.T) {
	var h held
	h.update(evdev.KEY_LEFTSHIFT, 0)
	assert.Zero(t, h.shift)
	h.update(evdev.KEY_LEFTSHIFT, 1)
	h.update(evdev.KEY_RIGHTSHIFT, 1)
	h.update(evdev.KEY_LEFTSHIFT, 0)
	assert.Equal(t, 1, h.shift)
}
