//go:build linux

package evdev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/holoplot/go-evdev"

	"thumbshift/internal/keyevent"
)

// Event is a translated key event.
type Event struct {
	Key    keyevent.KeyEvent
	Action Translation
}

// Source reads one input device.
type Source struct {
	dev  *evdev.InputDevice
	path string
	tr   translator
	grab bool
	log  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open opens the device at path. With grab set the device is taken
// exclusively, so the keys no longer reach other applications.
func Open(path string, keymap Keymap, grab bool, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if grab {
		if err := dev.Grab(); err != nil {
			dev.Close()
			return nil, fmt.Errorf("grab %s: %w", path, err)
		}
	}
	name, _ := dev.Name()
	log.Info("input device opened", "path", path, "name", name, "grab", grab)
	return &Source{dev: dev, path: path, tr: translator{keymap: keymap}, grab: grab, log: log}, nil
}

// Run delivers events to fn until ctx is cancelled or the device fails.
// Events translated as Ignore are not delivered.
func (s *Source) Run(ctx context.Context, fn func(Event)) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		ev, err := s.dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("read %s: %w", s.path, err)
		}
		key, action := s.tr.translate(ev)
		if action == Ignore {
			continue
		}
		fn(Event{Key: key, Action: action})
	}
}

// Close releases the device. It is safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		if s.grab {
			s.dev.Ungrab()
		}
		s.closeErr = s.dev.Close()
	})
	return s.closeErr
}
