//go:build !linux

package ibus

import (
	"errors"

	"github.com/godbus/dbus/v5"
)

// ErrUnsupported is returned where no session bus is available.
var ErrUnsupported = errors.New("ibus: D-Bus key filtering is only supported on Linux")

// Connect is not supported on this platform.
func Connect() (*dbus.Conn, error) {
	return nil, ErrUnsupported
}

// Export is not supported on this platform.
func Export(conn *dbus.Conn, s *Service, busName string) error {
	return ErrUnsupported
}
