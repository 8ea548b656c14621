//go:build !linux

package main

import (
	"errors"
	"io"

	"thumbshift/internal/filter"
)

func runLive(device string, grab bool, recordPath string, cfg filter.Config, stdout, stderr io.Writer) error {
	return errors.New("-evdev is only supported on Linux")
}
