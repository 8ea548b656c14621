// Package evdev reads key events straight from a Linux input device and
// translates them into filter key events, for live tuning sessions that
// bypass the input method stack.
package evdev
