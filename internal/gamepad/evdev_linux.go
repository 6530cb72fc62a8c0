//go:build linux

package gamepad

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/viamrobotics/evdev"
)

// Most USB HID gamepads report their primary axes over this signed
// 16-bit range under Linux; see manager.go's applyAbsEvent for how raw
// values are rescaled to [-1,1].
const (
	absAxisMin = -32768
	absAxisMax = 32767
)

var eventNodePattern = regexp.MustCompile(`^event[0-9]+$`)

// evdevEnumerator implements enumerator by scanning /dev/input for
// event nodes on every poll, following the same enumerate-and-diff
// shape as other_examples' ebiten gamepad_linux.go.go.
type evdevEnumerator struct{}

// NewLinuxEnumerator returns the real evdev-backed enumerator for use
// outside of tests.
func NewLinuxEnumerator() enumerator {
	return evdevEnumerator{}
}

func (evdevEnumerator) Enumerate() ([]device, error) {
	found, err := evdev.ListInputDevices("/dev/input/event*")
	if err != nil {
		return nil, fmt.Errorf("gamepad: list input devices: %w", err)
	}

	out := make([]device, 0, len(found))
	for _, d := range found {
		if !eventNodePattern.MatchString(strings.TrimPrefix(d.Fn, "/dev/input/")) {
			continue
		}
		out = append(out, &evdevDevice{dev: d})
	}
	return out, nil
}

// evdevDevice adapts a *evdev.InputDevice to this package's device
// interface.
type evdevDevice struct {
	dev *evdev.InputDevice
}

func (d *evdevDevice) Name() string { return d.dev.Name }
func (d *evdevDevice) Path() string { return d.dev.Fn }
func (d *evdevDevice) Close() error { return d.dev.File.Close() }

// ReadEvents drains every event currently queued on the device file
// without blocking the 20ms poll: a short read deadline turns "nothing
// pending" into a timeout rather than a stall.
func (d *evdevDevice) ReadEvents() ([]rawEvent, error) {
	var out []rawEvent
	for {
		if err := d.dev.File.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return out, nil
		}
		ev, err := d.dev.ReadOne()
		if err != nil {
			var timeoutErr interface{ Timeout() bool }
			if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
				return out, nil
			}
			if len(out) > 0 {
				return out, nil
			}
			return nil, err
		}
		out = append(out, rawEvent{Type: ev.Type, Code: ev.Code, Value: ev.Value})
	}
}
