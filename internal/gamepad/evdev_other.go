//go:build !linux

package gamepad

// noDeviceEnumerator reports zero connected devices. The evdev backend
// in evdev_linux.go is Linux-only; on other platforms NewLinuxEnumerator
// still returns a working enumerator so cmd/dscore builds everywhere,
// it just never finds any gamepads.
type noDeviceEnumerator struct{}

// NewLinuxEnumerator returns an enumerator that reports zero devices on
// non-Linux platforms.
func NewLinuxEnumerator() enumerator {
	return noDeviceEnumerator{}
}

func (noDeviceEnumerator) Enumerate() ([]device, error) {
	return nil, nil
}
