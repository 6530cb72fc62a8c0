package wire

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drivestation/internal/dsstate"
)

// TestJoystickEncoding checks the axis/button/POV bytes written into the
// outbound joystick tag.
func TestJoystickEncoding(t *testing.T) {
	js := dsstate.JoystickState{
		Axes: [6]float32{1.0, -1.0, 0, 0, 0, 0},
		POV:  180,
	}
	js.Buttons[0] = true
	js.Buttons[7] = true

	snap := dsstate.JoystickSnapshot{Joysticks: []dsstate.JoystickState{js}}
	frame := Encode(OutboundFrame{Sequence: 1, Joysticks: snap})

	// header is 6 bytes, the 0x0C record follows immediately.
	rec := frame[6:]
	require.Equal(t, byte(14), rec[0], "size = 1 (tag) + 13 (payload)")
	require.Equal(t, byte(0x0C), rec[1])

	data := rec[2:]
	require.Equal(t, byte(6), data[0])
	require.Equal(t, []byte{127, 129, 0, 0, 0, 0}, data[1:7])
	require.Equal(t, byte(16), data[7])
	require.Equal(t, []byte{0x81, 0x00}, data[8:10])
	require.Equal(t, byte(1), data[10])
	require.Equal(t, []byte{0x00, 0xB4}, data[11:13])
}

func TestHeaderEncoding(t *testing.T) {
	frame := Encode(OutboundFrame{
		Sequence: 0x1234,
		Mode:     dsstate.ModeAutonomous,
		Enabled:  true,
		EStop:    false,
		Alliance: dsstate.Blue2,
	})

	require.Equal(t, uint16(0x1234), binary.BigEndian.Uint16(frame[0:2]))
	require.Equal(t, byte(commVersion), frame[2])
	require.Equal(t, byte(0x06), frame[3]) // enabled(0x04) | autonomous(0x02)
	require.Equal(t, byte(0x00), frame[4])
	require.Equal(t, byte(dsstate.Blue2), frame[5])
}

func TestEStopAndRequestBits(t *testing.T) {
	frame := Encode(OutboundFrame{EStop: true, Reboot: true, RestartCode: true})
	require.Equal(t, byte(0x80), frame[3])
	require.Equal(t, byte(0x0C), frame[4])
}

func TestGameDataTag(t *testing.T) {
	frame := Encode(OutboundFrame{GameData: "BBL"})
	rec := frame[6:]
	require.Equal(t, byte(5), rec[0]) // 1 (tag) + 1 (len byte) + 3 (data)
	require.Equal(t, byte(tagGameData), rec[1])
	require.Equal(t, byte(3), rec[2])
	require.Equal(t, "BBL", string(rec[3:6]))
}

func TestDateTimeTagEmittedOnDemand(t *testing.T) {
	now := time.Date(2026, time.March, 5, 12, 30, 45, 500_000_000, time.UTC)
	frame := Encode(OutboundFrame{SendDateTime: true, Now: now})
	rec := frame[6:]
	require.Equal(t, byte(11), rec[0])
	require.Equal(t, byte(tagDateTime), rec[1])

	data := rec[2:]
	micros := binary.BigEndian.Uint32(data[0:4])
	require.Equal(t, uint32(500_000), micros) // .5s past the second
	require.Equal(t, byte(45), data[4]) // second
	require.Equal(t, byte(30), data[5]) // minute
	require.Equal(t, byte(12), data[6]) // hour
	require.Equal(t, byte(5), data[7])  // day
	require.Equal(t, byte(2), data[8])  // month-1 (March == 3 -> 2)
	require.Equal(t, byte(2026-1900), data[9])
}

// TestSizeFieldInvariant checks the size-field invariant for every tag
// this package emits.
func TestSizeFieldInvariant(t *testing.T) {
	snap := dsstate.JoystickSnapshot{Joysticks: []dsstate.JoystickState{
		{Axes: [6]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, POV: 45},
		{Axes: [6]float32{-1, 1, -1, 1, -1, 1}, POV: -1},
	}}
	frame := Encode(OutboundFrame{
		Sequence:     7,
		Joysticks:    snap,
		GameData:     "xyz",
		SendDateTime: true,
		Now:          time.Now(),
	})

	buf := frame[6:]
	for len(buf) > 0 {
		size := int(buf[0])
		require.Greater(t, size, 0)
		require.LessOrEqual(t, 1+size, len(buf), "emitter must never claim more bytes than it wrote")
		buf = buf[1+size:]
	}
}
