// Package wire implements the driver-station wire codec: the outbound
// UDP control frame, the inbound UDP status frame, and the TCP
// telemetry frame. All integer fields are big-endian.
//
// Every tag record uses the `size(u8) tag(u8) data[size-1]` convention:
// size counts the tag byte plus its payload but excludes the size byte
// itself. This off-by-one must be honored exactly on both the encode
// and decode side.
package wire

import (
	"encoding/binary"
	"math"
	"time"

	"drivestation/internal/dsstate"
)

const (
	commVersion = 0x01

	tagJoystick = 0x0C
	tagDateTime = 0x0F
	tagGameData = 0x10
)

// OutboundFrame holds everything needed to build one 20ms send-tick
// packet.
type OutboundFrame struct {
	Sequence      uint16
	Mode          dsstate.Mode
	Enabled       bool
	EStop         bool
	Reboot        bool
	RestartCode   bool
	Alliance      dsstate.AllianceStation
	Joysticks     dsstate.JoystickSnapshot
	GameData      string
	SendDateTime  bool // true on every 50th tick
	Now           time.Time
}

// Encode builds the outbound frame bytes. The caller never writes more
// bytes than a size field declares: each tag's size is computed from the
// actual payload length it writes, never a fixed estimate.
func Encode(f OutboundFrame) []byte {
	buf := make([]byte, 6, 64)
	binary.BigEndian.PutUint16(buf[0:2], f.Sequence)
	buf[2] = commVersion
	buf[3] = dsstate.ControlByte(f.Mode, f.Enabled, f.EStop)
	buf[4] = dsstate.RequestByte(f.Reboot, f.RestartCode)
	buf[5] = f.Alliance.Encode()

	for _, js := range f.Joysticks.Joysticks {
		buf = append(buf, encodeJoystickTag(js)...)
	}

	if f.SendDateTime {
		buf = append(buf, encodeDateTimeTag(f.Now)...)
	}

	if f.GameData != "" {
		buf = append(buf, encodeGameDataTag(f.GameData)...)
	}

	return buf
}

// encodeJoystickTag builds one 0x0C record for a single joystick.
func encodeJoystickTag(js dsstate.JoystickState) []byte {
	data := make([]byte, 0, 16)

	data = append(data, byte(len(js.Axes)))
	for _, a := range js.Axes {
		data = append(data, axisToByte(a))
	}

	data = append(data, byte(len(js.Buttons)))
	data = append(data, packButtons(js.Buttons[:])...)

	data = append(data, 1) // one POV per joystick
	data = append(data, byte(uint16(js.POV)>>8), byte(uint16(js.POV)))

	return wrapTag(tagJoystick, data)
}

// axisToByte maps a clamped [-1,+1] float to the signed-i8 wire value.
func axisToByte(v float32) byte {
	v = dsstate.ClampAxis(v)
	return byte(int8(math.Round(float64(v) * 127)))
}

// packButtons packs button states MSB-first within each byte: bit 7 of
// the first byte is button 0.
func packButtons(buttons []bool) []byte {
	out := make([]byte, (len(buttons)+7)/8)
	for i, pressed := range buttons {
		if !pressed {
			continue
		}
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		out[byteIdx] |= 1 << uint(bitIdx)
	}
	return out
}

func encodeDateTimeTag(now time.Time) []byte {
	micros, sec, min, hour, day, month, year := civilDateTimeTag(now)
	data := make([]byte, 10)
	binary.BigEndian.PutUint32(data[0:4], micros)
	data[4] = sec
	data[5] = min
	data[6] = hour
	data[7] = day
	data[8] = month
	data[9] = year
	return wrapTag(tagDateTime, data)
}

func encodeGameDataTag(s string) []byte {
	data := make([]byte, 0, 1+len(s))
	data = append(data, byte(len(s)))
	data = append(data, []byte(s)...)
	return wrapTag(tagGameData, data)
}

// wrapTag prepends the size(u8) and tag(u8) bytes to a payload, where
// size = 1 (the tag byte) + len(payload).
func wrapTag(tag byte, payload []byte) []byte {
	out := make([]byte, 0, 2+len(payload))
	out = append(out, byte(1+len(payload)), tag)
	out = append(out, payload...)
	return out
}
