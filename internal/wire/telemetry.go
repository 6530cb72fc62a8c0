package wire

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"strings"

	"drivestation/internal/dsstate"
)

const (
	tagStdOut         = 0x0C
	tagError          = 0x0B
	tagVersion        = 0x0A
	tagDisableFaults  = 0x04
	tagRailFaults     = 0x05

	maxTelemetryRecordSize = 32768
)

// TelemetryRecord is one decoded TCP telemetry frame. Exactly one of
// Console, Version, or PowerDelta is set, matching which tag produced
// it; records with an unrecognized tag or a payload too short to decode
// are skipped inside ReadTelemetryRecord and never returned.
type TelemetryRecord struct {
	Tag        byte
	Console    *dsstate.ConsoleEntry
	Version    *dsstate.VersionInfo
	PowerDelta *PowerDelta
}

// PowerDelta is the per-record contribution of a 0x04/0x05 tag; the
// telemetry reader accumulates these into a running dsstate.PowerFaults.
type PowerDelta struct {
	DisableCountComms *uint16
	DisableCount12V   *uint16
	RailFaults6V      *uint16
	RailFaults5V      *uint16
	RailFaults3V3     *uint16
}

// ReadTelemetryRecord reads one `size(u16 BE) tag(u8) payload[size-1]`
// frame from r and decodes it. Size 0 or greater than 32768 is skipped
// (its payload is still consumed from the stream) rather than treated
// as an error.
func ReadTelemetryRecord(r *bufio.Reader) (TelemetryRecord, error) {
	for {
		var sizeBuf [2]byte
		if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
			return TelemetryRecord{}, err
		}
		size := int(binary.BigEndian.Uint16(sizeBuf[:]))

		if size == 0 || size > maxTelemetryRecordSize {
			if size > 0 {
				if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
					return TelemetryRecord{}, err
				}
			}
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return TelemetryRecord{}, err
		}

		tag := payload[0]
		data := payload[1:]
		rec, ok := decodeTelemetryPayload(tag, data)
		if !ok {
			continue
		}
		return rec, nil
	}
}

func decodeTelemetryPayload(tag byte, data []byte) (TelemetryRecord, bool) {
	switch tag {
	case tagStdOut:
		return decodeStdOut(data)
	case tagError:
		return decodeError(data)
	case tagVersion:
		return decodeVersion(data)
	case tagDisableFaults:
		return decodeDisableFaults(data)
	case tagRailFaults:
		return decodeRailFaults(data)
	default:
		return TelemetryRecord{}, false
	}
}

func decodeStdOut(data []byte) (TelemetryRecord, bool) {
	if len(data) < 6 {
		return TelemetryRecord{}, false
	}
	ts := math.Float32frombits(binary.BigEndian.Uint32(data[0:4]))
	seq := binary.BigEndian.Uint16(data[4:6])
	msg := string(data[6:])
	return TelemetryRecord{
		Tag: tagStdOut,
		Console: &dsstate.ConsoleEntry{
			Timestamp: float64(ts),
			Sequence:  seq,
			Message:   msg,
			IsError:   false,
		},
	}, true
}

func decodeError(data []byte) (TelemetryRecord, bool) {
	const headerLen = 13 // ts(4) + seq(2) + reserved(2) + errorCode(4) + flags(1)

	if len(data) < headerLen {
		// Fallback: if payload < 13 bytes but >= 6, treat the remainder
		// as stdout-shaped with isError=true.
		if len(data) >= 6 {
			rec, ok := decodeStdOut(data)
			if ok {
				rec.Console.IsError = true
			}
			return rec, ok
		}
		return TelemetryRecord{}, false
	}

	ts := math.Float32frombits(binary.BigEndian.Uint32(data[0:4]))
	seq := binary.BigEndian.Uint16(data[4:6])
	flags := data[12]

	rest := data[headerLen:]
	details, rest, ok := readLengthPrefixedString(rest)
	if !ok {
		return TelemetryRecord{}, false
	}
	location, rest, ok := readLengthPrefixedString(rest)
	if !ok {
		return TelemetryRecord{}, false
	}
	callstack, _, ok := readLengthPrefixedString(rest)
	if !ok {
		return TelemetryRecord{}, false
	}

	var b strings.Builder
	b.WriteString(details)
	if location != "" {
		b.WriteString(" @ ")
		b.WriteString(location)
	}
	if callstack != "" {
		b.WriteString("\n")
		b.WriteString(callstack)
	}

	return TelemetryRecord{
		Tag: tagError,
		Console: &dsstate.ConsoleEntry{
			Timestamp: float64(ts),
			Sequence:  seq,
			Message:   b.String(),
			IsError:   flags&0x01 != 0,
		},
	}, true
}

func decodeVersion(data []byte) (TelemetryRecord, bool) {
	image, rest, ok := readLengthPrefixedString(data)
	if !ok {
		return TelemetryRecord{}, false
	}
	wpilib, rest, ok := readLengthPrefixedString(rest)
	if !ok {
		return TelemetryRecord{}, false
	}
	rio, _, ok := readLengthPrefixedString(rest)
	if !ok {
		return TelemetryRecord{}, false
	}
	return TelemetryRecord{
		Tag: tagVersion,
		Version: &dsstate.VersionInfo{
			ImageVersion:  image,
			WPILibVersion: wpilib,
			RIOVersion:    rio,
		},
	}, true
}

func decodeDisableFaults(data []byte) (TelemetryRecord, bool) {
	if len(data) < 4 {
		return TelemetryRecord{}, false
	}
	comms := binary.BigEndian.Uint16(data[0:2])
	v12 := binary.BigEndian.Uint16(data[2:4])
	return TelemetryRecord{
		Tag: tagDisableFaults,
		PowerDelta: &PowerDelta{
			DisableCountComms: &comms,
			DisableCount12V:   &v12,
		},
	}, true
}

func decodeRailFaults(data []byte) (TelemetryRecord, bool) {
	if len(data) < 6 {
		return TelemetryRecord{}, false
	}
	r6 := binary.BigEndian.Uint16(data[0:2])
	r5 := binary.BigEndian.Uint16(data[2:4])
	r33 := binary.BigEndian.Uint16(data[4:6])
	return TelemetryRecord{
		Tag: tagRailFaults,
		PowerDelta: &PowerDelta{
			RailFaults6V:  &r6,
			RailFaults5V:  &r5,
			RailFaults3V3: &r33,
		},
	}, true
}

// readLengthPrefixedString reads a u16-BE length followed by that many
// UTF-8 bytes, stripping trailing whitespace, and returns the remainder
// of buf after the string.
func readLengthPrefixedString(buf []byte) (string, []byte, bool) {
	if len(buf) < 2 {
		return "", nil, false
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	if len(buf) < 2+n {
		return "", nil, false
	}
	s := strings.TrimRight(string(buf[2:2+n]), " \t\r\n\x00")
	return s, buf[2+n:], true
}

// ApplyPowerDelta folds one record's delta into a running PowerFaults
// snapshot: each record overwrites only the fields its tag carries, so
// the snapshot combines the latest 0x04 and 0x05 values.
func ApplyPowerDelta(f *dsstate.PowerFaults, d *PowerDelta) {
	if d == nil {
		return
	}
	if d.DisableCountComms != nil {
		f.DisableCountComms = *d.DisableCountComms
	}
	if d.DisableCount12V != nil {
		f.DisableCount12V = *d.DisableCount12V
	}
	if d.RailFaults6V != nil {
		f.RailFaults6V = *d.RailFaults6V
	}
	if d.RailFaults5V != nil {
		f.RailFaults5V = *d.RailFaults5V
	}
	if d.RailFaults3V3 != nil {
		f.RailFaults3V3 = *d.RailFaults3V3
	}
}
