package wire

import (
	"encoding/binary"
	"math"

	"drivestation/internal/dsstate"
)

const (
	tagDisk = 0x04
	tagCPU  = 0x05
	tagRAM  = 0x06
	tagCAN  = 0x0E
)

// InboundStatus is the decoded content of one UDP status datagram from
// the robot.
type InboundStatus struct {
	Sequence    uint16
	EStopped    bool
	Brownout    bool
	Enabled     bool
	Mode        dsstate.Mode
	CodeRunning bool
	Battery     float32
	Diagnostics dsstate.Diagnostics
}

// DecodeInbound parses one inbound UDP datagram. Frames shorter than 7
// bytes are silently dropped (returns ok=false, no error). A malformed
// tag size stops tag parsing without failing the rest of the frame:
// sequence/status/trace/battery are still returned.
func DecodeInbound(buf []byte) (InboundStatus, bool) {
	if len(buf) < 7 {
		return InboundStatus{}, false
	}

	status := buf[3]
	trace := buf[4]

	s := InboundStatus{
		Sequence:    binary.BigEndian.Uint16(buf[0:2]),
		EStopped:    status&0x80 != 0,
		Brownout:    status&0x10 != 0,
		Enabled:     status&0x04 != 0,
		Mode:        dsstate.ModeFromControlBits(status),
		CodeRunning: trace&0x20 != 0,
		Battery:     float32(buf[5]) + float32(buf[6])/256,
	}

	parseInboundTags(buf[7:], &s.Diagnostics)

	return s, true
}

// parseInboundTags walks the size/tag/data records following the fixed
// header, updating diag in place. Unknown tags are skipped using the
// declared size; the parser never reads past the end of buf.
func parseInboundTags(buf []byte, diag *dsstate.Diagnostics) {
	for len(buf) > 0 {
		size := int(buf[0])
		if size == 0 || 1+size > len(buf) {
			// A malformed size terminates parsing without erroring the
			// session: there is no way to know how much to skip.
			return
		}
		tag := buf[1]
		data := buf[2 : 1+size]

		switch tag {
		case tagDisk:
			if len(data) >= 4 {
				raw := binary.BigEndian.Uint32(data[0:4])
				diag.DiskUsage = float32(raw) / 100.0
			}
		case tagCPU:
			parseCPUTag(data, diag)
		case tagRAM:
			if len(data) >= 4 {
				diag.RAMUsage = math.Float32frombits(binary.BigEndian.Uint32(data[0:4]))
			}
		case tagCAN:
			parseCANTag(data, diag)
		}

		buf = buf[1+size:]
	}
}

// parseCPUTag decodes count(u8) followed by count f32 per-core values.
// The only length check is against 1+4*count; there is no separate
// fixed 12-byte floor.
func parseCPUTag(data []byte, diag *dsstate.Diagnostics) {
	if len(data) < 1 {
		return
	}
	count := int(data[0])
	if len(data) < 1+4*count || count == 0 {
		return
	}
	var sum float32
	for i := 0; i < count; i++ {
		off := 1 + 4*i
		sum += math.Float32frombits(binary.BigEndian.Uint32(data[off : off+4]))
	}
	diag.CPUUsage = sum / float32(count)
}

// parseCANTag decodes utilization(f32), busOff(u32), txFull(u32). Any
// bytes beyond these three documented fields are ignored.
func parseCANTag(data []byte, diag *dsstate.Diagnostics) {
	if len(data) < 4 {
		return
	}
	diag.CANUtilization = math.Float32frombits(binary.BigEndian.Uint32(data[0:4]))
	if len(data) >= 8 {
		diag.CANBusOff = binary.BigEndian.Uint32(data[4:8])
	}
	if len(data) >= 12 {
		diag.CANTxFull = binary.BigEndian.Uint32(data[8:12])
	}
}
