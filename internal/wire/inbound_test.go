package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeInboundTooShort(t *testing.T) {
	_, ok := DecodeInbound([]byte{0, 1, 2, 3, 4, 5})
	require.False(t, ok)
}

func TestDecodeInboundHeaderFields(t *testing.T) {
	// sequence=1, version byte ignored, status: enabled|autonomous,
	// trace: code-running, battery 12 + 128/256 = 12.5
	buf := []byte{0, 1, 0, 0x04 | 0x02, 0x20, 12, 128}
	s, ok := DecodeInbound(buf)
	require.True(t, ok)
	require.Equal(t, uint16(1), s.Sequence)
	require.False(t, s.EStopped)
	require.True(t, s.Enabled)
	require.True(t, s.CodeRunning)
	require.InDelta(t, 12.5, float64(s.Battery), 1e-6)
}

func TestDecodeInboundUnknownTagSkipped(t *testing.T) {
	header := []byte{0, 1, 0, 0, 0, 12, 128}
	// unknown tag 0x99 with 3 bytes payload, followed by a valid RAM tag.
	unknown := []byte{4, 0x99, 0xAA, 0xBB, 0xCC}
	ramPayload := []byte{0x3F, 0x00, 0x00, 0x00} // 0.5 as f32 big-endian
	ram := append([]byte{5, tagRAM}, ramPayload...)

	buf := append(append(append([]byte{}, header...), unknown...), ram...)
	s, ok := DecodeInbound(buf)
	require.True(t, ok)
	require.InDelta(t, 0.5, float64(s.Diagnostics.RAMUsage), 1e-6)
}

func TestDecodeInboundMalformedSizeStopsParsing(t *testing.T) {
	header := []byte{0, 1, 0, 0, 0, 12, 128}
	// declares a size far larger than remaining bytes.
	malformed := []byte{200, tagCPU, 1, 2}
	buf := append(append([]byte{}, header...), malformed...)

	require.NotPanics(t, func() {
		s, ok := DecodeInbound(buf)
		require.True(t, ok)
		require.Zero(t, s.Diagnostics.CPUUsage)
	})
}

func TestDecodeInboundCPUMean(t *testing.T) {
	header := []byte{0, 1, 0, 0, 0, 12, 0}
	// two cores: 0.25 and 0.75 -> mean 0.5
	payload := []byte{2, 0x3E, 0x80, 0x00, 0x00, 0x3F, 0x40, 0x00, 0x00}
	cpu := append([]byte{byte(1 + len(payload)), tagCPU}, payload...)
	buf := append(append([]byte{}, header...), cpu...)

	s, ok := DecodeInbound(buf)
	require.True(t, ok)
	require.InDelta(t, 0.5, float64(s.Diagnostics.CPUUsage), 1e-6)
}
