package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// telemetryFrame builds a full telemetry frame with a correct checksum.
func telemetryFrame(m1, m2 uint8, ranges [3]uint16) []byte {
	frame := []byte{StartByte, MsgTelemetry, m1, m2}
	for _, r := range ranges {
		frame = append(frame, byte(r>>8), byte(r&0xFF))
	}
	return append(frame, Checksum(frame[1:]))
}

func TestCommandEncode(t *testing.T) {
	t.Parallel()

	t.Run("payload-less command is three bytes", func(t *testing.T) {
		packet := NewCommand(MsgPing).Encode()
		assert.Equal(t, []byte{StartByte, MsgPing, MsgPing}, packet)
	})

	t.Run("payload command is four bytes with additive checksum", func(t *testing.T) {
		packet := NewCommandWithPayload(MsgM1Extend, 200).Encode()
		assert.Equal(t, []byte{StartByte, MsgM1Extend, 200, byte(MsgM1Extend+200) & 0xFF}, packet)
	})

	t.Run("checksum wraps mod 256", func(t *testing.T) {
		packet := NewCommandWithPayload(MsgM2SetPosition, 255).Encode()
		assert.Equal(t, byte((MsgM2SetPosition+255)%256), packet[3])
	})

	t.Run("out of range payloads clamp instead of failing", func(t *testing.T) {
		high := NewCommandWithPayload(MsgM1Extend, 400).Encode()
		assert.Equal(t, byte(255), high[2])

		low := NewCommandWithPayload(MsgM1Extend, -5).Encode()
		assert.Equal(t, byte(0), low[2])
	})
}

func TestCommandRoundTrip(t *testing.T) {
	t.Parallel()

	ids := []byte{
		MsgM1Extend, MsgM1Retract, MsgM1Brake, MsgM1SetPosition,
		MsgM2Extend, MsgM2Retract, MsgM2Brake, MsgM2SetPosition,
		MsgPing,
	}

	for _, id := range ids {
		got, err := DecodeCommand(NewCommand(id).Encode())
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.False(t, got.HasPayload)

		for payload := 0; payload <= 255; payload++ {
			got, err := DecodeCommand(NewCommandWithPayload(id, payload).Encode())
			require.NoError(t, err)
			assert.Equal(t, id, got.ID)
			assert.Equal(t, payload, got.Payload)
		}
	}
}

func TestCommandName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "PING", NewCommand(MsgPing).Name())
	assert.Equal(t, "M2_SET_POSITION", NewCommandWithPayload(MsgM2SetPosition, 50).Name())
	assert.Equal(t, "UNKNOWN", NewCommand(0x7F).Name())
}

func TestDecodeTelemetry(t *testing.T) {
	t.Parallel()

	t.Run("decodes full frame", func(t *testing.T) {
		frame := telemetryFrame(128, 64, [3]uint16{100, 100, 100})
		got, err := DecodeTelemetry(frame)
		require.NoError(t, err)
		assert.Equal(t, uint8(128), got.M1ADC)
		assert.Equal(t, uint8(64), got.M2ADC)
		assert.Equal(t, [3]uint16{100, 100, 100}, got.RangesMM)
		assert.True(t, got.HasRanges)
	})

	t.Run("ranges are big endian", func(t *testing.T) {
		frame := telemetryFrame(0, 0, [3]uint16{0x0164, 0x0200, 0xFFFF})
		got, err := DecodeTelemetry(frame)
		require.NoError(t, err)
		assert.Equal(t, [3]uint16{356, 512, 65535}, got.RangesMM)
	})

	t.Run("decodes short variant without ranges", func(t *testing.T) {
		frame := []byte{StartByte, MsgTelemetry, 10, 20}
		frame = append(frame, Checksum(frame[1:]))
		got, err := DecodeTelemetry(frame)
		require.NoError(t, err)
		assert.Equal(t, uint8(10), got.M1ADC)
		assert.Equal(t, uint8(20), got.M2ADC)
		assert.False(t, got.HasRanges)
	})

	t.Run("rejects short buffers", func(t *testing.T) {
		_, err := DecodeTelemetry([]byte{StartByte, MsgTelemetry, 1})
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("rejects wrong sync byte", func(t *testing.T) {
		frame := telemetryFrame(1, 2, [3]uint16{3, 4, 5})
		frame[0] = 0x00
		_, err := DecodeTelemetry(frame)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("rejects wrong type byte", func(t *testing.T) {
		frame := telemetryFrame(1, 2, [3]uint16{3, 4, 5})
		frame[1] = MsgPing
		frame[len(frame)-1] = Checksum(frame[1 : len(frame)-1])
		_, err := DecodeTelemetry(frame)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("rejects checksum off by one", func(t *testing.T) {
		frame := telemetryFrame(128, 64, [3]uint16{100, 100, 100})
		frame[len(frame)-1]++
		_, err := DecodeTelemetry(frame)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

// TestDecodeTelemetrySingleByteCorruption flips every byte of a valid frame
// in turn; each corruption must be caught, never partially applied.
func TestDecodeTelemetrySingleByteCorruption(t *testing.T) {
	t.Parallel()

	valid := telemetryFrame(128, 64, [3]uint16{100, 200, 300})
	for i := range valid {
		corrupted := make([]byte, len(valid))
		copy(corrupted, valid)
		corrupted[i] ^= 0x01

		_, err := DecodeTelemetry(corrupted)
		assert.ErrorIs(t, err, ErrMalformedFrame, "flipped byte %d went undetected", i)
	}
}

func TestDecodeTelemetryDeterministic(t *testing.T) {
	t.Parallel()

	frame := telemetryFrame(33, 44, [3]uint16{500, 600, 700})
	first, err := DecodeTelemetry(frame)
	require.NoError(t, err)
	second, err := DecodeTelemetry(frame)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
