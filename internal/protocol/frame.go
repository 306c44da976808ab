// Package protocol implements the fixed-layout little-endian command and
// telemetry wire frame and the session id helpers used to bind a stream
// of frames to one operator session.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"minitrain-core/internal/trainstate"

	"github.com/google/uuid"
)

// HeaderSize is the number of bytes preceding the variable-length payload.
const HeaderSize = 36

// LightsOverrideTelemetryOnlyBit is wire bit 7 of the lightsOverride byte:
// when set the frame is a heartbeat that carries a lamp mask but no
// setpoint to apply.
const LightsOverrideTelemetryOnlyBit uint8 = 0x80

// LightsOverrideMaskBits masks the 7 low bits of the lightsOverride byte
// that are meaningful as a lamp override mask.
const LightsOverrideMaskBits uint8 = 0x7F

// ErrMalformedFrame is returned by Decode when the buffer is shorter than
// the header, or shorter than the header plus its declared payload length.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// CommandFrame is the decoded form of a wire frame; it carries both the
// command fields (targetSpeed, direction, lightsOverride) and the
// telemetry-shaped fields (sessionId, sequence, timestamp) that are reused
// verbatim when encoding outgoing telemetry frames.
type CommandFrame struct {
	SessionID       [16]byte
	Sequence        uint32
	TimestampMicros uint64
	TargetSpeed     float32
	Direction       trainstate.Direction
	LightsOverride  uint8
	Payload         []byte
}

func directionToWire(d trainstate.Direction) uint8 {
	switch d {
	case trainstate.Forward:
		return 1
	case trainstate.Reverse:
		return 2
	default:
		return 0
	}
}

func directionFromWire(b uint8) trainstate.Direction {
	switch b {
	case 1:
		return trainstate.Forward
	case 2:
		return trainstate.Reverse
	default:
		return trainstate.Neutral
	}
}

// Encode is total: every CommandFrame, including an empty payload, produces
// a valid byte slice.
func Encode(f CommandFrame) []byte {
	out := make([]byte, HeaderSize+len(f.Payload))

	copy(out[0:16], f.SessionID[:])
	binary.LittleEndian.PutUint32(out[16:20], f.Sequence)
	binary.LittleEndian.PutUint64(out[20:28], f.TimestampMicros)
	binary.LittleEndian.PutUint32(out[28:32], math.Float32bits(f.TargetSpeed))
	out[32] = directionToWire(f.Direction)
	out[33] = f.LightsOverride
	binary.LittleEndian.PutUint16(out[34:36], uint16(len(f.Payload)))
	copy(out[36:], f.Payload)

	return out
}

// Decode parses a wire frame. It fails with ErrMalformedFrame when the
// buffer is shorter than the header or shorter than the header plus the
// declared auxPayloadLen. An unknown direction byte decodes to Neutral.
func Decode(data []byte) (CommandFrame, error) {
	if len(data) < HeaderSize {
		return CommandFrame{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedFrame, len(data), HeaderSize)
	}

	auxLen := binary.LittleEndian.Uint16(data[34:36])
	total := HeaderSize + int(auxLen)
	if len(data) < total {
		return CommandFrame{}, fmt.Errorf("%w: %d bytes, need %d for declared payload", ErrMalformedFrame, len(data), total)
	}

	var f CommandFrame
	copy(f.SessionID[:], data[0:16])
	f.Sequence = binary.LittleEndian.Uint32(data[16:20])
	f.TimestampMicros = binary.LittleEndian.Uint64(data[20:28])
	f.TargetSpeed = math.Float32frombits(binary.LittleEndian.Uint32(data[28:32]))
	f.Direction = directionFromWire(data[32])
	f.LightsOverride = data[33]

	if auxLen > 0 {
		f.Payload = make([]byte, auxLen)
		copy(f.Payload, data[36:total])
	}

	return f, nil
}

// NewSessionID returns a fresh opaque 16-byte session identifier.
func NewSessionID() [16]byte {
	return uuid.New()
}

// ReverseSessionID returns the little-endian byte reversal of id, the
// convenience form mentioned in §6 for transports that expect the reverse
// byte order of a UUID's canonical form.
func ReverseSessionID(id [16]byte) [16]byte {
	var out [16]byte
	for i := range id {
		out[i] = id[len(id)-1-i]
	}
	return out
}
