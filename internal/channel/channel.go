// Package channel implements the Command Channel (§4.H): it binds a
// session id to a transport, decodes inbound frames for the command
// processor, and encodes outgoing telemetry frames.
package channel

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"minitrain-core/internal/protocol"
	"minitrain-core/internal/telemetry"
	"minitrain-core/internal/trainstate"
	"minitrain-core/internal/transport"
)

// telemetryPayloadSize is the fixed encoded size of PublishTelemetry's
// payload: 6 f32 fields, one u32, then 8 single-byte fields (flags,
// activeCab, lightsState, lightsSource, lightsOverrideMask, source,
// encodedDirection, reserved).
const telemetryPayloadSize = 6*4 + 4 + 8

// failSafeActiveBit and lightsTelemetryOnlyBit are the flags-byte bits of
// the outgoing telemetry payload.
const (
	failSafeActiveBit      uint8 = 1 << 0
	lightsTelemetryOnlyBit uint8 = 1 << 1
)

// Channel binds a session id to a Transport and moves frames across the
// boundary between the wire and the in-process command pipeline.
type Channel struct {
	tr        transport.Transport
	sessionID [16]byte
	sequence  uint32
}

// New constructs a Channel over tr. The session id is generated fresh on
// Start.
func New(tr transport.Transport) *Channel {
	return &Channel{tr: tr}
}

// Start opens the transport and binds a fresh session id.
func (c *Channel) Start(ctx context.Context, uri string) error {
	if err := c.tr.Connect(ctx, uri); err != nil {
		return err
	}
	c.sessionID = protocol.NewSessionID()
	return nil
}

// Stop closes the transport. It is idempotent.
func (c *Channel) Stop() error {
	return c.tr.Close()
}

// SessionID returns the session id bound by the most recent Start.
func (c *Channel) SessionID() [16]byte {
	return c.sessionID
}

// Poll attempts a bounded-duration binary read from the transport. It
// returns (frame, true, nil) if a frame arrived and decoded cleanly,
// (zero, false, nil) on a timeout with nothing to report, or a non-nil
// error for a transport failure or a malformed frame.
func (c *Channel) Poll(timeout time.Duration) (protocol.CommandFrame, bool, error) {
	data, err := c.tr.ReceiveBinary(timeout)
	if err != nil {
		if err == transport.ErrTimeout {
			return protocol.CommandFrame{}, false, nil
		}
		return protocol.CommandFrame{}, false, err
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		return protocol.CommandFrame{}, false, err
	}
	return frame, true, nil
}

// PublishTelemetry builds and sends a CommandFrame carrying sample. Its
// header's session id, sequence, and timestamp prefer sample's own
// correlation fields when nonzero, falling back to the channel's bound
// session id, fallbackSequence, and the current wall clock otherwise.
func (c *Channel) PublishTelemetry(sample telemetry.Sample, fallbackSequence uint32, now time.Time) error {
	frame := protocol.CommandFrame{
		SessionID:       c.sessionID,
		Sequence:        fallbackSequence,
		TimestampMicros: uint64(now.UnixMicro()),
		TargetSpeed:     sample.AppliedSpeed,
		Direction:       sample.AppliedDirection,
		LightsOverride:  (sample.LightsOverrideMask & protocol.LightsOverrideMaskBits) | protocol.LightsOverrideTelemetryOnlyBit,
		Payload:         encodeTelemetryPayload(sample),
	}

	var zeroID [16]byte
	if sample.SessionID != zeroID {
		frame.SessionID = sample.SessionID
	}
	if sample.Sequence != 0 {
		frame.Sequence = sample.Sequence
	}
	if !sample.CommandTimestamp.IsZero() {
		frame.TimestampMicros = uint64(sample.CommandTimestamp.UnixMicro())
	}

	return c.tr.SendBinary(protocol.Encode(frame))
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

// encodeTelemetryPayload produces the 36-byte little-endian payload
// described in §4.H: 6 f32 fields, failSafeElapsedMillis as u32, a flags
// byte, then activeCab/lightsState/lightsSource/lightsOverrideMask/
// source/encodedDirection/reserved as single bytes.
func encodeTelemetryPayload(s telemetry.Sample) []byte {
	out := make([]byte, telemetryPayloadSize)

	binary.LittleEndian.PutUint32(out[0:4], math.Float32bits(s.Speed))
	binary.LittleEndian.PutUint32(out[4:8], math.Float32bits(s.MotorCurrent))
	binary.LittleEndian.PutUint32(out[8:12], math.Float32bits(s.Battery))
	binary.LittleEndian.PutUint32(out[12:16], math.Float32bits(s.Temperature))
	binary.LittleEndian.PutUint32(out[16:20], math.Float32bits(s.AppliedSpeed))
	binary.LittleEndian.PutUint32(out[20:24], math.Float32bits(s.FailSafeProgress))
	binary.LittleEndian.PutUint32(out[24:28], s.FailSafeElapsedMillis)

	var flags uint8
	if s.FailSafeActive {
		flags |= failSafeActiveBit
	}
	if s.LightsTelemetryOnly {
		flags |= lightsTelemetryOnlyBit
	}
	out[28] = flags

	out[29] = uint8(s.ActiveCab)
	out[30] = uint8(s.LightsState)
	out[31] = uint8(s.LightsSource)
	out[32] = s.LightsOverrideMask
	out[33] = uint8(s.Source)
	out[34] = directionToWire(s.AppliedDirection)
	out[35] = 0 // reserved

	return out
}
