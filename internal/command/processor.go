// Package command implements the Command Processor (§4.G): it validates
// arriving frames, enforces link-cadence policy, and fans out to the
// controller's public operations.
package command

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"minitrain-core/internal/protocol"
	"minitrain-core/internal/trainstate"
)

// ErrRateBelow10Hz is returned when two consecutive valid frames arrive
// more than 120ms apart.
var ErrRateBelow10Hz = errors.New("command: arrival rate below 10hz")

// ErrLegacyParserDisabled is returned when a frame carries an auxiliary
// payload beyond the control-flag byte but no legacy parser is installed.
var ErrLegacyParserDisabled = errors.New("command: legacy parser disabled")

// LegacyParserError wraps a failure surfaced by an installed LegacyParser.
type LegacyParserError struct {
	Msg string
}

func (e *LegacyParserError) Error() string {
	return fmt.Sprintf("command: legacy parser error: %s", e.Msg)
}

// LegacyParser decodes the bytes of a frame's auxiliary payload beyond the
// control-flag byte. A non-empty returned message takes the place of the
// Processor's default result message.
type LegacyParser interface {
	Parse(payload []byte) (message string, err error)
}

// Controller is the subset of the controller's public surface the
// Processor drives. It is satisfied by *controller.Controller.
type Controller interface {
	SetLightsOverride(mask uint8, telemetryOnly bool)
	SetTargetSpeed(v float32)
	SetDirection(d trainstate.Direction)
	ToggleHeadlights(enabled bool)
	ToggleHorn(enabled bool)
	TriggerEmergencyStop()
	RegisterCommandTimestamp(ts time.Time)
}

const (
	cadenceNominal    = 30 * time.Millisecond
	cadenceFallback   = 120 * time.Millisecond
	flagHeadlights    = 1 << 0
	flagHorn          = 1 << 1
	flagEmergencyStop = 1 << 2
)

// Result is the outcome of a successfully processed frame.
type Result struct {
	Message string
}

// Processor validates and applies command frames already decoded by a
// Channel.
type Processor struct {
	mu sync.Mutex

	controller   Controller
	legacyParser LegacyParser

	hasLastArrival       bool
	lastArrival          time.Time
	lowFrequencyFallback bool
}

// NewProcessor constructs a Processor driving ctrl. legacyParser may be
// nil, in which case any frame with an auxiliary payload beyond the
// control-flag byte fails with ErrLegacyParserDisabled.
func NewProcessor(ctrl Controller, legacyParser LegacyParser) *Processor {
	return &Processor{controller: ctrl, legacyParser: legacyParser}
}

// LowFrequencyFallbackActive reports whether the most recent cadence
// evaluation found arrivals between 30ms and 120ms apart. It is observable
// only; it does not itself change processing behavior.
func (p *Processor) LowFrequencyFallbackActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lowFrequencyFallback
}

// ProcessFrame validates frame, arrived at arrival, against the cadence
// gate and fans out to the controller. See §4.G for the exact step order.
func (p *Processor) ProcessFrame(frame protocol.CommandFrame, arrival time.Time) (Result, error) {
	telemetryOnly := frame.LightsOverride&protocol.LightsOverrideTelemetryOnlyBit != 0
	lightsMask := frame.LightsOverride & protocol.LightsOverrideMaskBits
	p.controller.SetLightsOverride(lightsMask, telemetryOnly)

	if telemetryOnly {
		return Result{Message: "Telemetry frame"}, nil
	}

	if err := p.gateCadence(arrival); err != nil {
		return Result{}, err
	}

	remoteMonotonic := normalizeTimestamp(frame.TimestampMicros, arrival)

	p.controller.SetTargetSpeed(frame.TargetSpeed)
	p.controller.SetDirection(frame.Direction)

	var flags byte
	if len(frame.Payload) > 0 {
		flags = frame.Payload[0]
	}

	if lightsMask == 0 {
		p.controller.ToggleHeadlights(flags&flagHeadlights != 0)
	}
	p.controller.ToggleHorn(flags&flagHorn != 0)

	emergency := flags&flagEmergencyStop != 0
	if emergency {
		p.controller.TriggerEmergencyStop()
	}

	var legacyMessage string
	if len(frame.Payload) > 1 {
		if p.legacyParser == nil {
			return Result{}, ErrLegacyParserDisabled
		}
		msg, err := p.legacyParser.Parse(frame.Payload[1:])
		if err != nil {
			return Result{}, &LegacyParserError{Msg: err.Error()}
		}
		legacyMessage = msg
	}

	p.controller.RegisterCommandTimestamp(remoteMonotonic)

	if legacyMessage != "" {
		return Result{Message: legacyMessage}, nil
	}
	if emergency {
		return Result{Message: "Emergency stop"}, nil
	}
	return Result{Message: "State updated"}, nil
}

// gateCadence applies the 30ms/120ms link-cadence policy. A frame that
// exceeds 120ms does NOT update lastArrival, so the next good frame
// re-anchors cadence; see §9 for the accepted tradeoff of this behavior.
func (p *Processor) gateCadence(arrival time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hasLastArrival {
		p.lastArrival = arrival
		p.hasLastArrival = true
		return nil
	}

	delta := arrival.Sub(p.lastArrival)
	switch {
	case delta <= cadenceNominal:
		p.lowFrequencyFallback = false
	case delta <= cadenceFallback:
		p.lowFrequencyFallback = true
	default:
		return ErrRateBelow10Hz
	}

	p.lastArrival = arrival
	return nil
}

// normalizeTimestamp maps the sender's wall-clock microseconds onto the
// receiver's monotonic timeline, clamping clock skew to non-negative age.
// Done at the boundary per §9, so the Controller only ever sees monotonic
// instants.
func normalizeTimestamp(timestampMicros uint64, arrival time.Time) time.Time {
	if timestampMicros == 0 {
		return arrival
	}

	remoteWall := time.UnixMicro(int64(timestampMicros))
	age := arrival.Sub(remoteWall)
	if age < 0 {
		age = 0
	}
	return arrival.Add(-age)
}
