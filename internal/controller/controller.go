// Package controller implements the Train Controller (§4.F), the heart of
// the system: it orchestrates the PID regulator, the Light Policy, and the
// Telemetry Aggregator under a single mutex, and owns the liveness-driven
// fail-safe / pilot-release state machine.
package controller

import (
	"sync"
	"time"

	"minitrain-core/internal/clock"
	"minitrain-core/internal/control"
	"minitrain-core/internal/lights"
	"minitrain-core/internal/logging"
	"minitrain-core/internal/telemetry"
	"minitrain-core/internal/trainstate"
)

// MotorSink receives the motor PWM command, already clamped to [0, 1].
type MotorSink func(float32)

// TelemetrySink receives an outgoing telemetry sample.
type TelemetrySink func(telemetry.Sample)

// Config holds the controller's timing tunables. StaleCommandThreshold and
// PilotReleaseDuration gate the liveness state machine; FailSafeRampDuration
// sets how fast the target speed ramps to zero once fail-safe engages.
type Config struct {
	StaleCommandThreshold time.Duration
	PilotReleaseDuration  time.Duration
	FailSafeRampDuration  time.Duration
	AggregatorWindow      int
}

const defaultAggregatorWindow = 20

// Controller is the single-mutex owner of train state, the PID regulator,
// and the telemetry aggregator. No public method performs blocking I/O
// while holding the mutex; motor and telemetry sinks are invoked under the
// lock and must not call back into the Controller.
type Controller struct {
	mu sync.Mutex

	state trainstate.State
	pid   *control.PID

	motorSink     MotorSink
	telemetrySink TelemetrySink
	aggregator    *telemetry.Aggregator

	clock clock.Source
	cfg   Config
	log   *logging.Logger
}

// New constructs a Controller. motorSink and telemetrySink may be nil, in
// which case the corresponding output is silently dropped (useful for
// tests that only inspect State()).
func New(pid *control.PID, motorSink MotorSink, telemetrySink TelemetrySink, cfg Config, clk clock.Source, log *logging.Logger) *Controller {
	window := cfg.AggregatorWindow
	if window <= 0 {
		window = defaultAggregatorWindow
	}

	now := clk.Now()
	st := trainstate.New(now, cfg.FailSafeRampDuration, cfg.PilotReleaseDuration)

	return &Controller{
		state:         *st,
		pid:           pid,
		motorSink:     motorSink,
		telemetrySink: telemetrySink,
		aggregator:    telemetry.NewAggregator(window),
		clock:         clk,
		cfg:           cfg,
		log:           log,
	}
}

// State returns a point-in-time snapshot of the train state.
func (c *Controller) State() trainstate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

func (c *Controller) invokeMotorLocked(v float32) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	if c.motorSink != nil {
		c.motorSink(v)
	}
}

func (c *Controller) reevaluateLightsLocked() {
	c.state.LightsState, c.state.LightsSource = lights.Evaluate(c.state)
}

// OnSpeedMeasurement is the ~20 Hz control tick: it updates applied speed,
// drives the liveness state machine, re-evaluates lighting, and finally
// commands the motor.
func (c *Controller) OnSpeedMeasurement(measuredSpeed float32, dt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.state.UpdateAppliedSpeed(measuredSpeed, now)

	if c.state.EmergencyStop {
		c.invokeMotorLocked(0)
		return
	}

	age := now.Sub(c.state.Realtime.LastCommandTimestamp)
	if age < 0 {
		age = 0
	}

	c.transitionPilotReleaseLocked(now, age)
	c.transitionFailSafeLocked(now, age)

	c.reevaluateLightsLocked()

	if c.state.PilotReleaseActive && !c.state.Realtime.PilotReleaseTelemetrySent {
		c.publishAvailabilitySampleLocked(now)
		c.state.Realtime.PilotReleaseTelemetrySent = true
	}

	if c.state.FailSafeActive {
		c.invokeMotorLocked(0)
		return
	}
	if c.state.PilotReleaseActive {
		c.invokeMotorLocked(0)
		return
	}

	out := c.pid.Update(float64(c.state.TargetSpeed), float64(c.state.AppliedSpeed), dt)
	c.invokeMotorLocked(float32(out))
}

// transitionPilotReleaseLocked implements the PilotRelease entry rule of
// §4.F. Pilot release supersedes fail-safe.
func (c *Controller) transitionPilotReleaseLocked(now time.Time, age time.Duration) {
	s := &c.state

	if s.PilotReleaseActive || s.PilotReleaseDuration <= 0 || age <= s.PilotReleaseDuration {
		return
	}

	s.PilotReleaseActive = true
	s.FailSafeActive = false
	s.Realtime.HasFailSafeRampStart = false
	s.Realtime.LightsLatched = false

	if !s.Realtime.PilotReleaseLightsLatched {
		s.Realtime.LightsOverrideMaskBeforePilotRelease = s.LightsOverrideMask
		s.Realtime.LightsTelemetryOnlyBeforePilotRelease = s.LightsTelemetryOnly
		s.Realtime.PilotReleaseLightsLatched = true
	}

	s.LightsOverrideMask = 0
	s.LightsTelemetryOnly = false
	s.Direction = trainstate.Neutral
	s.ActiveCab = trainstate.CabNone
	s.TargetSpeed = 0
	s.LastUpdated = now

	c.pid.Reset()
	s.Realtime.PilotReleaseTelemetrySent = false

	if c.log != nil {
		c.log.Warn("pilot release engaged after %s of silence", age)
	}
}

// transitionFailSafeLocked implements fail-safe entry, ramp, and recovery
// (§4.F). Entry is gated on pilot release not being active; recovery fires
// whenever the link is fresh again or pilot release has superseded it.
func (c *Controller) transitionFailSafeLocked(now time.Time, age time.Duration) {
	s := &c.state

	if !s.PilotReleaseActive && !s.FailSafeActive && age > c.cfg.StaleCommandThreshold {
		s.FailSafeActive = true
		s.Realtime.HasFailSafeRampStart = true
		s.Realtime.FailSafeRampStart = now
		s.Realtime.FailSafeInitialTarget = s.TargetSpeed
		s.Realtime.LightsBeforeFailSafe = s.LightsState
		s.Realtime.LightsSourceBeforeFailSafe = s.LightsSource
		s.Realtime.LightsLatched = true
		s.LastUpdated = now

		if c.log != nil {
			c.log.Warn("fail-safe engaged after %s of silence", age)
		}
	}

	if s.FailSafeActive {
		elapsed := now.Sub(s.Realtime.FailSafeRampStart)
		if elapsed < 0 {
			elapsed = 0
		}
		rampDuration := s.FailSafeRampDuration

		if rampDuration <= 0 || elapsed >= rampDuration {
			s.TargetSpeed = 0
			s.Direction = trainstate.Neutral
			s.ActiveCab = trainstate.CabNone
		} else {
			ratio := 1 - float64(elapsed)/float64(rampDuration)
			if ratio < 0 {
				ratio = 0
			}
			s.TargetSpeed = s.Realtime.FailSafeInitialTarget * float32(ratio)
		}
		s.LastUpdated = now
	}

	if age <= c.cfg.StaleCommandThreshold || s.PilotReleaseActive {
		if s.FailSafeActive {
			s.FailSafeActive = false
			s.Realtime.HasFailSafeRampStart = false
		}
		if s.Realtime.LightsLatched && !s.PilotReleaseActive {
			s.LightsState = s.Realtime.LightsBeforeFailSafe
			s.LightsSource = s.Realtime.LightsSourceBeforeFailSafe
			s.Realtime.LightsLatched = false
		}
	}
}

// RegisterCommandTimestamp records a freshly-accepted command's normalized
// monotonic timestamp, and exits pilot release / restores latched lights
// and overrides as described in §4.F. Clearing FailSafeActive itself
// happens on the next OnSpeedMeasurement via its recovery branch.
func (c *Controller) RegisterCommandTimestamp(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	s := &c.state
	s.UpdateCommandTimestamp(ts, now)

	if s.FailSafeActive && s.Realtime.LightsLatched {
		s.LightsState = s.Realtime.LightsBeforeFailSafe
		s.LightsSource = s.Realtime.LightsSourceBeforeFailSafe
		s.Realtime.LightsLatched = false
	}

	if s.PilotReleaseActive {
		s.PilotReleaseActive = false
		if s.Realtime.PilotReleaseLightsLatched {
			s.LightsOverrideMask = s.Realtime.LightsOverrideMaskBeforePilotRelease
			s.LightsTelemetryOnly = s.Realtime.LightsTelemetryOnlyBeforePilotRelease
			s.Realtime.PilotReleaseLightsLatched = false
		}
	}

	c.reevaluateLightsLocked()
}

// SetTargetSpeed writes through the operator's setpoint and clears a sticky
// emergency stop once a positive speed is commanded.
func (c *Controller) SetTargetSpeed(v float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.state.UpdateTargetSpeed(v, now)
	if c.state.EmergencyStop && v > 0 {
		c.state.EmergencyStop = false
	}
	c.reevaluateLightsLocked()
}

// SetDirection writes through the travel direction and infers an active
// cab when none is selected yet.
func (c *Controller) SetDirection(d trainstate.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.state.SetDirection(d, now)

	if d == trainstate.Neutral {
		c.state.ActiveCab = trainstate.CabNone
	} else if c.state.ActiveCab == trainstate.CabNone {
		if d == trainstate.Forward {
			c.state.ActiveCab = trainstate.CabFront
		} else {
			c.state.ActiveCab = trainstate.CabRear
		}
	}
	c.reevaluateLightsLocked()
}

// SetActiveCab writes through the leading-cab selection.
func (c *Controller) SetActiveCab(cab trainstate.ActiveCab) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.state.SetActiveCab(cab, now)
	c.reevaluateLightsLocked()
}

// SetLightsOverride writes through the operator lamp override mask (low 7
// bits meaningful) and the telemetry-only flag.
func (c *Controller) SetLightsOverride(mask uint8, telemetryOnly bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLightsOverrideLocked(mask, telemetryOnly)
}

func (c *Controller) setLightsOverrideLocked(mask uint8, telemetryOnly bool) {
	now := c.clock.Now()
	c.state.SetLightsOverride(mask, telemetryOnly, now)
	c.reevaluateLightsLocked()
}

// ToggleHeadlights is sugar over SetLightsOverride with a single-bit mask.
func (c *Controller) ToggleHeadlights(enabled bool) {
	mask := uint8(0)
	if enabled {
		mask = lightsOverrideHeadlightBit
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLightsOverrideLocked(mask, false)
}

const lightsOverrideHeadlightBit uint8 = 0x01

// ToggleHorn writes through the horn flag.
func (c *Controller) ToggleHorn(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.state.SetHorn(enabled, now)
}

// TriggerEmergencyStop zeroes target and applied speed, commands the motor
// to zero, resets the PID, and re-evaluates lighting.
func (c *Controller) TriggerEmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.state.ApplyEmergencyStop(now)
	c.pid.Reset()
	c.invokeMotorLocked(0)
	c.reevaluateLightsLocked()
}

// failSafeDerivedLocked computes the elapsed-time and progress fields
// telemetry needs while fail-safe is active.
func (c *Controller) failSafeDerivedLocked(now time.Time) (elapsedMillis uint32, progress float32) {
	s := &c.state
	if !s.Realtime.HasFailSafeRampStart {
		return 0, 0
	}

	elapsed := now.Sub(s.Realtime.FailSafeRampStart)
	if elapsed < 0 {
		elapsed = 0
	}
	elapsedMillis = uint32(elapsed.Milliseconds())

	rampDuration := s.FailSafeRampDuration
	if rampDuration <= 0 {
		return elapsedMillis, 1
	}

	p := float64(elapsed) / float64(rampDuration)
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	return elapsedMillis, float32(p)
}

func (c *Controller) buildSampleLocked(now time.Time, sessionID [16]byte, sequence uint32, commandTimestamp time.Time) telemetry.Sample {
	elapsedMillis, progress := c.failSafeDerivedLocked(now)
	s := &c.state
	return telemetry.Sample{
		SessionID:             sessionID,
		Sequence:              sequence,
		CommandTimestamp:      commandTimestamp,
		AppliedSpeed:          s.AppliedSpeed,
		FailSafeActive:        s.FailSafeActive,
		FailSafeProgress:      progress,
		FailSafeElapsedMillis: elapsedMillis,
		LightsState:           s.LightsState,
		LightsSource:          s.LightsSource,
		ActiveCab:             s.ActiveCab,
		LightsOverrideMask:    s.LightsOverrideMask,
		LightsTelemetryOnly:   s.LightsTelemetryOnly,
		AppliedDirection:      s.Direction,
		Source:                telemetry.Instantaneous,
	}
}

// publishAvailabilitySampleLocked emits the one-shot pilot-release sample
// described in §4.F.T: it carries no externally-measured fields since no
// command frame prompted it.
func (c *Controller) publishAvailabilitySampleLocked(now time.Time) {
	sample := c.buildSampleLocked(now, [16]byte{}, 0, c.state.Realtime.LastCommandTimestamp)
	c.aggregator.AddSample(sample)
	if c.telemetrySink != nil {
		c.telemetrySink(sample)
	}
}

// OnTelemetrySample enriches a received sample with authoritative fields
// from State (§4.F.T), folds it into the aggregator, feeds its battery
// reading back into State, and publishes the enriched sample.
func (c *Controller) OnTelemetrySample(sample telemetry.Sample) telemetry.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	enriched := c.buildSampleLocked(now, sample.SessionID, sample.Sequence, sample.CommandTimestamp)
	enriched.Speed = sample.Speed
	enriched.MotorCurrent = sample.MotorCurrent
	enriched.Battery = sample.Battery
	enriched.Temperature = sample.Temperature

	c.aggregator.AddSample(enriched)
	c.state.SetBatteryVoltage(enriched.Battery, now)

	if c.telemetrySink != nil {
		c.telemetrySink(enriched)
	}
	return enriched
}

// AggregatedTelemetry returns the current rolling-window average, if any
// samples have been collected.
func (c *Controller) AggregatedTelemetry() (telemetry.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregator.Average()
}
