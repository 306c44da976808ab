// Package telemetry implements the correlation-preserving telemetry sample
// type and the fixed-window rolling aggregator (§4.E).
package telemetry

import (
	"time"

	"minitrain-core/internal/trainstate"
)

// Source distinguishes a sample read straight off the train from one
// produced by averaging a window of samples.
type Source int

const (
	Instantaneous Source = iota
	Aggregated
)

// Sample is a single point of correlated telemetry: the correlation
// metadata ties it back to the command frame that produced it, and the
// authoritative fields are the ones the Controller enriches from State.
type Sample struct {
	SessionID        [16]byte
	Sequence         uint32
	CommandTimestamp time.Time

	Speed        float32
	MotorCurrent float32
	Battery      float32
	Temperature  float32
	AppliedSpeed float32

	FailSafeActive        bool
	FailSafeProgress      float32
	FailSafeElapsedMillis uint32

	LightsState         trainstate.LightsState
	LightsSource        trainstate.LightsSource
	ActiveCab           trainstate.ActiveCab
	LightsOverrideMask  uint8
	LightsTelemetryOnly bool
	AppliedDirection    trainstate.Direction

	Source Source
}

// Aggregator is a fixed-size sliding window over the most recent samples.
type Aggregator struct {
	window   []Sample
	capacity int
}

// NewAggregator constructs an Aggregator that retains at most capacity
// samples. A capacity <= 0 is treated as 1.
func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = 1
	}
	return &Aggregator{
		window:   make([]Sample, 0, capacity),
		capacity: capacity,
	}
}

// AddSample evicts the oldest sample when the window is full, then
// appends s.
func (a *Aggregator) AddSample(s Sample) {
	if len(a.window) >= a.capacity {
		a.window = a.window[1:]
	}
	a.window = append(a.window, s)
}

// Len returns the number of samples currently retained.
func (a *Aggregator) Len() int {
	return len(a.window)
}

// Average returns the rolling-window average sample, or (Sample{}, false)
// if the window is empty. Numeric float fields are arithmetic means;
// FailSafeActive is the logical OR across the window; categorical and
// correlation fields are copied from the most recent sample; Source is
// set to Aggregated.
func (a *Aggregator) Average() (Sample, bool) {
	n := len(a.window)
	if n == 0 {
		return Sample{}, false
	}

	var sum Sample
	var failSafeActive bool
	for _, s := range a.window {
		sum.Speed += s.Speed
		sum.MotorCurrent += s.MotorCurrent
		sum.Battery += s.Battery
		sum.Temperature += s.Temperature
		sum.AppliedSpeed += s.AppliedSpeed
		sum.FailSafeProgress += s.FailSafeProgress
		failSafeActive = failSafeActive || s.FailSafeActive
	}

	latest := a.window[n-1]
	count := float32(n)

	return Sample{
		SessionID:             latest.SessionID,
		Sequence:              latest.Sequence,
		CommandTimestamp:      latest.CommandTimestamp,
		Speed:                 sum.Speed / count,
		MotorCurrent:          sum.MotorCurrent / count,
		Battery:               sum.Battery / count,
		Temperature:           sum.Temperature / count,
		AppliedSpeed:          sum.AppliedSpeed / count,
		FailSafeActive:        failSafeActive,
		FailSafeProgress:      sum.FailSafeProgress / count,
		FailSafeElapsedMillis: latest.FailSafeElapsedMillis,
		LightsState:           latest.LightsState,
		LightsSource:          latest.LightsSource,
		ActiveCab:             latest.ActiveCab,
		LightsOverrideMask:    latest.LightsOverrideMask,
		LightsTelemetryOnly:   latest.LightsTelemetryOnly,
		AppliedDirection:      latest.AppliedDirection,
		Source:                Aggregated,
	}, true
}
