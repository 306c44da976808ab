package controller

import (
	"testing"
	"time"

	"minitrain-core/internal/clock"
	"minitrain-core/internal/control"
	"minitrain-core/internal/telemetry"
	"minitrain-core/internal/trainstate"
)

func newTestController(t *testing.T, mockClock *clock.Mock) (*Controller, *float32) {
	t.Helper()
	var lastMotor float32 = -1
	pid := control.New(0.5, 0.05, 0.01, 0, 1)
	cfg := Config{
		StaleCommandThreshold: 200 * time.Millisecond,
		PilotReleaseDuration:  1 * time.Second,
		FailSafeRampDuration:  500 * time.Millisecond,
		AggregatorWindow:      5,
	}
	c := New(pid, func(v float32) { lastMotor = v }, nil, cfg, mockClock, nil)
	return c, &lastMotor
}

func TestNominalRegulation(t *testing.T) {
	mc := clock.NewMock(time.Now())
	c, motor := newTestController(t, mc)

	c.SetTargetSpeed(1.5)
	c.OnSpeedMeasurement(0.5, 50*time.Millisecond)

	if *motor <= 0 || *motor > 1 {
		t.Fatalf("expected motor command in (0,1], got %v", *motor)
	}
	st := c.State()
	if st.TargetSpeed != 1.5 {
		t.Fatalf("expected targetSpeed 1.5, got %v", st.TargetSpeed)
	}
}

func TestFailSafeEngagementAndRamp(t *testing.T) {
	start := time.Now()
	mc := clock.NewMock(start)
	c, motor := newTestController(t, mc)

	c.SetTargetSpeed(2.0)
	c.RegisterCommandTimestamp(start)

	mc.Advance(200*time.Millisecond + 50*time.Millisecond)
	c.OnSpeedMeasurement(0, 50*time.Millisecond)

	st := c.State()
	if !st.FailSafeActive {
		t.Fatal("expected fail-safe to engage")
	}
	if *motor != 0 {
		t.Fatalf("expected motor=0 in fail-safe, got %v", *motor)
	}
	if st.LightsState != trainstate.BothRed || st.LightsSource != trainstate.FailSafe {
		t.Fatalf("expected BothRed/FailSafe lights, got %v/%v", st.LightsState, st.LightsSource)
	}

	mc.Advance(500 * time.Millisecond)
	c.OnSpeedMeasurement(0, 50*time.Millisecond)

	st = c.State()
	if st.TargetSpeed != 0 {
		t.Fatalf("expected targetSpeed ramped to 0, got %v", st.TargetSpeed)
	}
	if st.Direction != trainstate.Neutral {
		t.Fatalf("expected direction Neutral at ramp end, got %v", st.Direction)
	}
}

func TestFailSafeRampMonotonic(t *testing.T) {
	start := time.Now()
	mc := clock.NewMock(start)
	c, _ := newTestController(t, mc)

	c.SetTargetSpeed(4.0)
	c.RegisterCommandTimestamp(start)

	mc.Advance(250 * time.Millisecond)
	c.OnSpeedMeasurement(0, 50*time.Millisecond)
	firstTarget := c.State().TargetSpeed

	mc.Advance(100 * time.Millisecond)
	c.OnSpeedMeasurement(0, 50*time.Millisecond)
	secondTarget := c.State().TargetSpeed

	if secondTarget > firstTarget {
		t.Fatalf("fail-safe ramp must be monotonically non-increasing: %v then %v", firstTarget, secondTarget)
	}
}

func TestPilotReleaseOneShotTelemetry(t *testing.T) {
	start := time.Now()
	mc := clock.NewMock(start)

	var published []telemetry.Sample
	pid := control.New(0.5, 0.05, 0.01, 0, 1)
	cfg := Config{
		StaleCommandThreshold: 200 * time.Millisecond,
		PilotReleaseDuration:  1 * time.Second,
		FailSafeRampDuration:  300 * time.Millisecond,
		AggregatorWindow:      5,
	}
	c := New(pid, nil, func(s telemetry.Sample) { published = append(published, s) }, cfg, mc, nil)
	c.RegisterCommandTimestamp(start)

	mc.Advance(1100 * time.Millisecond)
	c.OnSpeedMeasurement(0, 50*time.Millisecond)

	st := c.State()
	if !st.PilotReleaseActive {
		t.Fatal("expected pilot release to engage")
	}
	if st.ActiveCab != trainstate.CabNone {
		t.Fatalf("expected activeCab None, got %v", st.ActiveCab)
	}
	if st.LightsSource != trainstate.Automatic {
		t.Fatalf("expected Automatic lights source, got %v", st.LightsSource)
	}
	if len(published) != 1 {
		t.Fatalf("expected exactly one telemetry sample published, got %d", len(published))
	}
	if published[0].FailSafeActive {
		t.Fatal("expected availability sample to report failSafeActive=false")
	}
	if published[0].LightsState != trainstate.BothRed {
		t.Fatalf("expected availability sample lights BothRed, got %v", published[0].LightsState)
	}

	mc.Advance(50 * time.Millisecond)
	c.OnSpeedMeasurement(0, 50*time.Millisecond)
	if len(published) != 1 {
		t.Fatalf("expected no additional pilot-release sample, got %d total", len(published))
	}
}

func TestRecoveryRestoresOverrides(t *testing.T) {
	start := time.Now()
	mc := clock.NewMock(start)
	c, _ := newTestController(t, mc)

	c.SetLightsOverride(0x06, false) // rear white + front red
	c.RegisterCommandTimestamp(start)

	mc.Advance(1100 * time.Millisecond)
	c.OnSpeedMeasurement(0, 50*time.Millisecond)
	if !c.State().PilotReleaseActive {
		t.Fatal("expected pilot release to engage before recovery")
	}

	mc.Advance(10 * time.Millisecond)
	now := mc.Now()
	c.RegisterCommandTimestamp(now)

	st := c.State()
	if st.PilotReleaseActive {
		t.Fatal("expected pilot release cleared on command recovery")
	}
	if st.FailSafeActive {
		t.Fatal("expected fail-safe cleared on command recovery")
	}
	if st.LightsOverrideMask != 0x06 {
		t.Fatalf("expected restored override mask 0x06, got %#x", st.LightsOverrideMask)
	}
	if st.LightsState != trainstate.FrontRedRearWhite {
		t.Fatalf("expected FrontRedRearWhite, got %v", st.LightsState)
	}
	if st.LightsSource != trainstate.Override {
		t.Fatalf("expected Override source, got %v", st.LightsSource)
	}
}

func TestEmergencyStopZeroesMotorAndIsSticky(t *testing.T) {
	mc := clock.NewMock(time.Now())
	c, motor := newTestController(t, mc)

	c.SetTargetSpeed(3.0)
	c.TriggerEmergencyStop()

	st := c.State()
	if st.TargetSpeed != 0 || st.AppliedSpeed != 0 {
		t.Fatalf("expected zeroed speeds, got target=%v applied=%v", st.TargetSpeed, st.AppliedSpeed)
	}
	if *motor != 0 {
		t.Fatalf("expected motor=0, got %v", *motor)
	}

	c.OnSpeedMeasurement(0, 50*time.Millisecond)
	if !c.State().EmergencyStop {
		t.Fatal("expected emergencyStop to remain sticky")
	}

	c.SetTargetSpeed(1.0)
	if c.State().EmergencyStop {
		t.Fatal("expected positive target speed to clear emergencyStop")
	}
}

func TestOnTelemetrySampleEnrichesAndFeedsBackBattery(t *testing.T) {
	mc := clock.NewMock(time.Now())
	c, _ := newTestController(t, mc)

	in := telemetry.Sample{Speed: 1.2, Battery: 11.9, MotorCurrent: 0.5, Temperature: 40}
	out := c.OnTelemetrySample(in)

	if out.Source != telemetry.Instantaneous {
		t.Fatalf("expected Source=Instantaneous, got %v", out.Source)
	}
	if out.AppliedSpeed != c.State().AppliedSpeed {
		t.Fatalf("expected enriched appliedSpeed to match state")
	}
	if c.State().BatteryVoltage != 11.9 {
		t.Fatalf("expected battery fed back into state, got %v", c.State().BatteryVoltage)
	}

	avg, ok := c.AggregatedTelemetry()
	if !ok || avg.Speed != 1.2 {
		t.Fatalf("expected aggregator to retain the sample, got %+v ok=%v", avg, ok)
	}
}
