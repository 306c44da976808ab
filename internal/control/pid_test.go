package control

import (
	"testing"
	"time"
)

func TestUpdateSaturatesOutput(t *testing.T) {
	p := New(0.5, 0.05, 0.01, 0, 1)
	p.Update(1.5, 0.5, 50*time.Millisecond)
	out := p.Update(1.5, 0.5, 50*time.Millisecond)
	if out <= 0 || out > 1 {
		t.Fatalf("expected output in (0,1], got %v", out)
	}
}

func TestUpdateIntegratorOnlyAccumulatesWithPositiveDt(t *testing.T) {
	p := New(0, 1, 0, -100, 100)
	p.Update(1, 0, 0) // dt == 0, integral stays at 0
	out := p.Update(1, 0, 0)
	if out != 0 {
		t.Fatalf("expected zero output with dt=0 throughout, got %v", out)
	}
	out = p.Update(1, 0, time.Second)
	if out != 1 {
		t.Fatalf("expected integral to accumulate 1*1s = 1, got %v", out)
	}
}

func TestUpdateNoDerivativeOnFirstCall(t *testing.T) {
	p := New(0, 0, 1, -100, 100)
	out := p.Update(10, 0, time.Second)
	if out != 0 {
		t.Fatalf("first call must have no derivative term, got %v", out)
	}
	out = p.Update(10, 5, time.Second)
	if out == 0 {
		t.Fatalf("second call should have a nonzero derivative term")
	}
}

func TestResetClearsState(t *testing.T) {
	p := New(0, 1, 1, -100, 100)
	p.Update(1, 0, time.Second)
	p.Reset()
	out := p.Update(1, 0, time.Second)
	// After reset, integral restarts from 0 and there's no previous error,
	// so only the freshly-accumulated integral term (1) contributes.
	if out != 1 {
		t.Fatalf("expected output 1 after reset, got %v", out)
	}
}

func TestOutputClampedToBounds(t *testing.T) {
	p := New(10, 0, 0, -1, 1)
	out := p.Update(100, 0, time.Second)
	if out != 1 {
		t.Fatalf("expected clamp to max output 1, got %v", out)
	}
	out = p.Update(-100, 0, time.Second)
	if out != -1 {
		t.Fatalf("expected clamp to min output -1, got %v", out)
	}
}
