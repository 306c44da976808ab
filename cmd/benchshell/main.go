// Command benchshell is a manual bring-up tool: it reads the same
// semicolon key=value grammar as the original firmware's bench CLI and
// drives a *controller.Controller directly, with no transport attached.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"minitrain-core/internal/clock"
	"minitrain-core/internal/control"
	"minitrain-core/internal/controller"
	"minitrain-core/internal/telemetry"
	"minitrain-core/internal/trainstate"
)

func main() {
	var (
		kp = flag.Float64("kp", 0.6, "PID proportional gain")
		ki = flag.Float64("ki", 0.08, "PID integral gain")
		kd = flag.Float64("kd", 0.02, "PID derivative gain")
	)
	flag.Parse()

	pid := control.New(*kp, *ki, *kd, 0, 1)
	motorSink := func(v float32) { fmt.Printf("motor=%.3f\n", v) }
	telemetrySink := func(s telemetry.Sample) { fmt.Printf("telemetry: %+v\n", s) }

	cfg := controller.Config{
		StaleCommandThreshold: 200 * time.Millisecond,
		PilotReleaseDuration:  2 * time.Second,
		FailSafeRampDuration:  500 * time.Millisecond,
		AggregatorWindow:      20,
	}
	ctrl := controller.New(pid, motorSink, telemetrySink, cfg, clock.Real{}, nil)

	fmt.Println("benchshell ready; type commands, 'quit' to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, err := ParseCommand(scanner.Text())
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if cmd.Name == "quit" {
			return
		}
		if err := dispatch(ctrl, cmd); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func dispatch(ctrl *controller.Controller, cmd Command) error {
	switch cmd.Name {
	case "set_speed":
		v, err := strconv.ParseFloat(cmd.Value, 32)
		if err != nil {
			return fmt.Errorf("set_speed: %w", err)
		}
		ctrl.SetTargetSpeed(float32(v))
	case "set_direction":
		switch cmd.Value {
		case "forward":
			ctrl.SetDirection(trainstate.Forward)
		case "reverse":
			ctrl.SetDirection(trainstate.Reverse)
		default:
			return fmt.Errorf("set_direction: unknown value %q", cmd.Value)
		}
	case "headlights":
		switch cmd.Value {
		case "on":
			ctrl.ToggleHeadlights(true)
		case "off":
			ctrl.ToggleHeadlights(false)
		default:
			return fmt.Errorf("headlights: unknown value %q", cmd.Value)
		}
	case "emergency":
		ctrl.TriggerEmergencyStop()
	default:
		return fmt.Errorf("unknown command %q", cmd.Name)
	}

	state := ctrl.State()
	fmt.Printf("state: direction=%s targetSpeed=%.2f lights=%v emergencyStop=%v\n",
		state.Direction, state.TargetSpeed, state.LightsState, state.EmergencyStop)
	return nil
}
