package main

import (
	"context"
	"time"

	"minitrain-core/internal/channel"
	"minitrain-core/internal/clock"
	"minitrain-core/internal/command"
	"minitrain-core/internal/config"
	"minitrain-core/internal/control"
	"minitrain-core/internal/controller"
	"minitrain-core/internal/logging"
	"minitrain-core/internal/telemetry"
	"minitrain-core/internal/transport"
)

// controlTickInterval is the period of Controller.OnSpeedMeasurement, per
// the "periodic, e.g. every 50 ms" cooperative outer loop.
const controlTickInterval = 50 * time.Millisecond

// SensorFeed is the hardware-integration seam a real locomotive's speed
// encoder and sensor-fusion pipeline would fill. Like the camera capture
// pipeline, wiring actual hardware here is out of scope; NullSensorFeed
// below is the stand-in that keeps the control loop runnable without it.
type SensorFeed interface {
	ReadSpeed() (float32, bool)
	ReadTelemetry() (telemetry.Sample, bool)
}

// NullSensorFeed reports the controller's own last applied speed back as
// the measurement (an idealized closed loop) and never produces a
// telemetry sample; it exists so minitraind runs end-to-end against a
// bench transport without real sensors attached.
type NullSensorFeed struct {
	ctrl *controller.Controller
}

func (f NullSensorFeed) ReadSpeed() (float32, bool) {
	return f.ctrl.State().AppliedSpeed, true
}

func (f NullSensorFeed) ReadTelemetry() (telemetry.Sample, bool) {
	return telemetry.Sample{}, false
}

// Runner owns the wiring between the transport, the command channel, the
// command processor, and the controller, and drives the cooperative outer
// loop described in the concurrency model.
type Runner struct {
	cfg *config.Config
	log *logging.Logger

	ch     *channel.Channel
	proc   *command.Processor
	ctrl   *controller.Controller
	sensor SensorFeed

	sequence uint32
}

// NewRunner wires a Runner from cfg. It does not open the transport; call
// Run to start and block.
func NewRunner(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Runner, error) {
	clk := clock.Real{}

	pid := control.New(cfg.Control.PIDKp, cfg.Control.PIDKi, cfg.Control.PIDKd,
		cfg.Control.MotorOutputMin, cfg.Control.MotorOutputMax)

	tr := transport.NewWebSocketTransport()
	ch := channel.New(tr)

	ctrlCfg := controller.Config{
		StaleCommandThreshold: cfg.Control.StaleCommandThreshold(),
		PilotReleaseDuration:  cfg.Control.PilotReleaseDuration(),
		FailSafeRampDuration:  cfg.Control.FailSafeRampDuration(),
		AggregatorWindow:      cfg.Telemetry.AggregatorWindow,
	}

	r := &Runner{cfg: cfg, log: log, ch: ch}

	motorSink := func(v float32) {
		log.Trace("motor command=%.3f", v)
	}
	telemetrySink := func(s telemetry.Sample) {
		r.sequence++
		if err := ch.PublishTelemetry(s, r.sequence, clk.Now()); err != nil {
			log.Warn("publish telemetry failed: %v", err)
		}
	}

	ctrl := controller.New(pid, motorSink, telemetrySink, ctrlCfg, clk, log)
	r.ctrl = ctrl
	r.proc = command.NewProcessor(ctrl, nil)
	r.sensor = NullSensorFeed{ctrl: ctrl}

	return r, nil
}

// Close releases the transport.
func (r *Runner) Close() {
	_ = r.ch.Stop()
}

// Run opens the transport and blocks, alternating Channel.Poll,
// Processor.ProcessFrame, and the periodic Controller.OnSpeedMeasurement /
// OnTelemetrySample ticks, until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.ch.Start(ctx, r.cfg.Transport.URI); err != nil {
		return err
	}

	r.log.Info("minitraind started: transport=%s session=%x", r.cfg.Transport.URI, r.ch.SessionID())

	receiveTimeout := r.cfg.Transport.ReceiveTimeout()
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			r.log.Warn("context canceled; stopping")
			return ctx.Err()
		default:
		}

		frame, ok, err := r.ch.Poll(receiveTimeout)
		if err != nil {
			r.log.Error("poll failed: %v", err)
		} else if ok {
			now := time.Now()
			res, err := r.proc.ProcessFrame(frame, now)
			if err != nil {
				r.log.Warn("process frame failed: %v", err)
			} else {
				r.log.Debug("processed frame: %s", res.Message)
			}
		}

		now := time.Now()
		dt := now.Sub(lastTick)
		if dt >= controlTickInterval {
			lastTick = now
			if speed, ok := r.sensor.ReadSpeed(); ok {
				r.ctrl.OnSpeedMeasurement(speed, dt)
			}
			if sample, ok := r.sensor.ReadTelemetry(); ok {
				r.ctrl.OnTelemetrySample(sample)
			}
		}
	}
}
