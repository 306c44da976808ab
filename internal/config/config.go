// Package config loads the YAML-driven tunables for the controller, PID
// regulator, transport, and logger, grounded on the same gopkg.in/yaml.v3
// load-then-default pattern the rest of the retrieval pack uses.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document for minitraind.
type Config struct {
	Control   ControlConfig   `yaml:"control"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ControlConfig holds the PID gains and the liveness-state-machine timing
// tunables.
type ControlConfig struct {
	PIDKp float64 `yaml:"pid_kp"`
	PIDKi float64 `yaml:"pid_ki"`
	PIDKd float64 `yaml:"pid_kd"`

	MotorOutputMin float64 `yaml:"motor_output_min"`
	MotorOutputMax float64 `yaml:"motor_output_max"`

	StaleCommandThresholdMillis int `yaml:"stale_command_threshold_millis"`
	FailSafeRampDurationMillis  int `yaml:"fail_safe_ramp_duration_millis"`
	PilotReleaseDurationMillis  int `yaml:"pilot_release_duration_millis"`
}

// StaleCommandThreshold returns the configured liveness threshold as a
// time.Duration.
func (c ControlConfig) StaleCommandThreshold() time.Duration {
	return time.Duration(c.StaleCommandThresholdMillis) * time.Millisecond
}

// FailSafeRampDuration returns the configured fail-safe ramp-down duration.
func (c ControlConfig) FailSafeRampDuration() time.Duration {
	return time.Duration(c.FailSafeRampDurationMillis) * time.Millisecond
}

// PilotReleaseDuration returns the configured pilot-release engagement
// duration.
func (c ControlConfig) PilotReleaseDuration() time.Duration {
	return time.Duration(c.PilotReleaseDurationMillis) * time.Millisecond
}

// TelemetryConfig holds the rolling-window aggregator size.
type TelemetryConfig struct {
	AggregatorWindow int `yaml:"aggregator_window"`
}

// TransportConfig holds the plain-websocket bench/dev transport's dial
// target and the inert TLS seam the secure adapter would otherwise fill.
type TransportConfig struct {
	URI                  string        `yaml:"uri"`
	ReceiveTimeoutMillis int           `yaml:"receive_timeout_millis"`
	TLS                  TLSConfigYAML `yaml:"tls"`
}

// ReceiveTimeout returns the configured Channel.Poll timeout.
func (c TransportConfig) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutMillis) * time.Millisecond
}

// TLSConfigYAML mirrors transport.TLSConfig's fields for YAML parsing,
// kept separate so internal/config does not need to import
// internal/transport just to tag struct fields.
type TLSConfigYAML struct {
	URI                       string `yaml:"uri"`
	ExpectedHost              string `yaml:"expected_host"`
	CACertificatePEM          string `yaml:"ca_certificate_pem"`
	ClientCertificatePEM      string `yaml:"client_certificate_pem"`
	ClientPrivateKeyPEM       string `yaml:"client_private_key_pem"`
	EnforceHostnameValidation bool   `yaml:"enforce_hostname_validation"`
}

// LoggingConfig holds the leveled logger's output settings.
type LoggingConfig struct {
	FilePath   string `yaml:"file_path"`
	MinLevel   string `yaml:"min_level"`
	AlsoStdout bool   `yaml:"also_stdout"`
}

// LoadConfig reads and parses filename on top of Default(): fields absent
// from the document keep their Default() values.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	return cfg, nil
}

// Default returns the configuration minitraind starts from absent an
// operator-supplied file.
func Default() *Config {
	return &Config{
		Control: ControlConfig{
			PIDKp:                       0.6,
			PIDKi:                       0.08,
			PIDKd:                       0.02,
			MotorOutputMin:              0,
			MotorOutputMax:              1,
			StaleCommandThresholdMillis: 200,
			FailSafeRampDurationMillis:  500,
			PilotReleaseDurationMillis:  2000,
		},
		Telemetry: TelemetryConfig{
			AggregatorWindow: 20,
		},
		Transport: TransportConfig{
			URI:                  "ws://localhost:8765/minitrain",
			ReceiveTimeoutMillis: 50,
		},
		Logging: LoggingConfig{
			FilePath:   "minitraind.log",
			MinLevel:   "info",
			AlsoStdout: true,
		},
	}
}
