package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"minitrain-core/internal/config"
	"minitrain-core/internal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to minitrain.yaml (defaults baked in when omitted)")
		logLevel   = flag.String("log", "", "trace|debug|info|warn|error|critical (overrides config)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			_, _ = os.Stderr.WriteString("ERROR: cannot load config: " + err.Error() + "\n")
			os.Exit(1)
		}
		cfg = loaded
	}

	level := logging.ParseLevel(cfg.Logging.MinLevel)
	if *logLevel != "" {
		level = logging.ParseLevel(*logLevel)
	}

	log, err := logging.NewFileLogger(cfg.Logging.FilePath, level, cfg.Logging.AlsoStdout)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open log file: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Critical("run failed: %v", err)
		os.Exit(1)
	}
}
