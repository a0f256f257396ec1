// Command easysim serves a simulated EasyControls unit over Modbus TCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Agrid-Dev/easycontrols/internal/logging"
	"github.com/Agrid-Dev/easycontrols/internal/simulator"
)

func main() {
	var (
		addr    string
		state   string
		latency time.Duration
		logCfg  logging.Config
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:1502", "listen address")
	flag.StringVar(&state, "state", "", "YAML seed file overlaid on the built-in state")
	flag.DurationVar(&latency, "latency", 0, "delay added to every request")
	flag.StringVar(&logCfg.Level, "log-level", "info", "log level")
	flag.StringVar(&logCfg.Format, "log-format", "console", "log format (json|console)")
	flag.Parse()

	logger, err := logging.New(logCfg, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	values, err := simulator.LoadState(state)
	if err != nil {
		logger.Fatal().Err(err).Msg("load state")
	}
	dev, err := simulator.New(values, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("new simulator")
	}
	dev.SetLatency(latency)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := dev.Run(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("simulator exited")
	}
}
