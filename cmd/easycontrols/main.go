package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Agrid-Dev/easycontrols/cmd/app"
	"github.com/Agrid-Dev/easycontrols/internal/bridge"
	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	httpctrl "github.com/Agrid-Dev/easycontrols/internal/controllers/http"
	mqttctrl "github.com/Agrid-Dev/easycontrols/internal/controllers/mqtt"
	"github.com/Agrid-Dev/easycontrols/internal/controls"
	"github.com/Agrid-Dev/easycontrols/internal/logging"
	"github.com/Agrid-Dev/easycontrols/internal/modbusclient"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.Parse()

	cfg, err := app.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("exited")
	}
}

func run(ctx context.Context, cfg app.Config, logger zerolog.Logger) error {
	logger = logger.With().Str("device_id", cfg.DeviceID).Logger()

	client, err := modbusclient.New(cfg.ClientConfig(), logger)
	if err != nil {
		return err
	}
	if err := client.Open(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.DeviceAddr(), err)
	}
	defer client.Close()

	ctl := controls.New(client, catalog.Default(), cfg.DeviceID, logger)
	if _, err := ctl.Init(ctx); err != nil {
		return fmt.Errorf("set up %s: %w", cfg.DeviceAddr(), err)
	}

	b, err := bridge.New(ctl, cfg.BridgeConfig(), logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(ctx) })

	if h := cfg.Controllers.HTTP; h.Enabled {
		srv := httpctrl.New(b, httpctrl.Config{Addr: h.Addr, Stats: client.Stats}, logger)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if m := cfg.Controllers.MQTT; m.Enabled {
		ctrl, err := mqttctrl.New(b, mqttctrl.Config{
			DeviceID:        cfg.DeviceID,
			BrokerURL:       m.BrokerURL,
			ClientID:        m.ClientID,
			BaseTopic:       m.BaseTopic,
			QoS:             m.QoS,
			RetainSnapshot:  m.RetainSnapshot,
			PublishInterval: m.PublishInterval,
			CommandTimeout:  m.CommandTimeout,
			Username:        m.Username,
			Password:        m.Password,
		}, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return ctrl.Run(ctx) })
	}

	logger.Info().Str("device", cfg.DeviceAddr()).Msg("easycontrols bridge running")
	return g.Wait()
}
