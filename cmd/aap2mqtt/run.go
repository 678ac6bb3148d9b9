package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daemonp/aap2mqtt/internal/homeassistant"
	"github.com/daemonp/aap2mqtt/internal/log"
	"github.com/daemonp/aap2mqtt/internal/metrics"
	"github.com/daemonp/aap2mqtt/internal/mqtt"
	"github.com/daemonp/aap2mqtt/internal/panel"
)

func run(cmd *cobra.Command, f flags) error {
	cfg, err := loadConfig(&f)
	if err != nil {
		return err
	}

	logger := log.NewLogger(cfg.Log)
	logger.Info("Starting aap2mqtt %s", version)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := panel.NewManager(cfg.Panel, logger.With("panel"))

	var bridge *mqtt.MQTT
	if cfg.MQTT.IsEnabled() {
		bridge = mqtt.NewMQTT(cfg, mgr, logger.With("mqtt"))
		if err := bridge.Connect(); err != nil {
			mgr.Close()
			return err
		}

		if cfg.HomeAssistant.Discovery {
			ha := homeassistant.New(cfg, bridge, logger.With("homeassistant"))
			ha.Start()
		}
	}

	if err := mgr.Start(panel.TargetFrom(cfg.Panel)); err != nil {
		if bridge != nil {
			bridge.Close()
		}
		mgr.Close()
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			logger.Info("Serving metrics on %s", cfg.Metrics.Listen)
			return metrics.Serve(ctx, cfg.Metrics.Listen)
		})
	}

	g.Go(func() error {
		return waitPanel(ctx, mgr)
	})

	err = g.Wait()

	logger.Info("Shutting down...")
	if bridge != nil {
		bridge.Close()
	}
	if cerr := mgr.Close(); cerr != nil {
		logger.Warn("Panel shutdown: %v", cerr)
	}
	return err
}

// waitPanel returns nil when ctx is done and an error when the panel
// supervisor stops on its own, either because reconnecting is disabled or
// because it gave up.
func waitPanel(ctx context.Context, mgr *panel.Manager) error {
	select {
	case <-ctx.Done():
		return nil
	case <-mgr.Done():
		if err := mgr.Err(); err != nil {
			return fmt.Errorf("panel session ended: %w", err)
		}
		return errors.New("panel session ended")
	}
}
