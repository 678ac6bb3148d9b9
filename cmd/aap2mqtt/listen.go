package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daemonp/aap2mqtt/internal/log"
	"github.com/daemonp/aap2mqtt/internal/panel"
	"github.com/daemonp/aap2mqtt/internal/types"
)

func listenCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Connect to the panel and log zone and system changes",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}

			logger := log.NewLogger(cfg.Log)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mgr := panel.NewManager(cfg.Panel, logger.With("panel"))
			defer mgr.Close()

			mgr.SubscribeEvents(func(ev types.Event) {
				switch e := ev.(type) {
				case types.ZoneChanged:
					state := "closed"
					if e.Active {
						state = "open"
					}
					logger.Info("%s (%d) %s", cfg.ZoneName(int(e.Zone)), e.Zone, state)
				case types.SystemStatus:
					logger.Info("%s", e)
				case types.Unknown:
					logger.Debug("%s", e)
				}
			})
			mgr.SubscribeState(func(st types.SessionState, err error) {
				if err != nil {
					logger.Warn("Panel session %s: %v", st, err)
					return
				}
				logger.Info("Panel session %s", st)
			})

			if err := mgr.Start(panel.TargetFrom(cfg.Panel)); err != nil {
				return err
			}
			return waitPanel(ctx, mgr)
		},
	}
}
