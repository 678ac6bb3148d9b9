package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/daemonp/aap2mqtt/internal/log"
	"github.com/daemonp/aap2mqtt/internal/panel"
	"github.com/daemonp/aap2mqtt/internal/types"
)

func outputCommand(f *flags) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "output N",
		Short: "Activate output N on the panel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid output %q: %w", args[0], err)
			}

			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}

			logger := log.NewLogger(cfg.Log)
			mgr := panel.NewManager(cfg.Panel, logger.With("panel"))
			defer mgr.Close()

			connected := make(chan struct{}, 1)
			mgr.SubscribeState(func(st types.SessionState, err error) {
				if st == types.SessionConnected {
					select {
					case connected <- struct{}{}:
					default:
					}
				}
			})

			if err := mgr.Start(panel.TargetFrom(cfg.Panel)); err != nil {
				return err
			}

			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-connected:
			case <-mgr.Done():
				if err := mgr.Err(); err != nil {
					return err
				}
				return errors.New("panel session ended before connecting")
			case <-timer.C:
				return errors.New("timed out waiting for the panel connection")
			}

			if err := mgr.SendCommand(output); err != nil {
				return err
			}
			logger.Info("Activated %s", cfg.OutputName(output))
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "How long to wait for the panel connection")
	return cmd
}
