// Command aap2mqtt bridges an AAP alarm panel's serial-over-TCP interface to MQTT.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/daemonp/aap2mqtt/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type flags struct {
	config string
	host   string
	port   int
	log    string
}

func main() {
	var f flags

	cmd := &cobra.Command{
		Use:           "aap2mqtt",
		Short:         "Bridge an AAP alarm panel to MQTT",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Args:          cobra.ExactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	cmd.PersistentFlags().StringVarP(&f.config, "config", "c", "config.yml", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&f.host, "host", "", "Panel host, overrides the configuration file")
	cmd.PersistentFlags().IntVar(&f.port, "port", 0, "Panel port, overrides the configuration file")
	cmd.PersistentFlags().StringVar(&f.log, "log", "", "Log level, overrides the configuration file")

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the bridge (the default command)",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	})
	cmd.AddCommand(listenCommand(&f))
	cmd.AddCommand(outputCommand(&f))

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies flag overrides. A missing
// file is tolerated when --host is given.
func loadConfig(f *flags) (*config.Config, error) {
	data, err := os.ReadFile(f.config)
	if err != nil && !(errors.Is(err, fs.ErrNotExist) && f.host != "") {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return config.ParseWith(data, func(c *config.Config) {
		if f.host != "" {
			c.Panel.Host = f.host
		}
		if f.port != 0 {
			c.Panel.Port = f.port
		}
		if f.log != "" {
			c.Log = f.log
		}
	})
}
