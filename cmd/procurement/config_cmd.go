package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/procurement/coreengine/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	validate := &cobra.Command{
		Use:   "validate [engine.yaml]",
		Short: "Validate the settings and engine config",
		Long: `Loads the service settings and the engine config, reports every problem
found, and prints the effective engine config when both are valid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.settings()
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			path := s.EngineConfig
			if len(args) == 1 {
				path = args[0]
			}
			cfg := config.DefaultEngineConfig()
			if path != "" {
				if cfg, err = config.Load(path); err != nil {
					return err
				}
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, "configuration is valid")
			_, err = c.stdout.Write(out)
			return err
		},
	}

	show := &cobra.Command{
		Use:   "defaults",
		Short: "Print the default engine config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.DefaultEngineConfig().Marshal()
			if err != nil {
				return err
			}
			_, err = c.stdout.Write(out)
			return err
		},
	}

	cmd.AddCommand(validate, show)
	return cmd
}
