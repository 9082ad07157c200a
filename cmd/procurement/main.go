// Procurement engine
//
// Runs procurement requests through classification, RFP generation and
// approval, either once from the command line or as a gRPC + HTTP service.
//
// Usage:
//
//	procurement run request.json --render   # one request, progress on stderr
//	procurement serve -s settings.yaml      # gRPC :50051, HTTP :8080
//	procurement config validate engine.yaml
package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

// cli carries the process environment so commands can be tested in-process.
type cli struct {
	stdin        io.Reader
	stdout       io.Writer
	stderr       io.Writer
	getenv       func(string) string
	newGenerator GeneratorFactory

	settingsPath string
	engineConfig string
	logLevel     string
}

func newCLI() *cli {
	return &cli{
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		getenv:       os.Getenv,
		newGenerator: OpenAIGenerator,
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "procurement",
		Short:         "Procurement workflow engine",
		Long:          `Classifies procurement requests, drafts an RFP and routes it through automated approval.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	root.PersistentFlags().StringVarP(&c.settingsPath, "settings", "s", "", "Service settings YAML file")
	root.PersistentFlags().StringVarP(&c.engineConfig, "config", "c", "", "Engine config YAML file (overrides settings.engine_config)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(c), newServeCmd(c), newConfigCmd(c))
	return root
}

// settings loads the settings file and applies flag overrides.
func (c *cli) settings() (Settings, error) {
	s, err := LoadSettings(c.settingsPath, c.getenv)
	if err != nil {
		return s, err
	}
	if c.engineConfig != "" {
		s.EngineConfig = c.engineConfig
	}
	if c.logLevel != "" {
		s.LogLevel = c.logLevel
	}
	return s, nil
}

func (c *cli) logger(s Settings) observability.Logger {
	return observability.NewLoggerTo(c.stderr, s.LogLevel, s.LogFormat)
}

func main() {
	c := newCLI()
	if err := newRootCmd(c).Execute(); err != nil {
		_, _ = io.WriteString(c.stderr, "Error: "+err.Error()+"\n")
		os.Exit(1)
	}
}
