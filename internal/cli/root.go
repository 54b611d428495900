package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"altan/workspace/internal/config"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Altan workspace state engine",
	Long: `workspace keeps tasks, plans, tables and records of an Altan workspace in sync
with the platform and exposes them over a local JSON API.

Commands:
  serve      run the local API and the event stream
  normalize  normalize a form payload against a field schema
  validate   check a payload against a JSON schema`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to WORKSPACE_LOG_LEVEL")
}

// loadConfig reads the environment and applies persistent flag overrides.
func loadConfig() config.Config {
	cfg := config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}
