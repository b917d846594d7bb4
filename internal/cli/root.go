// Package cli implements the endochat command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"endochat/internal/config"
	"endochat/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "endochat",
	Short: "EndoChat - endocrinology chat assistant",
	Long: `EndoChat answers endocrinology questions grounded in a corpus of
indexed documents. It serves an HTTP chat API and a terminal chat, and
maintains the search index and the per-user conversation records.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, then $HOME/.config/endochat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig reads the config named by --config, or the default locations,
// applies --log-level and validates the result.
func loadConfig() (*config.AppConfig, error) {
	var (
		cfg  *config.AppConfig
		path = cfgFile
		err  error
	)
	if path == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// setupLogging installs the global logger. The terminal chat owns the
// screen, so it passes console=false and logs only to the configured file.
func setupLogging(cfg config.LoggingConfig, console bool) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Level,
		File:      cfg.File,
		Console:   console,
		Pretty:    cfg.Pretty,
		Redaction: true,
	})
}
