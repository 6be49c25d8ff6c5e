// Package cmd implements the bcce command surface.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NSvoltage/bcce/internal/config"
	"github.com/NSvoltage/bcce/internal/logging"
)

// Exit codes: 0 on success, 1 for validation problems and run failures
// alike.
const (
	exitOK      = 0
	exitFailure = 1
)

var (
	cfgFile       string
	logLevel      string
	logFormat     string
	artifactsRoot string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "bcce",
	Short: "Workflow runner for the Claude Code agent on Amazon Bedrock",
	Long: `bcce interprets declarative YAML workflows and drives the claude CLI
under a least-privilege policy. Every run leaves a complete audit trail
(transcripts, policies, metrics, state) and any failed run can be resumed
from the failed step.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries an explicit process exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command and maps errors to exit codes.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "Error:", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

// SetVersion injects build-time version info.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .bcce.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&artifactsRoot, "artifacts-dir", "",
		"directory for run artifacts (default: .bcce_runs)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("artifacts.root", rootCmd.PersistentFlags().Lookup("artifacts-dir"))
}

// loadConfig assembles the effective configuration from defaults, config
// file, environment and bound flags.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if artifactsRoot != "" {
		cfg.Artifacts.Root = artifactsRoot
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}
