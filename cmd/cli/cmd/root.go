package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coverage-analysis/pkg/config"
	"github.com/coverage-analysis/pkg/telemetry"
	"github.com/coverage-analysis/pkg/utils"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger            utils.Logger
	appConfig         *config.Config
	shutdownTelemetry telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "coverage-converter",
	Short: "Convert execution data into testwise line coverage reports",
	Long: `coverage-converter turns execution data dumps recorded by a coverage agent
into per-test line coverage reports.

Compiled classes are analyzed once per distinct content and cached, so dumps
with thousands of short test sessions are reconstructed without decoding the
same class twice. Reports are written incrementally as XML or JSON, can be
split after a number of sessions, archived in object storage and indexed in
a database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		appConfig = cfg

		logLevel := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			logLevel = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			fileLogger, err := utils.NewFileLogger(logLevel, cfg.Log.OutputPath)
			if err != nil {
				return err
			}
			logger = fileLogger
		} else {
			logger = utils.NewDefaultLogger(logLevel, cmd.ErrOrStderr())
		}
		utils.SetGlobalLogger(logger)

		shutdown, err := telemetry.Init(cmd.Context(), telemetryConfig(cfg.Telemetry))
		if err != nil {
			logger.Warn("telemetry disabled: %v", err)
		}
		shutdownTelemetry = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTelemetry == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("failed to flush traces: %v", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	binName := BinName()
	rootCmd.Example = `  # Convert a dump against a classes directory and a jar
  ` + binName + ` convert -p ./build/classes -p ./lib/app.jar jacoco.exec

  # Write JSON parts of 500 sessions each
  ` + binName + ` convert -p ./app.war -f json --split 500 -o ./reports dump-*.exec

  # Inspect the sessions of a dump
  ` + binName + ` dump jacoco.exec

  # Merge dumps into one file
  ` + binName + ` merge -o merged.exec a.exec b.exec`
}

// telemetryConfig maps the telemetry section onto the exporter settings and
// applies OTEL_* overrides from the environment.
func telemetryConfig(c config.TelemetryConfig) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Enabled,
		ServiceName:    c.ServiceName,
		ServiceVersion: Version,
		Endpoint:       c.Endpoint,
		Protocol:       c.Protocol,
		Headers:        c.Headers,
		Insecure:       c.Insecure,
		Sampler:        c.Sampler,
		SamplerArg:     c.SamplerArg,
	}.ApplyEnv(os.Getenv)
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return utils.OrGlobal(logger)
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return appConfig
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
