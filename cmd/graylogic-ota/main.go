// Gray Logic OTA - Device Firmware Update Orchestrator
//
// This is the main entry point for the firmware update service. It keeps
// one updater per Z-Wave device, polls the firmware registry for newer
// releases and drives over-the-air installs through the MQTT device link.
//
// Commands:
//
//	graylogic-ota serve            run the service
//	graylogic-ota migrate up       apply pending schema migrations
//	graylogic-ota migrate down     roll back the latest migration
//	graylogic-ota migrate status   list applied and pending migrations
//	graylogic-ota version          print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. --config is shared by every command
// that needs the configuration file.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "graylogic-ota",
		Short:         "Firmware update orchestrator for Z-Wave devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"path to config file (default $GRAYLOGIC_CONFIG or "+config.DefaultPath+")")

	load := func() (*config.Config, string, error) {
		path := config.ResolvePath(configPath)
		cfg, err := config.Load(path)
		if err != nil {
			return nil, path, fmt.Errorf("loading config: %w", err)
		}
		return cfg, path, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newVersionCmd(),
	)
	return root
}

// configLoader resolves and loads the configuration file.
type configLoader func() (cfg *config.Config, path string, err error)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the firmware update service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.Default()
			log.Info("starting Gray Logic OTA",
				"version", version,
				"commit", commit,
				"build_date", date,
			)

			cfg, path, err := load()
			if err != nil {
				return err
			}
			log.Info("configuration loaded", "path", path)

			return run(cmd.Context(), cfg)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "graylogic-ota %s (commit %s, built %s)\n", version, commit, date)
			return err
		},
	}
}
