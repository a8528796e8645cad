package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hpatro/valkey-http/internal/app"
	"github.com/hpatro/valkey-http/internal/config"
	"github.com/hpatro/valkey-http/internal/infrastructure"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// overrides are command-line values applied on top of the loaded config
type overrides struct {
	configFile string
	port       int
	engine     string
	url        string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "valkey-http",
		Short:        "HTTP and WebSocket gateway for a Valkey key-value engine",
		SilenceUsage: true,
	}

	var o overrides

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	addConfigFlags(serveCmd, &o)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and ping the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), cfg)
		},
	}
	addConfigFlags(checkCmd, &o)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "valkey-http %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}

	rootCmd.AddCommand(serveCmd, checkCmd, versionCmd)
	return rootCmd
}

func addConfigFlags(cmd *cobra.Command, o *overrides) {
	cmd.Flags().StringVarP(&o.configFile, "config", "c", "", "Path to config file (default: "+config.DefaultConfigFile+")")
	cmd.Flags().IntVarP(&o.port, "port", "p", 0, "Override HTTP port")
	cmd.Flags().StringVar(&o.engine, "engine", "", "Override engine kind (memory or valkey)")
	cmd.Flags().StringVar(&o.url, "url", "", "Override valkey engine URL")
}

// loadConfig loads the configuration and applies the command-line overrides
func loadConfig(o overrides) (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
	if o.engine != "" {
		cfg.Engine.Kind = o.engine
	}
	if o.url != "" {
		cfg.Engine.URL = o.url
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	application, err := app.NewApplication(cfg, version)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		return err
	}

	if err := application.Run(ctx); err != nil {
		application.Logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func runCheck(ctx context.Context, cfg *config.Config) error {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	eng, err := app.NewEngine(cfg.Engine, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := eng.Ping(ctx); err != nil {
		return fmt.Errorf("engine %s unreachable: %w", cfg.Engine.Kind, err)
	}

	logger.InfoContext(ctx, "Configuration OK",
		slog.String("engine", cfg.Engine.Kind),
		slog.String("address", cfg.Server.Addr()))
	return nil
}
