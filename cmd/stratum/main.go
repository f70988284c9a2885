package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/stratum/pkg/engine"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// shutdownTimeout bounds the final project save
const shutdownTimeout = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum - layer engine with undo and provenance replay",
	Long: `Stratum coordinates every mutation of volumetric segmentation layers:
actions are validated and locked one at a time on a single dispatcher,
filters run in the background, and every change is undoable and
recorded as provenance that can be replayed to rebuild a layer.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stratum version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory for engine state (default ./stratum-data)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config, then applies the flags that were set
func loadConfig(cmd *cobra.Command) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = engine.LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("json-logs") {
		cfg.JSONLogs, _ = flags.GetBool("json-logs")
	}
	// Only serve defines http-addr; its default applies unless the file sets one
	if f := flags.Lookup("http-addr"); f != nil && (f.Changed || cfg.HTTPAddr == "") {
		cfg.HTTPAddr = f.Value.String()
	}
	return cfg, cfg.Validate()
}

func initLogging(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Init(cfg.LogConfig())
	metrics.SetVersion(Version)
	return nil
}

// openEngine builds and starts an engine from the command's configuration
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %v", err)
	}
	if err := eng.Start(); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = eng.Shutdown(ctx)
		return nil, fmt.Errorf("failed to start engine: %v", err)
	}
	return eng, nil
}

func closeEngine(eng *engine.Engine) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown: %v", err)
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine until interrupted",
	Long: `Run the engine with its HTTP automation server.

Actions are submitted as command lines to POST /v1/actions; health,
readiness and Prometheus metrics are served next to them. The project
is saved when the process is stopped and restored on the next start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		cfg := eng.Config()

		fmt.Println("✓ Engine started")
		fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
		if cfg.HTTPAddr != "" {
			fmt.Printf("  HTTP Address: %s\n", cfg.HTTPAddr)
		}
		if eng.Autosaver() != nil {
			fmt.Printf("  Autosave: every %s\n", cfg.AutosaveInterval)
		}
		fmt.Printf("  Layers: %d\n", eng.Layers().Snapshot().Layers)
		fmt.Printf("  Provenance Steps: %d\n", eng.Provenance().Len())
		fmt.Println()
		fmt.Println("Engine is running. Press Ctrl+C to stop.")

		// Wait for interrupt signal
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")

		if err := closeEngine(eng); err != nil {
			return err
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("http-addr", "127.0.0.1:9090", "Address for the HTTP automation and metrics server")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Stratum version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
