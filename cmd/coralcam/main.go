package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/coralcam/internal/config"
	"github.com/cjeanneret/coralcam/internal/debug"
)

// Version is the application version.
const Version = "0.1.0"

// app carries the root flags and the loaded configuration to subcommands.
type app struct {
	cfgPath    string
	mock       bool
	debugLevel int
	cfg        *config.Config
}

// load reads the configuration and applies the root flag overrides.
func (a *app) load() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.mock {
		cfg.Defaults.MockGPIO = true
		cfg.Cameras.Driver = "mock"
	}
	if a.debugLevel >= 0 {
		if a.debugLevel > debug.LevelTrace {
			return fmt.Errorf("--debug-level must be 0-4, got %d", a.debugLevel)
		}
		cfg.Defaults.DebugLevel = a.debugLevel
	}
	a.cfg = cfg

	debug.Init(cfg.Defaults.DebugLevel, debug.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	debug.Value("Config path", a.cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	if debug.IsEnabled(debug.LevelTrace) {
		debug.PrintStruct("Config", cfg)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "coralcam",
		Short:         "Multi-angle coral specimen capture rig",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVar(&a.cfgPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")
	root.PersistentFlags().BoolVar(&a.mock, "mock", false, "use mock GPIO and mock cameras")
	root.PersistentFlags().IntVar(&a.debugLevel, "debug-level", -1, "debug level 0-4 (default: from config)")

	root.AddCommand(
		newScanCmd(a),
		newSnapCmd(a),
		newLevelsCmd(a),
		newRotateCmd(a),
		newLightCmd(a),
		newServeCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "coralcam:", err)
		stop()
		os.Exit(1)
	}
}
