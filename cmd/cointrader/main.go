package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/1uv0cean/coin-trader/internal/config"
)

const (
	appName = "cointrader"
	version = "v1.2.0"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Regime-driven crypto trading engine",
		Version: version,
		Long: `cointrader classifies each instrument into one of ten market states
and trades the state-matched strategy under strict risk limits.

Subcommands cover live/paper trading, historical backtesting, and
market scanning.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")

	rootCmd.AddCommand(newTradeCmd())
	rootCmd.AddCommand(newBacktestCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures zerolog: console output when attached to a TTY,
// JSON otherwise, with optional rotating file duplication.
func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if term.IsTerminal(int(os.Stderr.Fd())) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	if cfg.Log.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotated)
	}

	log.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// loadConfig reads the --config file (or defaults) and wires logging.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg)
	return cfg, nil
}
