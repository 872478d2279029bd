package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/1uv0cean/coin-trader/internal/backtest"
	"github.com/1uv0cean/coin-trader/internal/data"
	"github.com/1uv0cean/coin-trader/internal/domain/risk"
)

func newBacktestCmd() *cobra.Command {
	var (
		balance   float64
		output    string
		enableAll bool
	)

	cmd := &cobra.Command{
		Use:   "backtest <csv>...",
		Short: "Replay historical candles through the strategy pipeline",
		Long: `Runs the decision pipeline over OHLCV CSV files, one per instrument.
The instrument name is taken from the file name (KRW-BTC.csv -> KRW-BTC).
Results print as a summary and optionally export to JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(args, balance, output, enableAll)
		},
	}
	cmd.Flags().Float64Var(&balance, "balance", 1_000_000, "initial balance in quote currency")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the full result JSON to this file")
	cmd.Flags().BoolVar(&enableAll, "enable-all", false, "enable every strategy variant")
	return cmd
}

func runBacktest(paths []string, balance float64, output string, enableAll bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	candles := make(map[string]data.Series, len(paths))
	for _, path := range paths {
		series, err := data.LoadCSV(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		inst := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		candles[inst] = series
		log.Info().Str("instrument", inst).Int("candles", len(series)).Msg("loaded history")
	}

	bt := backtest.New(backtest.Config{
		InitialBalance: balance,
		FeeRate:        cfg.FeeRate,
		EnableAll:      enableAll,
		Limits: risk.Limits{
			MaxPositionPct:         cfg.Risk.MaxPositionPct,
			MaxTradeRiskPct:        cfg.Risk.MaxTradeRiskPct,
			DailyLossLimitPct:      cfg.Risk.DailyLossLimitPct,
			MaxConcurrentPositions: cfg.Risk.MaxConcurrentPositions,
			MinOrderAmount:         cfg.Risk.MinOrderAmount,
			MaxCorrelation:         cfg.Risk.MaxCorrelation,
			MaxTradesPerDay:        cfg.Risk.MaxTradesPerDay,
		},
	}, log.Logger)

	result, err := bt.Run(candles)
	if err != nil {
		return err
	}

	fmt.Println(result.Summary())
	names := make([]string, 0, len(result.StrategyStats))
	for name := range result.StrategyStats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.StrategyStats[name]
		fmt.Printf("  %-20s trades %3d  win %5.1f%%  pnl %10.0f\n",
			name, stats.Trades, stats.WinRate*100, stats.PnL)
	}

	if output != "" {
		if err := result.SaveJSON(output); err != nil {
			return err
		}
		log.Info().Str("path", output).Msg("result written")
	} else {
		_ = result.WriteJSON(os.Stdout)
	}
	return nil
}
