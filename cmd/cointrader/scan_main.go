package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/1uv0cean/coin-trader/internal/exchange"
	"github.com/1uv0cean/coin-trader/internal/scan"
)

func newScanCmd() *cobra.Command {
	var topN int

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Rank tradable instruments by scan score",
		Long: `Scores every tradable instrument on volume, liquidity, activity,
volatility fit, spread and trend, and prints the top candidates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, topN)
		},
	}
	cmd.Flags().IntVarP(&topN, "top", "n", 10, "number of instruments to show")
	return cmd
}

func runScan(cmd *cobra.Command, topN int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	client := exchange.NewUpbitClient("", "", cfg.Quote, log.Logger)
	cache := scan.NewCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log.Logger)
	scanner := scan.NewScanner(client, cache, log.Logger)

	analyses, err := scanner.Scan(ctx, topN)
	if err != nil {
		return err
	}

	fmt.Printf("%-12s %8s %14s %9s %8s %8s %7s\n",
		"INSTRUMENT", "SCORE", "VOL24H", "ACTIVITY", "VOLA%", "TREND%", "PRICE")
	for _, a := range analyses {
		fmt.Printf("%-12s %8.3f %14.0f %9.2f %8.2f %8.2f %7.0f\n",
			a.Instrument, a.Score, a.Volume24h, a.ActivityRatio,
			a.VolatilityPct, a.Trend7dPct, a.Price)
	}
	return nil
}
