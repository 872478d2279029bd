package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/1uv0cean/coin-trader/internal/data"
	"github.com/1uv0cean/coin-trader/internal/domain/portfolio"
	"github.com/1uv0cean/coin-trader/internal/domain/risk"
	"github.com/1uv0cean/coin-trader/internal/domain/strategy"
	"github.com/1uv0cean/coin-trader/internal/engine"
	"github.com/1uv0cean/coin-trader/internal/exchange"
	httpapi "github.com/1uv0cean/coin-trader/internal/interfaces/http"
	"github.com/1uv0cean/coin-trader/internal/live"
	"github.com/1uv0cean/coin-trader/internal/metrics"
	"github.com/1uv0cean/coin-trader/internal/notify"
	"github.com/1uv0cean/coin-trader/internal/persistence"
	"github.com/1uv0cean/coin-trader/internal/scan"
)

func newTradeCmd() *cobra.Command {
	var paper bool
	var paperCash float64

	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Run the live trading loop",
		Long: `Runs the trading cycle against the exchange: scan the universe,
classify market states, and trade the matched strategies. With --paper
orders are simulated in memory against live market data.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrade(cmd.Context(), paper, paperCash)
		},
	}
	cmd.Flags().BoolVar(&paper, "paper", false, "simulate fills instead of placing real orders")
	cmd.Flags().Float64Var(&paperCash, "paper-cash", 1_000_000, "starting cash for paper trading")
	return cmd
}

func runTrade(parent context.Context, paper bool, paperCash float64) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	upbit := exchange.NewUpbitClient(cfg.AccessKey, cfg.SecretKey, cfg.Quote, log.Logger)

	var client exchange.Client = upbit
	var balance float64
	if paper {
		// Paper mode: market data from the real venue, fills simulated.
		proxy := newPaperProxy(upbit, cfg.Quote, paperCash, cfg.FeeRate)
		client = proxy
		balance = paperCash
		log.Info().Float64("cash", paperCash).Msg("paper trading mode")

		// With a tick feed configured, keep paper fills marked against
		// live prices between polling cycles.
		if cfg.Stream.URL != "" && len(cfg.Instruments) > 0 {
			stream := data.NewCandleStream(data.StreamConfig{
				URL:            cfg.Stream.URL,
				Instruments:    cfg.Instruments,
				ReconnectDelay: time.Duration(cfg.Stream.ReconnectSeconds) * time.Second,
				ReadTimeout:    time.Duration(cfg.Stream.ReadTimeoutSecs) * time.Second,
			})
			go func() {
				if err := stream.Run(ctx); err != nil && err != context.Canceled {
					log.Warn().Err(err).Msg("candle stream stopped")
				}
			}()
			go func() {
				for ev := range stream.Events() {
					proxy.SetPrice(ev.Instrument, ev.Candle.Close)
				}
			}()
		}
	} else {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return fmt.Errorf("UPBIT_ACCESS_KEY and UPBIT_SECRET_KEY are required for live trading")
		}
		balances, err := client.Balances(ctx)
		if err != nil {
			return fmt.Errorf("fetch balances: %w", err)
		}
		for _, b := range balances {
			if b.Currency == cfg.Quote {
				balance = b.Available
			}
		}
		if balance <= 0 {
			return fmt.Errorf("no %s balance available", cfg.Quote)
		}
		log.Info().Float64("balance", balance).Str("quote", cfg.Quote).Msg("live trading mode")
	}

	var opts []strategy.Option
	if cfg.Strategies.EnableAll {
		opts = append(opts, strategy.EnableAll())
	}
	catalog, err := strategy.NewCatalog(cfg.FeeRate, opts...)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}

	rm := risk.NewManager(risk.Limits{
		MaxPositionPct:         cfg.Risk.MaxPositionPct,
		MaxTradeRiskPct:        cfg.Risk.MaxTradeRiskPct,
		DailyLossLimitPct:      cfg.Risk.DailyLossLimitPct,
		MaxConcurrentPositions: cfg.Risk.MaxConcurrentPositions,
		MinOrderAmount:         cfg.Risk.MinOrderAmount,
		MaxCorrelation:         cfg.Risk.MaxCorrelation,
		MaxTradesPerDay:        cfg.Risk.MaxTradesPerDay,
	})
	rm.ResetDaily(balance)

	tracker := portfolio.NewTracker(balance, cfg.FeeRate)
	dec := engine.New(catalog, rm, tracker, log.Logger)

	cache := scan.NewCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log.Logger)
	scanner := scan.NewScanner(client, cache, log.Logger)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.NewAsync(notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID), log.Logger)
		log.Info().Msg("telegram notifications enabled")
	}

	var repo persistence.TradeRepo = persistence.NopRepo{}
	if cfg.PostgresDSN != "" {
		pg, err := persistence.NewPostgresRepo(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, trades will not be persisted")
		} else {
			defer pg.Close()
			repo = pg
			log.Info().Msg("trade ledger persistence enabled")
		}
	}

	loop := live.New(live.Deps{
		Config:   cfg,
		Client:   client,
		Engine:   dec,
		Risk:     rm,
		Tracker:  tracker,
		Scanner:  scanner,
		Notifier: notifier,
		Repo:     repo,
		Metrics:  metrics.NewDefault(),
		Log:      log.Logger,
	})

	srvCfg := httpapi.DefaultServerConfig()
	if cfg.HTTP.Addr != "" {
		srvCfg.Addr = cfg.HTTP.Addr
	}
	srv := httpapi.NewServer(srvCfg, loop, log.Logger)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// paperProxy reads market data from the real exchange but routes orders and
// balances to an in-memory paper client.
type paperProxy struct {
	market exchange.Client
	*exchange.PaperClient
}

func newPaperProxy(market exchange.Client, quote string, cash, feeRate float64) *paperProxy {
	return &paperProxy{
		market:      market,
		PaperClient: exchange.NewPaperClient(quote, cash, feeRate),
	}
}

func (p *paperProxy) Markets(ctx context.Context) ([]string, error) {
	return p.market.Markets(ctx)
}

func (p *paperProxy) Candles(ctx context.Context, instrument, interval string, count int) (data.Series, error) {
	series, err := p.market.Candles(ctx, instrument, interval, count)
	if err == nil {
		if last, ok := series.Last(); ok {
			p.PaperClient.SetPrice(instrument, last.Close)
		}
	}
	return series, err
}

func (p *paperProxy) CurrentPrice(ctx context.Context, instrument string) (float64, error) {
	price, err := p.market.CurrentPrice(ctx, instrument)
	if err == nil {
		p.PaperClient.SetPrice(instrument, price)
	}
	return price, err
}

func (p *paperProxy) Tickers(ctx context.Context, instruments []string) ([]exchange.Ticker, error) {
	tickers, err := p.market.Tickers(ctx, instruments)
	for _, t := range tickers {
		p.PaperClient.SetPrice(t.Instrument, t.Price)
	}
	return tickers, err
}
