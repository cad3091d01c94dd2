package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mchlabs/niftybot/internal/broker"
	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/marketdata"
	"github.com/mchlabs/niftybot/internal/notify"
	"github.com/mchlabs/niftybot/internal/risk"
	"github.com/mchlabs/niftybot/internal/storage"
)

func newLiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Run the trading loop against the configured feed and broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger = setupLogger(cfg.Environment.LogLevel)
			return runLive(cfg)
		},
	}
}

func runLive(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	defer notifier.Close() //nolint:errcheck

	store, err := storage.NewJSONStore(cfg.Storage.StatePath, cfg.Storage.JournalPath)
	if err != nil {
		return err
	}

	feed := marketdata.NewSyntheticFeed(24000, time.Now().UnixNano(), cfg.Backtest.RiskFreeRate)
	brk := broker.NewBreakerBroker(
		broker.NewPaperBroker(cfg.Broker.SlippageRate, cfg.Broker.BrokeragePerOrder, logger),
		logger)

	calendar := risk.DefaultCalendar(time.Now().Year())
	engine, err := NewEngine(cfg, feed, brk, store, notifier, calendar, logger)
	if err != nil {
		return err
	}

	logger.Info().
		Str("mode", cfg.Environment.Mode).
		Str("symbol", cfg.Instrument.Symbol).
		Dur("interval", cfg.CheckInterval()).
		Msg("starting trading loop")
	notifier.Notify(notify.SeverityInfo, "Bot started ("+cfg.Environment.Mode+")")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(cfg.CheckInterval())
		defer ticker.Stop()
		for {
			if err := engine.Cycle(ctx); err != nil {
				logger.Error().Err(err).Msg("cycle failed")
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				logger.Info().Msg("shutting down")
				notifier.Notify(notify.SeverityInfo, "Bot stopped")
				return nil
			}
		}
	})
	return g.Wait()
}

// buildNotifier picks the notifier implementation from config.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	if !cfg.Telegram.Enabled {
		if cfg.Telegram.Mode == "CONFIRM" {
			// Nothing to confirm against: reject everything rather than
			// silently trading unattended.
			return notify.Nop{}, nil
		}
		return notify.Auto{}, nil
	}
	return notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.QueueSize, logger)
}
