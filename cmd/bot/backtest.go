package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mchlabs/niftybot/internal/broker"
	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/marketdata"
	"github.com/mchlabs/niftybot/internal/notify"
	"github.com/mchlabs/niftybot/internal/storage"
)

func newBacktestCmd() *cobra.Command {
	var dataPath string

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a CSV indicator file through the full decision cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger = setupLogger(cfg.Environment.LogLevel)
			return runBacktest(cfg, dataPath)
		},
	}
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "CSV indicator file (required)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func runBacktest(cfg *config.Config, dataPath string) error {
	feed, err := marketdata.NewCSVFeed(dataPath, cfg.Backtest.RiskFreeRate)
	if err != nil {
		return err
	}

	store, err := storage.NewJSONStore(cfg.Storage.StatePath, cfg.Storage.JournalPath)
	if err != nil {
		return err
	}

	paper := broker.NewPaperBroker(cfg.Broker.SlippageRate, cfg.Broker.BrokeragePerOrder, logger)
	engine, err := NewEngine(cfg, feed, paper, store, notify.Auto{}, nil, logger)
	if err != nil {
		return err
	}
	// Historical rows carry their own timestamps; market hours do not apply.
	engine.tradingGate = nil

	ctx := context.Background()
	cycles := 0
	for {
		err := engine.Cycle(ctx)
		if errors.Is(err, marketdata.ErrFeedExhausted) {
			break
		}
		if err != nil {
			return fmt.Errorf("cycle %d: %w", cycles, err)
		}
		cycles++
	}

	logger.Info().
		Int("cycles", cycles).
		Int("orders", paper.OrderCount()).
		Float64("costs", paper.TotalCosts()).
		Msg("backtest complete")
	fmt.Printf("backtest: %d cycles, %d orders, %.2f costs\n",
		cycles, paper.OrderCount(), paper.TotalCosts())
	return nil
}
