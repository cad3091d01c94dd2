package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/storage"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted runtime state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			store, err := storage.NewJSONStore(cfg.Storage.StatePath, cfg.Storage.JournalPath)
			if err != nil {
				return err
			}
			state, err := store.Load()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(state); err != nil {
				return err
			}
			fmt.Printf("open positions: %d\n", len(state.Positions))
			return nil
		},
	}
}
