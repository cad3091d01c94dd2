// Command bot runs the regime-switching options trading bot.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	logger  zerolog.Logger
)

func main() {
	// Credentials come from the environment; .env is a local convenience.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "bot",
		Short:        "Regime-switching NIFTY options trading bot",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(newLiveCmd())
	root.AddCommand(newBacktestCmd())
	root.AddCommand(newStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setupLogger configures the process logger from the configured level.
func setupLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
