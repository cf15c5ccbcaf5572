package command

// root.go defines the eyegames root command and the flags shared by every
// subcommand.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"eyegames/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "eyegames",
	Short: "eyegames - eye tracker and game session tools",
	Long: `eyegames talks to an eye tracker server and to the game handler server.
It can:
- Inspect, calibrate and stream from the tracker
- Estimate the clock offset between this machine and the tracker
- Run a simulated tracker for development
- Join a game session and play public goods rounds

Use "eyegames command -h" to see the options of a command.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		slog.SetDefault(cfg.NewLogger())
		return nil
	},
}

// Execute runs the root command. Called once from main.
func Execute() {
	var err error
	cfg, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	registerFlags()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func registerFlags() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	registerTrackerFlags()
	registerSessionFlags()
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
