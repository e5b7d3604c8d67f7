package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goodtune/timewarden/internal/clock"
	"github.com/goodtune/timewarden/internal/config"
	"github.com/goodtune/timewarden/internal/connectivity"
	"github.com/goodtune/timewarden/internal/ledger"
	"github.com/goodtune/timewarden/internal/notify"
	"github.com/goodtune/timewarden/internal/timer"
)

var statusCmd = &cobra.Command{
	Use:   "status USER_ID",
	Short: "Show a user's screen-time status for today",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	userID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Quiet logger for interactive use
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	backend, err := connectivity.NewBackend(cfg.Connectivity.Backend)
	if err != nil {
		return fmt.Errorf("failed to initialize connectivity backend: %w", err)
	}

	clk := clock.RealClock{}
	sink := notify.NewLogSink(logger)
	manager := connectivity.NewManager(store, backend, sink, clk, cfg.Connectivity, logger)
	service := timer.NewService(store, manager, sink, clk, cfg.Usage, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := service.GetSessionStatus(ctx, userID)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("%s  %s\n", bold(userID), status.Date)
	fmt.Printf("  allowance: %s base + %s bonus\n",
		ledger.FormatMinutes(status.BaseAllowedMinutes),
		ledger.FormatMinutes(status.BonusEarnedMinutes))
	fmt.Printf("  used:      %s (%.1f%%)\n",
		ledger.FormatMinutes(status.UsedMinutes), status.UsagePercent)

	remaining := ledger.FormatMinutes(status.RemainingMinutes)
	switch {
	case status.RemainingMinutes <= 0:
		fmt.Printf("  remaining: %s\n", red(remaining))
	case status.RemainingMinutes <= 15:
		fmt.Printf("  remaining: %s\n", yellow(remaining))
	default:
		fmt.Printf("  remaining: %s\n", green(remaining))
	}

	if status.SessionActive {
		fmt.Printf("  session:   %s for %s (%s)\n",
			green("running"), ledger.FormatMinutes(status.SessionMinutes), status.SessionType)
	} else {
		fmt.Printf("  session:   none\n")
	}

	summary, err := service.WeeklySummary(ctx, userID)
	if err == nil && summary.RecordedDays > 0 {
		fmt.Printf("  last week: %s used over %d days, %d exhausted\n",
			ledger.FormatMinutes(summary.TotalUsedMinutes+summary.TotalBonusUsed),
			summary.RecordedDays, summary.DaysExhausted)
	}

	return nil
}
