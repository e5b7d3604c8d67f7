package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/timewarden/internal/config"
	"github.com/goodtune/timewarden/internal/connectivity"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check storage and connectivity backend health",
	Long:  `Verify that the configured storage and connectivity backend are reachable.`,
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ok := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()
	failures := 0

	store, err := openStorage(cfg.Storage)
	if err != nil {
		fmt.Printf("storage (%s): %s: %v\n", cfg.Storage.Type, fail("FAIL"), err)
		failures++
	} else {
		fmt.Printf("storage (%s): %s\n", cfg.Storage.Type, ok("OK"))
		defer store.Close()
	}

	backend, err := connectivity.NewBackend(cfg.Connectivity.Backend)
	if err != nil {
		fmt.Printf("backend (%s): %s: %v\n", cfg.Connectivity.Backend, fail("FAIL"), err)
		failures++
	} else {
		fmt.Printf("backend (%s): %s\n", backend.Name(), ok("OK"))
	}

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		users, err := store.Users().List(ctx)
		if err != nil {
			fmt.Printf("users: %s: %v\n", fail("FAIL"), err)
			failures++
		} else {
			fmt.Printf("users: %s (%d managed)\n", ok("OK"), len(users))
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	return nil
}
