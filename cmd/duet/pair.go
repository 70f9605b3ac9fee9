package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/duet/internal/arbiter"
	"github.com/goodtune/duet/internal/config"
	"github.com/goodtune/duet/internal/hub"
	"github.com/goodtune/duet/internal/storage"
	"github.com/spf13/cobra"
)

var (
	planTier    string
	planActions int
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Manage pairs",
	Long:  `Create and inspect pairs directly against the configured storage backend.`,
}

var pairCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pair on the trial plan",
	Args:  cobra.NoArgs,
	RunE:  runPairCreate,
}

var pairShowCmd = &cobra.Command{
	Use:   "show PAIR_ID",
	Short: "Show the stored state of a pair",
	Args:  cobra.ExactArgs(1),
	RunE:  runPairShow,
}

var pairPlanCmd = &cobra.Command{
	Use:   "plan [flags] PAIR_ID",
	Short: "Set the plan of a pair",
	Example: `  duet pair plan --tier standard --actions 20 6f1c...
  duet pair plan --tier unlimited 6f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runPairPlan,
}

func init() {
	pairPlanCmd.Flags().StringVar(&planTier, "tier", "", "Plan tier: trial, standard or unlimited (required)")
	pairPlanCmd.Flags().IntVar(&planActions, "actions", 0, "Remaining actions (ignored for unlimited)")
	_ = pairPlanCmd.MarkFlagRequired("tier")

	pairCmd.AddCommand(pairCreateCmd)
	pairCmd.AddCommand(pairShowCmd)
	pairCmd.AddCommand(pairPlanCmd)
	rootCmd.AddCommand(pairCmd)
}

func runPairCreate(cmd *cobra.Command, args []string) error {
	return withArbiter(func(ctx context.Context, service *arbiter.Service) error {
		pair, err := service.CreatePair(ctx)
		if err != nil {
			return err
		}
		return printJSON(pair)
	})
}

func runPairShow(cmd *cobra.Command, args []string) error {
	return withArbiter(func(ctx context.Context, service *arbiter.Service) error {
		pair, err := service.GetPair(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(pair)
	})
}

func runPairPlan(cmd *cobra.Command, args []string) error {
	tier, err := storage.ParsePlanTier(planTier)
	if err != nil {
		return err
	}

	return withArbiter(func(ctx context.Context, service *arbiter.Service) error {
		pair, err := service.SetPlan(ctx, args[0], tier, planActions)
		if err != nil {
			return err
		}
		return printJSON(pair)
	})
}

// withArbiter opens storage and runs fn against an arbiter with no live
// connections and no notifications.
func withArbiter(fn func(ctx context.Context, service *arbiter.Service) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"})

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	cfg.Rendezvous.AutoConsume = false
	service, err := newArbiter(cfg, store, hub.New(hub.Config{Logger: logger}), nil, logger)
	if err != nil {
		return err
	}
	defer service.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return fn(ctx, service)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
