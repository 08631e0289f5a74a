package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/database"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/lessons"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/overrides"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/vault"
)

// One-shot learning cycle against the configured database. The service runs
// the same cycle on its own schedule; this tool exists for backfills and for
// inspecting a cycle's numbers without waiting for the next tick.
func main() {
	fmt.Println("========================================")
	fmt.Println(" Lotus Trader Mining Tool")
	fmt.Println("========================================")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Component logs go to stderr so the summary below stays readable
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		fmt.Printf("❌ Failed to create vault client: %v\n", err)
		os.Exit(1)
	}
	if vaultClient.IsEnabled() {
		if err := vaultClient.Overlay(ctx, cfg); err != nil {
			fmt.Printf("❌ Failed to overlay vault secrets: %v\n", err)
			os.Exit(1)
		}
	}

	db, err := database.NewDB(cfg.DatabaseConfig, logger)
	if err != nil {
		fmt.Printf("❌ Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db, logger)
	miner := lessons.NewMiner(repo, repo, cfg.MiningConfig, logger)
	materializer := overrides.NewMaterializer(repo, repo, cfg.MiningConfig, logger)

	fmt.Printf("⛏️  Mining window: %s back from now\n", cfg.MiningConfig.Lookback)
	start := time.Now()

	mineRes, err := miner.Mine(ctx, time.Now().UTC())
	if err != nil {
		fmt.Printf("❌ Mining failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n--- Generation %d ---\n", mineRes.Generation)
	fmt.Printf("Trades seen:     %d\n", mineRes.TradesSeen)
	fmt.Printf("Episodes seen:   %d\n", mineRes.EpisodesSeen)
	fmt.Printf("Slices seen:     %d\n", mineRes.SlicesSeen)
	fmt.Printf("Lessons written: %d\n", mineRes.LessonsWritten)
	fmt.Printf("Slices skipped:  %d (thin samples)\n", mineRes.SlicesSkipped)
	if mineRes.SliceErrors > 0 {
		fmt.Printf("⚠️  Slice errors:  %d\n", mineRes.SliceErrors)
	}
	if mineRes.Retired > 0 {
		fmt.Printf("Lessons retired: %d\n", mineRes.Retired)
	}

	matRes, err := materializer.Materialize(ctx)
	if err != nil {
		fmt.Printf("❌ Materialization failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n--- Overrides ---\n")
	fmt.Printf("Lessons seen:    %d\n", matRes.LessonsSeen)
	fmt.Printf("Written:         %d\n", matRes.Written)
	fmt.Printf("Touched:         %d\n", matRes.Touched)
	fmt.Printf("Neutral skipped: %d\n", matRes.NeutralSkipped)
	fmt.Printf("Bridge written:  %d\n", matRes.BridgeWritten)
	if matRes.RowErrors > 0 {
		fmt.Printf("⚠️  Row errors:    %d\n", matRes.RowErrors)
	}
	if matRes.Retired > 0 || matRes.BridgeRetired > 0 {
		fmt.Printf("Retired:         %d overrides, %d bridge rows\n", matRes.Retired, matRes.BridgeRetired)
	}

	fmt.Printf("\n✅ Cycle complete in %s\n", time.Since(start).Round(time.Millisecond))
}
