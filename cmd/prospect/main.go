// Command prospect is the Prospector operations CLI.
//
// Usage:
//
//	prospect replay --user u1 --file trace.json --tier investor
//	prospect score --file listings.json --price-min 200000 --price-max 300000
//	prospect state show --user u1
//	prospect state clear --user u1
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mrktfy/prospector/internal/config"
	"github.com/mrktfy/prospector/internal/engine"
	"github.com/mrktfy/prospector/internal/kv"
	"github.com/mrktfy/prospector/internal/listings"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "prospect",
		Short: "Prospector notification engine CLI",
	}

	root.AddCommand(replayCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(stateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// replay command
// --------------------------------------------------------------------------

func replayCmd() *cobra.Command {
	var (
		userID   string
		file     string
		tierID   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a location trace file through a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || file == "" {
				return fmt.Errorf("--user and --file are required")
			}
			return runWithStore(func(ctx context.Context, cfg *config.Config, kvStore kv.Store) error {
				var trace []engine.LocationSample
				if err := readJSONFile(file, &trace); err != nil {
					return fmt.Errorf("read trace: %w", err)
				}

				checker := listings.NewClient(cfg.ListingsBaseURL, cfg.ListingsAPIKey, cfg.ListingsTimeout, logger)
				sender := engine.NewLogSender(true, logger)
				session := engine.NewSession(userID, tierID, engine.UserCriteria{}, cfg, kvStore, checker, sender, logger)
				session.Restore(ctx)
				defer session.Close(ctx)

				start := time.Now()
				for i, sample := range trace {
					if ctx.Err() != nil {
						break
					}
					session.HandleSample(ctx, sample)
					logger.Info("sample replayed",
						"index", i,
						"lat", sample.Latitude, "lon", sample.Longitude,
						"speed", sample.Speed,
						"state", session.MovementState())
					if interval > 0 && i < len(trace)-1 {
						select {
						case <-time.After(interval):
						case <-ctx.Done():
						}
					}
				}

				stats := session.Stats()
				logger.Info("replay finished",
					"samples", len(trace),
					"duration", time.Since(start).Round(time.Millisecond),
					"notifications_today", stats.Throttle.TodayCount,
					"pending_deliveries", stats.PendingDeliveries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID for the session")
	cmd.Flags().StringVar(&file, "file", "", "JSON file with an array of location samples")
	cmd.Flags().StringVar(&tierID, "tier", config.DefaultTier, "Subscription tier (prospector, investor, developer)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Pause between samples (0 = replay as fast as possible)")
	return cmd
}

// --------------------------------------------------------------------------
// score command
// --------------------------------------------------------------------------

func scoreCmd() *cobra.Command {
	var (
		file     string
		tierID   string
		priceMin float64
		priceMax float64
		bedrooms int
		lat, lon float64
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a listings file against search criteria",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			var candidates []listings.Candidate
			if err := readJSONFile(file, &candidates); err != nil {
				return fmt.Errorf("read listings: %w", err)
			}

			tier, known := config.TierFor(tierID)
			if !known {
				return fmt.Errorf("unknown tier %q", tierID)
			}
			criteria := engine.UserCriteria{PriceMin: priceMin, PriceMax: priceMax, Bedrooms: bedrooms}

			var userLoc *engine.LocationSample
			if lat != 0 || lon != 0 {
				userLoc = &engine.LocationSample{Latitude: lat, Longitude: lon}
			}

			scored := engine.ScoreAndFilter(candidates, criteria, tier, userLoc, time.Now())
			logger.Info("scoring finished",
				"offered", len(candidates), "qualified", len(scored), "tier", tier.ID)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(scored)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file with an array of listings")
	cmd.Flags().StringVar(&tierID, "tier", config.DefaultTier, "Subscription tier")
	cmd.Flags().Float64Var(&priceMin, "price-min", 0, "Minimum price")
	cmd.Flags().Float64Var(&priceMax, "price-max", 0, "Maximum price (0 = no upper bound)")
	cmd.Flags().IntVar(&bedrooms, "bedrooms", 0, "Required bedroom count (0 = any)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "User latitude for location scoring")
	cmd.Flags().Float64Var(&lon, "lon", 0, "User longitude for location scoring")
	return cmd
}

// --------------------------------------------------------------------------
// state command
// --------------------------------------------------------------------------

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or clear a user's persisted state",
	}
	cmd.AddCommand(stateShowCmd())
	cmd.AddCommand(stateClearCmd())
	return cmd
}

func stateShowCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a user's persisted state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return runWithStore(func(ctx context.Context, cfg *config.Config, kvStore kv.Store) error {
				checker := listings.NewClient("", "", cfg.ListingsTimeout, logger)
				session := engine.NewSession(userID, config.DefaultTier, engine.UserCriteria{}, cfg, kvStore, checker, engine.NewLogSender(false, logger), logger)
				session.Restore(ctx)
				defer session.Close(ctx)

				out := map[string]interface{}{
					"userID":        userID,
					"stats":         session.Stats(),
					"notifications": session.Store().Notifications(),
				}
				if sample, ok := session.LastKnownLocation(); ok {
					out["lastKnownLocation"] = sample
				}

				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	return cmd
}

func stateClearCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a user's persisted state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return runWithStore(func(ctx context.Context, cfg *config.Config, kvStore kv.Store) error {
				for _, key := range engine.StateKeys(userID) {
					if err := kvStore.Delete(ctx, key); err != nil {
						return fmt.Errorf("delete %s: %w", key, err)
					}
				}
				logger.Info("state cleared", "user_id", userID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// runWithStore handles config loading, state-store selection, and context
// cancellation.
func runWithStore(fn func(ctx context.Context, cfg *config.Config, kvStore kv.Store) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return fn(ctx, cfg, kv.NewMemory())
	}

	pg, err := kv.NewPostgres(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to state store: %w", err)
	}
	defer pg.Close()
	return fn(ctx, cfg, pg)
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
