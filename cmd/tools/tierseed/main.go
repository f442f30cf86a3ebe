package main

import (
	"context"
	"flag"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/qtybreak/internal/catalog"
	"github.com/noah-isme/qtybreak/internal/config"
	"github.com/noah-isme/qtybreak/internal/migrations"
	"github.com/noah-isme/qtybreak/internal/obs"
	"github.com/noah-isme/qtybreak/internal/tiers"
)

// tierseed loads a fixture file of tier records into product_variant_tiers.
// Exit code 0 = ok, 1 = records rejected in strict mode, 2 = other error.
func main() {
	var (
		file       = flag.String("file", "", "fixture file mapping variant IDs to tier records")
		dryRun     = flag.Bool("dry-run", false, "validate and report without writing")
		strict     = flag.Bool("strict", false, "fail when any record does not parse")
		migrate    = flag.Bool("migrate", false, "apply schema migrations first")
		invalidate = flag.Bool("invalidate", true, "drop cached records for seeded variants when REDIS_URL is set")
	)
	flag.Parse()

	logger := obs.NewLogger("console", "info")
	if strings.TrimSpace(*file) == "" {
		logger.Error().Msg("-file is required")
		os.Exit(2)
	}

	fixtures, err := catalog.LoadFixtures(*file)
	if err != nil {
		logger.Error().Err(err).Msg("load fixtures")
		os.Exit(2)
	}
	plan := planSeed(fixtures.Records())
	for _, r := range plan.Rejected {
		logger.Warn().Str("variant_id", r.VariantID).Str("status", r.Status.String()).Msg("record rejected")
	}
	logger.Info().Int("accepted", len(plan.Accepted)).Int("rejected", len(plan.Rejected)).Msg("fixtures checked")
	if *strict && len(plan.Rejected) > 0 {
		os.Exit(1)
	}
	if *dryRun {
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("load config")
		os.Exit(2)
	}
	if cfg.DatabaseURL == "" {
		logger.Error().Msg("DATABASE_URL is required")
		os.Exit(2)
	}
	if *migrate {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			logger.Error().Err(err).Msg("apply migrations")
			os.Exit(2)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("connect database")
		os.Exit(2)
	}
	defer pool.Close()

	if err := catalog.UpsertRecords(ctx, pool, plan.Accepted); err != nil {
		logger.Error().Err(err).Msg("upsert tier records")
		os.Exit(2)
	}
	logger.Info().Int("records", len(plan.Accepted)).Msg("tier records stored")

	if *invalidate && cfg.RedisURL != "" {
		if err := invalidateCache(ctx, cfg, plan.IDs(), logger); err != nil {
			logger.Warn().Err(err).Msg("invalidate tier cache")
		}
	}
}

type rejection struct {
	VariantID string
	Status    tiers.Status
}

type seedPlan struct {
	Accepted map[string]string
	Rejected []rejection
}

// IDs lists accepted variant IDs in order.
func (p seedPlan) IDs() []string {
	ids := make([]string, 0, len(p.Accepted))
	for id := range p.Accepted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// planSeed keeps records that parse into a tier table. Stored records are
// normalized through the parser so the database only holds canonical JSON.
func planSeed(records map[string]string) seedPlan {
	plan := seedPlan{Accepted: make(map[string]string, len(records))}
	for id, raw := range records {
		res := tiers.ParseString(raw)
		if !res.OK() {
			plan.Rejected = append(plan.Rejected, rejection{VariantID: id, Status: res.Status})
			continue
		}
		canonical, err := tiers.Marshal(res.Table)
		if err != nil {
			plan.Rejected = append(plan.Rejected, rejection{VariantID: id, Status: tiers.StatusInvalid})
			continue
		}
		plan.Accepted[id] = string(canonical)
	}
	sort.Slice(plan.Rejected, func(i, j int) bool { return plan.Rejected[i].VariantID < plan.Rejected[j].VariantID })
	return plan
}

func invalidateCache(ctx context.Context, cfg *config.Config, ids []string, logger zerolog.Logger) error {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	cached := catalog.Cached{Cache: catalog.NewCache(client, cfg.TierCacheTTL), Prefix: cfg.TierCachePrefix}
	for _, id := range ids {
		if err := cached.Invalidate(ctx, id); err != nil {
			return err
		}
	}
	logger.Info().Int("keys", len(ids)).Msg("tier cache invalidated")
	return nil
}
