// Package app wires the pipeline from configuration. Every binary builds
// the same orchestrator; only how it is driven differs.
package app

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcastro/ca-radar/internal/config"
	"github.com/bcastro/ca-radar/internal/db"
	"github.com/bcastro/ca-radar/internal/etl"
	"github.com/bcastro/ca-radar/internal/score"
	"github.com/bcastro/ca-radar/internal/scrape"
)

type App struct {
	Cfg      *config.Config
	Pool     *pgxpool.Pool
	Store    *db.Store
	Rules    *score.RuleStore
	Pipeline *etl.Orchestrator
}

// Build connects to the database, applies migrations and assembles the
// pipeline. The caller owns Pool and must Close it.
func Build(ctx context.Context) (*App, error) {
	cfg := config.Load()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	store := db.NewStore(pool)
	rules := score.NewRuleStore(store)
	rules.Reload(ctx)

	client := &http.Client{Timeout: cfg.RequestTimeout}
	retry := &scrape.RetryPolicy{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryDelay}

	pipeline := &etl.Orchestrator{
		Store:  store,
		Rules:  rules,
		Engine: score.NewEngine(rules, cfg.SecondCallPoints),
		Creds: scrape.NewCredentialAcquirer(scrape.CredentialConfig{
			WebBase:      cfg.WebBase,
			PublicAPIKey: cfg.PublicAPIKey,
			Headless:     cfg.Headless,
		}),
		Health: scrape.NewHealthChecker(cfg.WebBase),
		NewCrawler: func(creds *scrape.SessionCredentials) etl.ListingSource {
			c := scrape.NewListingCrawler(client, retry, cfg.APIBase, creds)
			c.PageDelayMin = cfg.PageDelayMin
			c.PageDelayMax = cfg.PageDelayMax
			return c
		},
		NewFetcher: func(creds *scrape.SessionCredentials) etl.DetailSource {
			return scrape.NewDetailFetcher(client, retry, cfg.APIBase, creds)
		},
		Fallback:        scrape.FallbackCredentials(cfg.WebBase, cfg.PublicAPIKey),
		Phase2Threshold: cfg.Phase2Threshold,
		FinalThreshold:  cfg.FinalThreshold,
		DetailDelay:     cfg.DetailDelay,
	}

	return &App{
		Cfg:      cfg,
		Pool:     pool,
		Store:    store,
		Rules:    rules,
		Pipeline: pipeline,
	}, nil
}
