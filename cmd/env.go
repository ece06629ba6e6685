package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/queryarc/queryarc-api/internal/archive"
	"github.com/queryarc/queryarc-api/internal/config"
	"github.com/queryarc/queryarc-api/internal/extract"
	"github.com/queryarc/queryarc-api/internal/llm"
	"github.com/queryarc/queryarc-api/internal/metrics"
	"github.com/queryarc/queryarc-api/internal/pipeline"
	"github.com/queryarc/queryarc-api/internal/presence"
	"github.com/queryarc/queryarc-api/internal/resilience"
	"github.com/queryarc/queryarc-api/internal/store"
)

// appEnv holds the initialized collaborators shared by serve, analyze and
// presence.
type appEnv struct {
	Store    store.Store // nil for analyze
	Analyzer *pipeline.Analyzer
	Engine   *presence.Engine // nil for analyze
	Metrics  *metrics.Metrics
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode and builds everything that mode needs.
// Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{Metrics: metrics.New()}

	client, err := llm.New(c)
	if err != nil {
		return nil, eris.Wrap(err, "init llm client")
	}
	policy := resilience.PolicyFromConfig(c.Retry)

	opts := []pipeline.Option{
		pipeline.WithPolicy(policy),
		pipeline.WithMetrics(env.Metrics),
		pipeline.WithTemperature(c.LLM.Temperature),
	}
	arc, err := archive.New(ctx, c.Archive)
	if err != nil {
		return nil, err
	}
	if arc != nil {
		opts = append(opts, pipeline.WithArchive(arc))
		zap.L().Info("report archive enabled", zap.String("bucket", c.Archive.Bucket))
	}
	fetcher := extract.NewFetcher(extract.FetchOptions{
		UserAgent:    c.Extract.UserAgent,
		Timeout:      time.Duration(c.Extract.TimeoutSecs) * time.Second,
		MaxBodyBytes: c.Extract.MaxBodyBytes,
	})
	env.Analyzer = pipeline.New(extract.NewService(fetcher), client, opts...)

	if mode == "analyze" {
		return env, nil
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	env.Store = st
	env.Engine = presence.NewEngine(st, client, presence.OptionsFromConfig(c), env.Metrics)
	return env, nil
}

// storeTarget picks the driver and DSN. Without a database URL the store
// falls back to a local SQLite file, except in production where that is
// an error.
func storeTarget(c *config.Config) (driver, dsn string, err error) {
	switch c.Store.Driver {
	case "sqlite":
		return "sqlite", c.Store.SQLitePath, nil
	case "postgres", "":
		if c.Store.DatabaseURL != "" {
			return "postgres", c.Store.DatabaseURL, nil
		}
		if c.IsProduction() {
			return "", "", eris.New("store.database_url is required in production (QUERYARC_STORE_DATABASE_URL)")
		}
		return "sqlite", c.Store.SQLitePath, nil
	default:
		return "", "", eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	driver, dsn, err := storeTarget(c)
	if err != nil {
		return nil, err
	}
	switch driver {
	case "postgres":
		return store.NewPostgres(ctx, dsn, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		if c.Store.Driver != "sqlite" {
			zap.L().Warn("no database url configured, using local sqlite", zap.String("path", dsn))
		}
		return store.NewSQLite(dsn)
	}
}
