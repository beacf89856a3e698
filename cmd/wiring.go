package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/config"
	"github.com/sells-group/provider-sync/internal/db"
	"github.com/sells-group/provider-sync/internal/ingest"
	"github.com/sells-group/provider-sync/internal/match"
	"github.com/sells-group/provider-sync/internal/merge"
	"github.com/sells-group/provider-sync/internal/monitoring"
	"github.com/sells-group/provider-sync/internal/providersync"
	"github.com/sells-group/provider-sync/internal/resilience"
	"github.com/sells-group/provider-sync/internal/source"
	"github.com/sells-group/provider-sync/internal/store"
	"github.com/sells-group/provider-sync/pkg/google"
	"github.com/sells-group/provider-sync/pkg/yelp"
)

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, db.PoolOptions{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// buildAdapters returns one adapter per source with a key configured. Both
// adapters share a limiter so the combined call rate honors rate_delay_ms.
func buildAdapters(c *config.Config) []source.Adapter {
	limiter := source.NewLimiter(time.Duration(c.Sync.RateDelayMS) * time.Millisecond)

	var adapters []source.Adapter
	if c.Google.Key != "" {
		client := google.NewClient(c.Google.Key,
			google.WithBaseURL(c.Google.BaseURL),
			google.WithHTTPClient(upstreamHTTP(c.Google.TimeoutSecs)),
		)
		adapters = append(adapters, source.NewGoogle(client, resilience.NewPolicy("google", c.Resilience), limiter))
	} else {
		zap.L().Warn("google key not set, google source disabled")
	}
	if c.Yelp.Key != "" {
		client := yelp.NewClient(c.Yelp.Key,
			yelp.WithBaseURL(c.Yelp.BaseURL),
			yelp.WithHTTPClient(upstreamHTTP(c.Yelp.TimeoutSecs)),
		)
		adapters = append(adapters, source.NewYelp(client, resilience.NewPolicy("yelp", c.Resilience), limiter))
	} else {
		zap.L().Warn("yelp key not set, yelp source disabled")
	}
	return adapters
}

func upstreamHTTP(timeoutSecs int) *http.Client {
	if timeoutSecs <= 0 {
		timeoutSecs = 10
	}
	return &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second}
}

// buildEngine wires every stage over st.
func buildEngine(c *config.Config, st store.Store, adapters []source.Adapter) (*providersync.Engine, error) {
	scorer, err := match.NewScorer(c.Match)
	if err != nil {
		return nil, err
	}

	in := ingest.New(st, adapters, ingest.Options{
		Location:      c.Sync.Location,
		Limit:         c.Sync.Limit,
		SourceTimeout: time.Duration(c.Sync.SourceTimeoutSecs) * time.Second,
		Concurrency:   c.Sync.Concurrency,
	})
	merger := merge.New(st, merge.Options{
		MergePartial:   c.Match.MergePartial,
		MaxFailureRate: c.Sync.MaxFailureRate,
		RecordTimeout:  time.Duration(c.Sync.RecordTimeoutSecs) * time.Second,
	})

	return providersync.New(st, in, match.New(st, scorer), merger, merge.NewRanker(st), providersync.Options{
		DeactivateMissing: c.Sync.DeactivateMissing,
		Freshness:         freshness(c),
		HistoryLimit:      c.Sync.HistoryLimit,
	}), nil
}

// syncEnv is an opened store plus the engine over it.
type syncEnv struct {
	Store  store.Store
	Engine *providersync.Engine
}

func (e *syncEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initSync validates cfg for mode, opens the store and builds the engine.
func initSync(ctx context.Context, mode string) (*syncEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	eng, err := buildEngine(cfg, st, buildAdapters(cfg))
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return &syncEnv{Store: st, Engine: eng}, nil
}

func freshness(c *config.Config) time.Duration {
	if c.Sync.FreshnessHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Sync.FreshnessHours) * time.Hour
}

// startMonitoring runs the alert checker until ctx is done. It is a no-op
// without a webhook URL.
func startMonitoring(ctx context.Context, c *config.Config, st store.Store) bool {
	if c.Monitoring.WebhookURL == "" {
		return false
	}
	checker := monitoring.NewChecker(
		monitoring.NewCollector(st, store.MaxRunHistory),
		monitoring.NewAlerter(c.Monitoring),
		c.Monitoring,
	)
	go checker.Run(ctx)
	return true
}
