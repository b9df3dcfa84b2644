package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/feed-validator/internal/cache"
	"github.com/jonathan/feed-validator/internal/config"
	"github.com/jonathan/feed-validator/internal/db"
	"github.com/jonathan/feed-validator/internal/db/sqlitestore"
	"github.com/jonathan/feed-validator/internal/fetch"
	"github.com/jonathan/feed-validator/internal/llm"
	"github.com/jonathan/feed-validator/internal/pipeline"
	"github.com/jonathan/feed-validator/internal/validation"
)

// openStore migrates and opens the store selected by DatabaseURL.
func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	kind, dsn, err := cfg.Store()
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.StorePostgres:
		if _, _, err := db.Migrate(dsn); err != nil {
			return nil, err
		}
		pg, err := db.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.StoreSQLite:
		lite, err := sqlitestore.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unsupported store %q", kind)
	}
}

func newFetcher(cfg *config.Config) *fetch.Fetcher {
	return fetch.New(fetch.Settings{
		OverrideURL: cfg.Feed.URL,
		CachePath:   cfg.Feed.CachePath,
		ListingURL:  cfg.Feed.ListingURL,
		Timeout:     cfg.FeedTimeout(),
		UseBrowser:  cfg.Feed.UseBrowser,
	})
}

// newEngine builds the validation engine. The returned cleanup releases the
// probe cache and the model client.
func newEngine(ctx context.Context, cfg *config.Config) (*validation.Engine, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	probes, closeProbes := newProbeCache(ctx, cfg)
	if closeProbes != nil {
		cleanups = append(cleanups, closeProbes)
	}
	images := validation.NewImageChecker(validation.ImageOptions{
		Timeout: cfg.ImageTimeout(),
		RPS:     cfg.Validation.ImageRPS,
		Cache:   probes,
	})

	client, err := llm.NewClient(ctx, llmConfig(cfg))
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		zap.L().Warn("no LLM API key configured, titles fall back to presence checks",
			zap.String("provider", cfg.LLM.Provider))
	case err != nil:
		cleanup()
		return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	default:
		cleanups = append(cleanups, func() { _ = client.Close() })
	}

	var titles validation.TitleAssessor
	if client != nil {
		titles = llm.NewAssessor(client, llm.AssessorOptions{
			ExcerptTimeout:  time.Duration(cfg.LLM.ExcerptTimeoutSeconds) * time.Second,
			ExcerptMaxChars: cfg.LLM.ExcerptMaxChars,
		})
	}

	rules := validation.IdentifierRules{
		Lengths:      cfg.Validation.IdentifierLengths,
		Placeholders: cfg.Validation.IdentifierPlaceholders,
	}
	return validation.NewEngine(rules, images, titles), cleanup, nil
}

// newProbeCache returns nil when image_ttl_seconds is 0, which probes every
// image on every run.
func newProbeCache(ctx context.Context, cfg *config.Config) (validation.ProbeCache, func()) {
	ttl := cfg.ImageTTL()
	if ttl <= 0 {
		return nil, nil
	}
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, ttl)
		if err == nil {
			return rc, func() { _ = rc.Close() }
		}
		zap.L().Warn("redis unavailable, using in-process image cache", zap.Error(err))
	}
	return cache.NewMemory(ttl), nil
}

func llmConfig(cfg *config.Config) *llm.Config {
	model := cfg.LLM.Model
	// The default model names an OpenAI model; Gemini picks its own default.
	if cfg.LLM.Provider == string(llm.ProviderGemini) && model == llm.DefaultOpenAIModel {
		model = ""
	}
	return &llm.Config{
		Provider:    llm.Provider(cfg.LLM.Provider),
		Model:       model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}
}

// app bundles everything a run needs.
type app struct {
	store        db.Store
	orchestrator *pipeline.Orchestrator
	cleanup      func()
}

func newApp(ctx context.Context, cfg *config.Config, onProgress pipeline.ProgressCallback) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine, cleanup, err := newEngine(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	orch := pipeline.NewOrchestrator(newFetcher(cfg), engine, store, pipeline.Options{
		Workers:    cfg.Pipeline.Workers,
		Charset:    cfg.Feed.Charset,
		OnProgress: onProgress,
	})
	return &app{
		store:        store,
		orchestrator: orch,
		cleanup: func() {
			cleanup()
			store.Close()
		},
	}, nil
}
