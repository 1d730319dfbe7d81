package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/mediaforge/internal/api"
	"github.com/kiranshivaraju/mediaforge/internal/api/handler"
	mw "github.com/kiranshivaraju/mediaforge/internal/api/middleware"
	"github.com/kiranshivaraju/mediaforge/internal/artifact"
	"github.com/kiranshivaraju/mediaforge/internal/cache"
	"github.com/kiranshivaraju/mediaforge/internal/compose"
	"github.com/kiranshivaraju/mediaforge/internal/config"
	"github.com/kiranshivaraju/mediaforge/internal/jobs"
	"github.com/kiranshivaraju/mediaforge/internal/producer"
	"github.com/kiranshivaraju/mediaforge/internal/store"
	"github.com/kiranshivaraju/mediaforge/internal/tts"
	"github.com/kiranshivaraju/mediaforge/internal/worker"
	"github.com/nats-io/nats.go"
)

const janitorInterval = time.Minute

// app holds the constructed dependencies shared by both servers.
type app struct {
	cfg *config.Config

	cache     cache.Cache
	artifacts artifact.Store
	registry  *jobs.Registry
	producer  producer.Producer
	pool      *worker.Pool
	compose   *compose.Service
	tts       *tts.Service

	composeChecks map[string]handler.Check
	ttsChecks     map[string]handler.Check

	closers []func()
}

// newApp connects every configured backend. Optional backends (Redis,
// Postgres) are skipped when their URL is empty.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:           cfg,
		cache:         cache.Nop{},
		composeChecks: map[string]handler.Check{},
		ttsChecks:     map[string]handler.Check{},
	}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	var observers []jobs.Observer

	// 1. Redis: job status mirror and rate limit counters
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		a.closers = append(a.closers, func() { redisCache.Close() })
		if err := redisCache.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.cache = redisCache
		a.composeChecks["cache"] = redisCache.Ping
		a.ttsChecks["cache"] = redisCache.Ping
		observers = append(observers, cache.NewStatusMirror(redisCache, cfg.Worker.Retention))
		slog.Info("redis connected")
	}

	// 2. Postgres: job event journal
	if cfg.Database.URL != "" {
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		journal := store.NewPostgresJournal(pool)
		a.composeChecks["database"] = journal.Ping
		observers = append(observers, store.NewJournalObserver(journal))
		slog.Info("database connected")
	}

	a.registry = jobs.NewRegistry(observers...)
	a.closers = append(a.closers, a.registry.Close)

	// 3. Artifact store
	var err error
	a.artifacts, err = a.openArtifacts()
	if err != nil {
		return nil, err
	}

	// 4. Producer and workers
	a.producer, err = producer.New(cfg.Producer)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	a.pool = worker.NewPool(a.registry, a.artifacts, a.producer, worker.Options{
		Workers:    cfg.Worker.Count,
		QueueSize:  cfg.Worker.QueueSize,
		JobTimeout: cfg.Worker.JobTimeout,
	})
	a.compose = compose.NewService(a.registry, a.pool)

	// 5. Speech engine
	engine, err := tts.NewEngine(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts engine: %w", err)
	}
	if checker, ok := engine.(interface{ Ready(context.Context) error }); ok {
		a.ttsChecks["engine"] = checker.Ready
	}
	a.tts = tts.NewService(engine, cfg.TTS.Timeout)
	slog.Info("components initialized", "producer", a.producer.Name(), "tts_engine", engine.Name())

	ready = true
	return a, nil
}

func (a *app) openArtifacts() (artifact.Store, error) {
	cfg := a.cfg.Artifact
	switch cfg.Backend {
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("mediaforge"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, func() { nc.Drain() })

		js, err := nc.JetStream()
		if err != nil {
			return nil, fmt.Errorf("jetstream context: %w", err)
		}
		s, err := artifact.NewNATSStore(js, cfg.NATSBucket)
		if err != nil {
			return nil, err
		}
		a.composeChecks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
		slog.Info("artifact store ready", "backend", "nats", "bucket", cfg.NATSBucket)
		return s, nil
	default:
		s, err := artifact.NewFSStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("open artifact dir: %w", err)
		}
		slog.Info("artifact store ready", "backend", "fs", "dir", s.Root())
		return s, nil
	}
}

// start launches the workers and the janitor. They stop when ctx is done.
func (a *app) start(ctx context.Context) {
	a.pool.Start(ctx)
	go a.compose.RunJanitor(ctx, a.cfg.Worker.Retention, janitorInterval)
}

func (a *app) composeServer() *http.Server {
	router := api.NewComposeRouter(api.ComposeDependencies{
		RateLimit:         mw.NewRateLimit(a.cache, "prompt", a.cfg.RateLimit.PerMinute),
		TrustProxyHeaders: a.cfg.Server.TrustProxyHeaders,

		HealthHandler:      handler.NewHealthHandler("compose", a.composeChecks),
		PromptHandler:      handler.NewPromptHandler(a.compose),
		HistoryHandler:     handler.NewHistoryHandler(a.compose),
		ViewHandler:        handler.NewViewHandler(a.artifacts),
		QueueHandler:       handler.NewQueueHandler(a.compose),
		InterruptHandler:   handler.NewInterruptHandler(a.compose),
		SystemStatsHandler: handler.NewSystemStatsHandler(a.compose, a.producer.Name(), version),
	})
	return newHTTPServer(a.cfg.Server.ComposeAddr, router)
}

func (a *app) ttsServer() *http.Server {
	router := api.NewTTSRouter(api.TTSDependencies{
		RateLimit:         mw.NewRateLimit(a.cache, "tts", a.cfg.RateLimit.PerMinute),
		TrustProxyHeaders: a.cfg.Server.TrustProxyHeaders,

		HealthHandler: handler.NewHealthHandler("tts", a.ttsChecks),
		TTSHandler:    handler.NewTTSHandler(a.tts),
		VoicesHandler: handler.NewVoicesHandler(a.tts),
	})
	// Synthesis may run up to the engine timeout.
	srv := newHTTPServer(a.cfg.Server.TTSAddr, router)
	srv.WriteTimeout = a.cfg.TTS.Timeout + 10*time.Second
	return srv
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

// shutdown stops intake and fails whatever is still queued.
func (a *app) shutdown(ctx context.Context) {
	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			slog.Warn("worker pool shutdown", "error", err)
		}
	}
	a.close()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
