// Package app wires the chat server runtime: config, logging, storage, HTTP routes and the
// realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/auth"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/chatapi"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/realtime"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/receipt"
)

// App is the chat server runtime: it owns HTTP server wiring and every long-lived dependency.
type App struct {
	cfg Config
	log Logger

	store  conversation.Store
	dbPool *pgxpool.Pool

	mirror   *realtime.RedisPresenceMirror
	receipts *receipt.QueueRecorder
	worker   *receipt.Worker

	engine  *realtime.Engine
	gateway *realtime.Gateway
	api     *chatapi.Handler
	metrics *prometheus.Registry

	checks []readinessCheck
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, authCfg); err != nil {
		return nil, err
	}
	authenticator, _, err := auth.NewAuthenticator(authCfg)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		a.closeResources()
		return nil, err
	}

	var reg prometheus.Registerer
	if cfg.MetricsEnabled {
		a.metrics = prometheus.NewRegistry()
		a.metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg = a.metrics
	}

	var recorder realtime.ReceiptRecorder = receipt.NewInlineRecorder(a.store)
	if a.receipts != nil {
		recorder = a.receipts
	}

	engineCfg := realtime.EngineConfig{
		Store:          a.store,
		Receipts:       recorder,
		LivenessWindow: cfg.LivenessWindow,
		TypingExpiry:   cfg.TypingExpiry,
		Log:            log,
		Metrics:        realtime.NewMetrics(reg),
	}
	if a.mirror != nil {
		engineCfg.Mirror = a.mirror
	}
	engine, err := realtime.NewEngine(engineCfg)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.engine = engine
	a.gateway = realtime.NewGateway(log, engine, authenticator, cfg.GatewayConfig())

	apiCfg := chatapi.LoadConfigFromEnv()
	api, err := chatapi.NewHandler(log, apiCfg, engine, authenticator)
	if err != nil {
		engine.Close()
		a.closeResources()
		return nil, err
	}
	a.api = api

	return a, nil
}

// openStore decides between Postgres, SQLite and the in-memory dev store.
func (a *App) openStore(ctx context.Context) error {
	switch driver := a.cfg.ResolvedStoreDriver(); driver {
	case StorePostgres:
		// app owns the pool; PostgresStore.Close is a no-op.
		st, pool, err := openPostgresStore(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.store, a.dbPool = st, pool
		a.checks = append(a.checks, dbReadiness(pool, st))
		a.log.Info("store.enabled", "driver", driver, "schema", a.cfg.DBSchema, "auto_migrate", a.cfg.AutoMigrate)

	case StoreSQLite:
		st, err := conversation.NewSQLiteStore(a.cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		a.store = st
		a.log.Info("store.enabled", "driver", driver, "path", a.cfg.SQLitePath)

	default:
		a.store = conversation.NewInMemoryStore()
		a.log.Info("store.enabled", "driver", StoreMemory)
	}
	return nil
}

// openRedis enables the presence mirror and the receipt queue when CHAT_REDIS_URL is set.
func (a *App) openRedis(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		a.log.Info("redis.disabled")
		return nil
	}

	mirror, err := realtime.NewRedisPresenceMirror(ctx, a.cfg.RedisURL, a.cfg.PresencePrefix)
	if err != nil {
		return err
	}
	a.mirror = mirror
	a.checks = append(a.checks, readinessCheck{name: "redis", check: mirror.Ping})

	rec, err := receipt.NewQueueRecorder(a.log, a.cfg.RedisURL, a.cfg.ReceiptQueue)
	if err != nil {
		return err
	}
	a.receipts = rec

	if a.cfg.RunReceiptWorker {
		w, err := receipt.NewWorker(a.log, a.cfg.RedisURL, receipt.WorkerConfig{
			Concurrency: a.cfg.ReceiptWorkers,
			Queues:      a.cfg.ReceiptQueues,
		}, a.store)
		if err != nil {
			return err
		}
		a.worker = w
	}
	a.log.Info("redis.enabled", "presence_prefix", a.cfg.PresencePrefix, "receipt_queue", a.cfg.ReceiptQueue, "worker", a.worker != nil)
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, httpDeps{
		log:       a.log,
		cfg:       a.cfg,
		gateway:   a.gateway,
		api:       a.api,
		metrics:   a.metrics,
		checks:    a.checks,
		dbMissing: a.dbPool == nil && a.cfg.ResolvedStoreDriver() != StoreSQLite,
	})

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log)
	h = WithRequestID(h)
	return h
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"store", a.cfg.ResolvedStoreDriver(),
		"api", base+"/api",
		"ws", wsBaseURL(base)+"/ws",
	)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	if a.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.worker.Run(workerCtx); err != nil {
				errCh <- fmt.Errorf("receipt worker: %w", err)
			}
		}()
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	// Hijacked websocket connections outlive Shutdown.
	a.engine.DisconnectAll()
	a.engine.Close()

	stopWorker()
	wg.Wait()

	a.closeResources()

	a.log.Info("server.stopped")
	return runErr
}

// closeResources releases queue, redis and store resources in reverse acquisition order.
func (a *App) closeResources() {
	if a.receipts != nil {
		if err := a.receipts.Close(); err != nil {
			a.log.Error("receipt.close.fail", "err", err)
		}
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
