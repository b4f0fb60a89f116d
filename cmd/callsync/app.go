package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"callsync/internal/audit"
	"callsync/internal/auth"
	"callsync/internal/config"
	"callsync/internal/crm"
	"callsync/internal/cursor"
	"callsync/internal/httpapi"
	"callsync/internal/identity"
	"callsync/internal/metrics"
	"callsync/internal/reconcile"
	"callsync/internal/scheduler"
	"callsync/internal/storage"
	"callsync/internal/telephony"
	"callsync/pkg/utils"
)

const (
	redisPrefix  = "callsync"
	userCacheTTL = time.Hour
)

// app holds the wired process dependencies. No globals.
type app struct {
	engine  *reconcile.Engine
	history *audit.Service
	metrics *metrics.Metrics
	checks  map[string]httpapi.HealthCheck
	closers []func() error

	// purger is set for SQL backends only.
	purger scheduler.Purger
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{checks: map[string]httpapi.HealthCheck{}}

	store, lock, repo, err := a.openBackend(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	telTokens := auth.NewTelephonyTokenSource(cfg.Telephony, &http.Client{Timeout: cfg.Telephony.Timeout})
	crmTokens, err := auth.NewCRMTokenSource(cfg.CRM, &http.Client{Timeout: cfg.CRM.Timeout})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("crm auth init: %w", err)
	}

	source := telephony.NewRingCentralClient(cfg.Telephony.Server, telTokens, cfg.Telephony.Timeout, log)
	crmClient := crm.NewClient(crmTokens, crm.Options{
		APIVersion:        cfg.CRM.APIVersion,
		Timeout:           cfg.CRM.Timeout,
		RequestsPerSecond: cfg.CRM.RequestsPerSecond,
		Logger:            log,
	})
	resolver := identity.NewResolver(crmClient, cfg.Sync.NamePrefixes, cfg.Sync.ExtensionPrefixes, userCacheTTL, log)

	a.history = audit.NewService(repo)
	a.metrics = metrics.New()

	deps := reconcile.Deps{
		Source:   source,
		CRM:      crmClient,
		Resolver: resolver,
		Cursor:   store,
		History:  a.history,
		Metrics:  a.metrics,
		Logger:   log,
	}
	if lock != nil {
		deps.Lock = lock
	}
	a.engine = reconcile.NewEngine(reconcile.Config{
		PageSize: cfg.Telephony.PageSize,
		MaxPages: cfg.Telephony.MaxPages,
	}, deps)

	return a, nil
}

// openBackend selects the cursor store, pass history repository and optional
// distributed lock for the configured backend.
func (a *app) openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (cursor.Store, *reconcile.RedisLock, audit.Repository, error) {
	lookback, ttl := cfg.Sync.InitialLookback, cfg.Sync.HandledKeyTTL

	switch cfg.Sync.CursorBackend {
	case config.CursorBackendMemory:
		log.Warn("memory cursor backend: cursor and history are lost on restart")
		return cursor.NewMemoryStore(lookback, ttl), nil, audit.NewMemoryRepo(), nil

	case config.CursorBackendRedis:
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis init: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		a.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

		store := cursor.NewRedisStore(rdb, redisPrefix, lookback, ttl)
		lock := reconcile.NewRedisLock(rdb, redisPrefix+":lock:"+cursor.Name, cfg.Sync.LockTTL)
		return store, lock, audit.NewMemoryRepo(), nil

	case config.CursorBackendPostgres, config.CursorBackendSQLite:
		dialect, dsn := storage.Postgres, cfg.PostgresDSN()
		if cfg.Sync.CursorBackend == config.CursorBackendSQLite {
			dialect, dsn = storage.SQLite, cfg.Sync.SQLitePath
		}
		db, err := storage.Open(ctx, dialect, dsn, utils.DBPoolConfig{})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s init: %w", dialect, err)
		}
		a.closers = append(a.closers, db.Close)
		a.checks["db"] = func(ctx context.Context) error { return utils.HealthCheck(ctx, db.DB, healthTimeout) }

		store := cursor.NewSQLStore(db, lookback, ttl)
		a.purger = store
		return store, nil, audit.NewSQLRepo(db), nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown cursor backend %q", cfg.Sync.CursorBackend)
	}
}

const healthTimeout = 2 * time.Second

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
