package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"callsync/internal/auth"
	"callsync/internal/httpapi"
	"callsync/internal/scheduler"
	"callsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// passWriteTimeout bounds POST /v1/sync/calls, which runs a whole pass inside the request.
const passWriteTimeout = 10 * time.Minute

func newServeCommand(opts *rootOptions) *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the interval scheduler",
		Long: `Run the HTTP API (manual trigger, preview, pass history, health, metrics)
and trigger a reconciliation pass every SYNC_INTERVAL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts, !noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API only; passes run on manual trigger")
	return cmd
}

func serve(ctx context.Context, opts *rootOptions, withScheduler bool) error {
	cfg, log := opts.cfg, opts.log

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var sched *scheduler.Scheduler
	if withScheduler {
		sched, err = scheduler.New(a.engine, scheduler.Options{
			Interval:   cfg.Sync.Interval,
			RunOnStart: cfg.Sync.RunOnStart,
			Purger:     a.purger,
		}, log)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, logger.MiddlewareOptions{QuietPaths: []string{"/healthz", "/metrics"}}))

	h := httpapi.Handlers{Engine: a.engine, History: a.history, Checks: a.checks}
	registerRoutes(r, h, auth.RequireOperatorToken(authManager), gin.WrapH(a.metrics.Handler()))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      passWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "cursor_backend", cfg.Sync.CursorBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		log.Error("http server failed", "err", err)
	}
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			log.Error("scheduler shutdown failed", "err", err)
		}
	}
	return nil
}
