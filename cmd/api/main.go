package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcenter-core/internal/audit"
	"callcenter-core/internal/auth"
	"callcenter-core/internal/callrecord"
	"callcenter-core/internal/callstate"
	"callcenter-core/internal/config"
	"callcenter-core/internal/console"
	"callcenter-core/internal/presence"
	"callcenter-core/internal/provider"
	"callcenter-core/internal/reconciler"
	"callcenter-core/internal/reporting"
	"callcenter-core/internal/routing"
	"callcenter-core/internal/webhook"
	"callcenter-core/pkg/logger"
	"callcenter-core/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	commander, err := provider.NewHTTPClient(provider.HTTPClientConfig{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		CommandTimeout: cfg.Provider.CommandTimeout,
	})
	if err != nil {
		log.Error("provider init failed", "err", err)
		os.Exit(1)
	}

	records := callrecord.NewPostgresStore(db)
	presenceStore := presence.NewPostgresStore(db)
	tracker := presence.NewTracker(presenceStore)
	audits := audit.NewService(audit.NewPostgresRepo(db))

	// A misconfigured workspace (no default rule, rule pointing at a
	// missing queue) is a startup failure, not a per-call one.
	workspace, err := routing.LoadWorkspace(rootCtx, routing.NewPostgresConfigStore(db), log)
	if err != nil {
		log.Error("routing workspace load failed", "err", err)
		os.Exit(1)
	}

	broker := callstate.NewBroker()
	registry := console.NewRegistry(func(agentID string) *callstate.Machine {
		return callstate.NewMachine(agentID, cfg.Provider.CallerID, records, commander, broker, log)
	})

	dispatcher := routing.NewDispatcher(workspace, tracker, routing.NewRedisReserver(rdb), records, audits, log, routing.Options{
		ReservationTimeout: cfg.Routing.ReservationTimeout,
		ReservationTTL:     cfg.Routing.ReservationTTL,
		OnAssign: func(ctx context.Context, a routing.Assignment) error {
			s, err := records.Get(ctx, a.CallSessionID)
			if err != nil {
				return err
			}
			return registry.ForAgent(a.AgentID).RingInbound(ctx, s)
		},
		OnStateChange: broker.Publish,
	})

	rec := reconciler.New(
		records,
		reconciler.NewRedisDeduper(rdb, cfg.Reconciler.DedupTTL),
		audits,
		broker,
		dispatcher,
		log,
		reconciler.Options{Workers: cfg.Reconciler.Workers, QueueDepth: cfg.Reconciler.QueueDepth},
	)
	rec.Start(rootCtx)
	go registry.Watch(rootCtx, broker)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:       cfg,
		auth:      authManager,
		db:        db,
		webhooks:  webhook.Handler{Events: rec, Reservations: dispatcher},
		console:   console.Handler{Machines: registry, Presence: tracker, Records: records, Tasks: dispatcher},
		reporting: reporting.Handler{Service: reporting.NewService(records, presenceStore)},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	rec.Wait()
	log.Info("shutdown complete")
}
