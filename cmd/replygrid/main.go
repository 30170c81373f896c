// Command replygrid runs the WhatsApp conversation broker: BSP webhook
// ingress, per-conversation debouncing, the agent worker pool, and the
// dashboard event streams.
//
// Exit codes: 0 normal, 1 configuration error, 2 store unreachable,
// 3 transport unreachable for any configured sender.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	rghttp "github.com/replygrid/replygrid/internal/adapter/http"
	"github.com/replygrid/replygrid/internal/adapter/infobip"
	rgnats "github.com/replygrid/replygrid/internal/adapter/nats"
	"github.com/replygrid/replygrid/internal/adapter/natskv"
	rgotel "github.com/replygrid/replygrid/internal/adapter/otel"
	"github.com/replygrid/replygrid/internal/adapter/postgres"
	"github.com/replygrid/replygrid/internal/adapter/ristretto"
	"github.com/replygrid/replygrid/internal/adapter/sse"
	"github.com/replygrid/replygrid/internal/adapter/ws"
	"github.com/replygrid/replygrid/internal/config"
	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/logger"
	"github.com/replygrid/replygrid/internal/middleware"
	"github.com/replygrid/replygrid/internal/pipeline"
	"github.com/replygrid/replygrid/internal/port/agent"
	"github.com/replygrid/replygrid/internal/port/broadcast"
	"github.com/replygrid/replygrid/internal/port/cache"
	"github.com/replygrid/replygrid/internal/router"
	"github.com/replygrid/replygrid/internal/service"
)

const (
	exitOK = iota
	exitConfig
	exitStore
	exitTransport
)

func main() {
	os.Exit(run())
}

func run() int {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "flags:", err)
		return exitConfig
	}
	cfg, yamlPath, err := config.LoadWithCLI(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitConfig
	}

	log, logCloser := logger.NewWithCloser(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"senders", len(cfg.Senders),
		"workers", cfg.Pipeline.MaxWorkers,
		"debounce", cfg.Pipeline.DebounceWindow,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	otelShutdown, err := rgotel.Init(ctx, cfg.Telemetry, cfg.Logging.Service, log)
	if err != nil {
		log.Error("telemetry init failed", "error", err)
		return exitConfig
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	// --- Storage ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres unreachable", "error", err)
		return exitStore
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		log.Error("migrations failed", "error", err)
		return exitStore
	}
	store := postgres.NewStore(pool)
	log.Info("postgres ready")

	// --- Transports ---
	transports := infobip.NewRegistry(cfg)
	if err := transports.PingAll(ctx); err != nil {
		log.Error("transport unreachable", "error", err)
		return exitTransport
	}
	log.Info("transports ready", "senders", transports.Senders())

	// --- Event distribution ---
	stream := sse.NewHub(log)
	sockets := ws.NewHub(log)
	sinks := []broadcast.Broadcaster{stream, sockets}

	var idemStore cache.Cache
	if cfg.NATS.URL != "" {
		relay, err := rgnats.Connect(ctx, cfg.NATS.URL, log)
		if err != nil {
			log.Error("nats connect failed", "error", err)
			return exitConfig
		}
		defer func() { _ = relay.Close() }()
		sinks = append(sinks, relay)

		kv, err := relay.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
		if err != nil {
			log.Error("idempotency bucket failed", "error", err)
			return exitConfig
		}
		idemStore = natskv.New(kv)
		log.Info("nats relay ready", "bucket", cfg.Idempotency.Bucket)
	}

	hub := broadcast.Func(func(ctx context.Context, ev event.Event) {
		for _, s := range sinks {
			s.Publish(ctx, ev)
		}
	})

	// --- Agents and pipeline ---
	agents := agent.NewRegistry()
	registerAgents(agents, cfg)
	for _, s := range cfg.Senders {
		if _, ok := agents.Get(s.AgentID); !ok {
			log.Warn("sender bound to unregistered agent, turns will fail",
				"sender", s.SenderMSISDN, "agent_id", s.AgentID)
		}
	}

	tools := service.NewTools(log, store, transports, hub)
	pipe := pipeline.New(cfg.Pipeline, log, store, agents, transports, tools, hub)
	// Workers run on the background context: shutdown drains them through
	// Shutdown's budget rather than by signal cancellation.
	pipe.Start(context.Background())

	// --- Services ---
	routes := router.New(cfg.Senders, log)

	dedup, err := ristretto.NewDedup(1<<16, 10*time.Minute)
	if err != nil {
		log.Error("dedup cache init failed", "error", err)
		return exitConfig
	}
	defer dedup.Close()

	ingest := service.NewIngest(log, store, routes, pipe, dedup, hub)
	manual := service.NewManual(log, store, transports, hub)
	actions := service.NewActions(log, store, transports, hub)
	know := service.NewKnowledge(log, store)

	// --- Pipeline metrics ---
	metrics, err := rgotel.NewMetrics(func() rgotel.PipelineStats {
		snap := pipe.Snapshot()
		return rgotel.PipelineStats{
			Processed:   snap.Processed,
			Rejected:    snap.Rejected,
			Failed:      snap.Failed,
			QuotaHits:   snap.QuotaHits,
			PausedSkips: snap.PausedSkips,
			QueueDepth:  int64(snap.QueueDepth),
			BusyWorkers: snap.BusyWorkers,
			Pending:     int64(snap.PendingTurns),
			InFlight:    int64(snap.InFlight),
		}
	})
	if err != nil {
		log.Error("metric instruments failed", "error", err)
		return exitConfig
	}
	defer func() { _ = metrics.Unregister() }()

	// --- Out-of-process writes (dashboard pause toggles) ---
	listener := postgres.NewListener(pool, hub, log)
	go func() {
		if err := listener.Run(ctx); err != nil {
			log.Error("pg listener stopped", "error", err)
		}
	}()

	// --- HTTP ---
	handlers := rghttp.NewHandlers(rghttp.Handlers{
		Log:       log,
		Ingest:    ingest,
		Manual:    manual,
		Actions:   actions,
		Knowledge: know,
		Stream:    stream,
		Sockets:   sockets,
		DB:        store,
		Snapshot:  pipe.Snapshot,
	})

	rl := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	rl.Exempt("/health", "/metrics")
	stopCleanup := rl.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	var idem func(http.Handler) http.Handler
	if idemStore != nil {
		idem = middleware.Idempotency(idemStore, cfg.Idempotency.TTL)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(rl.Handler)
	r.Use(rgotel.HTTPMiddleware(cfg.Logging.Service))
	rghttp.MountRoutes(r, handlers, idem, cfg.Shopify.WebhookSecret)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /stream and /ws hold their response open.
		IdleTimeout: 120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// SIGHUP reloads sender bindings without dropping traffic.
	holder := config.NewHolder(cfg, yamlPath)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := holder.Reload(); err != nil {
				log.Error("config reload failed, keeping previous", "error", err)
				continue
			}
			routes.Reload(holder.Get().Senders)
			log.Info("sender bindings reloaded", "destinations", routes.Destinations())
		}
	}()

	select {
	case err := <-serverErr:
		log.Error("server failed", "error", err)
		return exitConfig
	case <-ctx.Done():
	}

	log.Info("shutting down")

	// Stop ingress first so no new turns arrive, then drain the pipeline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	pipe.Shutdown()

	log.Info("bye")
	return exitOK
}

// registerAgents is the integration seam for agent backends. The broker
// itself ships no agents; deployments register theirs here keyed by the
// agent_id values used in the sender bindings.
func registerAgents(_ *agent.Registry, _ *config.Config) {}
