package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zkdpp/internal/audit"
	"zkdpp/internal/auth"
	"zkdpp/internal/events"
	"zkdpp/internal/gateway"
	"zkdpp/internal/handler"
	"zkdpp/internal/metrics"
	"zkdpp/internal/middleware"
	"zkdpp/internal/receipt"
	"zkdpp/internal/registry"
	"zkdpp/internal/replay"
	"zkdpp/internal/repository/postgres"
	"zkdpp/internal/verifier"
	"zkdpp/pkg/cache"
	"zkdpp/pkg/config"
	"zkdpp/pkg/logger"
	"zkdpp/pkg/validator"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply database migrations before serving (requires DATABASE_URL)")
}

// closer releases one resource during shutdown.
type closer struct {
	name  string
	close func(ctx context.Context) error
}

type stopper interface {
	Shutdown(ctx context.Context) error
}

// shutdownSteps puts the gateway first: it stops the replay sweep and refuses new
// verifications before the HTTP listener drains.
func shutdownSteps(svc, srv stopper) []closer {
	return []closer{
		{"gateway", svc.Shutdown},
		{"http server", srv.Shutdown},
	}
}

// runShutdown runs every step in order. A failing step is logged and the rest still run.
func runShutdown(ctx context.Context, log logger.Logger, steps []closer) {
	for _, c := range steps {
		if err := c.close(ctx); err != nil {
			log.Warn("Shutdown step incomplete", map[string]interface{}{"resource": c.name, "error": err.Error()})
		}
	}
}

func runServe(parent context.Context) error {
	cfg := config.Load()
	log := logger.NewWithOptions("zk-gateway", os.Stdout, cfg.Log.Level)

	if err := cfg.ValidateCore(); err != nil {
		return err
	}

	reg, err := loadRegistry(cfg.Gateway.RegistryPath)
	if err != nil {
		return err
	}
	log.Info("Predicate registry loaded", map[string]interface{}{
		"predicates": reg.Len(),
		"source":     registrySource(cfg.Gateway.RegistryPath),
	})

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	var (
		closers []closer
		probes  []handler.Probe
	)

	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			if cfg.Replay.Backend == "redis" {
				return fmt.Errorf("connect redis: %w", err)
			}
			log.Warn("Redis unavailable, rate limiting disabled", map[string]interface{}{"error": err.Error()})
		} else {
			closers = append(closers, closer{"redis", func(context.Context) error { return redisCache.Close() }})
		}
	}

	var guard replay.Guard
	switch cfg.Replay.Backend {
	case "redis":
		rg := replay.NewRedisGuard(redisCache, cfg.Gateway.FreshnessWindow)
		probes = append(probes, handler.Probe{Name: "replay", Check: rg.Ping})
		guard = rg
	default:
		guard = replay.NewMemoryGuard(cfg.Gateway.FreshnessWindow, cfg.Replay.SweepInterval, log)
	}
	m.TrackReplayNonces(guard.Len)

	v, err := verifier.New(cfg.Verifier, log)
	if err != nil {
		return err
	}
	if c, ok := v.(verifier.Checker); ok {
		probes = append(probes, handler.Probe{Name: "verifier", Check: c.Check})
	}

	signer, err := receipt.NewSignerFromConfig(cfg.Receipt, log)
	if err != nil {
		return err
	}
	log.Info("Receipt signer ready", map[string]interface{}{"kid": signer.KeyID()})

	hub := events.NewHub(log)
	sinks := []events.Sink{hub}
	if cfg.Events.AMQPURL != "" {
		rp, err := events.NewRabbitPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, cfg.Events.RoutingKey)
		if err != nil {
			log.Warn("RabbitMQ unavailable, events go to the log only", map[string]interface{}{"error": err.Error()})
			sinks = append(sinks, events.NewLogSink(log))
		} else {
			sinks = append(sinks, rp)
			closers = append(closers, closer{"amqp", func(context.Context) error { rp.Close(); return nil }})
		}
	} else {
		sinks = append(sinks, events.NewLogSink(log))
	}
	dispatcher := events.NewDispatcher(cfg.Gateway.EventQueueSize, log, m, sinks...)
	dispatcher.Start()

	opts := gateway.Options{
		GatewayID:       cfg.Gateway.ID,
		FreshnessWindow: cfg.Gateway.FreshnessWindow,
		Events:          dispatcher,
		Observer:        m,
	}

	var attempts handler.AttemptQuerier
	var recorder *audit.Recorder
	if cfg.Database.URL != "" {
		db, err := postgres.Connect(cfg.Database)
		if err != nil {
			return err
		}
		if autoMigrate {
			if err := postgres.MigrateUp(db, cfg.Database.MigrationsPath); err != nil {
				db.Close()
				return err
			}
			log.Info("Migrations applied", nil)
		}
		closers = append(closers, closer{"database", func(context.Context) error { return db.Close() }})
		repo := postgres.NewAttemptRepository(db)
		recorder = audit.NewRecorder(repo, log, m)
		opts.Recorder = recorder
		attempts = repo
		probes = append(probes, handler.Probe{Name: "database", Check: dbProbe(db)})
	}

	svc := gateway.NewService(reg, guard, v, signer, validator.New(), log, opts)
	svc.Start()

	keys, err := auth.NewAPIKeyService(cfg.Access.APIKeys)
	if err != nil {
		return err
	}

	var limiter *middleware.RateLimiter
	if redisCache != nil && cfg.Access.RateLimitPerMinute > 0 {
		limiter = middleware.NewRateLimiter(redisCache.Client(), cfg.Access.RateLimitPerMinute, time.Minute, log)
	}

	router := handler.NewRouter(handler.RouterDeps{
		Verify:      handler.NewVerifyHandler(svc, reg, log),
		Catalog:     handler.NewCatalogHandler(reg, signer, log),
		System:      handler.NewSystemHandler(cfg.Gateway.ID, probes, attempts, log),
		Events:      hub.ServeWS,
		Metrics:     metrics.Handler(promReg),
		Logging:     middleware.NewLoggingMiddleware(log, m),
		APIKeys:     middleware.NewAPIKeyAuth(keys, log),
		RateLimiter: limiter,
		MaxBodySize: int64(cfg.Gateway.MaxRequestBodyKB) << 10,
		CORSOrigins: cfg.Access.CORSOrigins,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Verification gateway started", map[string]interface{}{
			"address":          srv.Addr,
			"gateway_id":       cfg.Gateway.ID,
			"verifier_backend": cfg.Verifier.Backend,
			"replay_backend":   cfg.Replay.Backend,
			"freshness_window": cfg.Gateway.FreshnessWindow.String(),
			"api_keys":         keys.Enabled(),
			"tls":              cfg.Server.TLSCertFile != "",
		})
		var err error
		if cfg.Server.TLSCertFile != "" {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		log.Error("Server failed", map[string]interface{}{"error": runErr.Error()})
	}

	log.Info("Shutting down verification gateway...", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
	defer cancel()

	steps := shutdownSteps(svc, srv)
	steps = append(steps,
		closer{"websocket hub", func(context.Context) error { hub.Close(); return nil }},
		closer{"event queue", dispatcher.Close},
	)
	if recorder != nil {
		steps = append(steps, closer{"audit recorder", recorder.Close})
	}
	runShutdown(shutdownCtx, log, append(steps, closers...))

	log.Info("Verification gateway stopped gracefully", nil)
	return runErr
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default(), nil
	}
	return registry.LoadFile(path)
}

func registrySource(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

func dbProbe(db *sqlx.DB) func(ctx context.Context) error {
	return db.PingContext
}
