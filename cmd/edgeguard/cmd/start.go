package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kappakonnect/edgeguard/internal/audit"
	"github.com/kappakonnect/edgeguard/internal/config"
	"github.com/kappakonnect/edgeguard/internal/db"
	"github.com/kappakonnect/edgeguard/internal/firewall"
	"github.com/kappakonnect/edgeguard/internal/handlers"
	"github.com/kappakonnect/edgeguard/internal/metrics"
	"github.com/kappakonnect/edgeguard/internal/netguard"
	"github.com/kappakonnect/edgeguard/internal/origin"
	"github.com/kappakonnect/edgeguard/internal/ratelimit"
	"github.com/kappakonnect/edgeguard/internal/server"
	"github.com/kappakonnect/edgeguard/internal/sse"
	"github.com/kappakonnect/edgeguard/internal/threat"
	"github.com/kappakonnect/edgeguard/internal/ws"
)

func init() {
	f := startCmd.Flags()
	f.String("listen-addr", ":8080", "edge listener address")
	f.String("admin-addr", "127.0.0.1:9090", "admin API listener address")
	f.String("origin-url", "", "origin base URL")
	f.String("forwarding", origin.StrategyProxy, "forwarding strategy (proxy, spa)")
	f.String("database-url", "", "PostgreSQL DSN for the shared rate store and verdict log")
	f.Int("max-requests", ratelimit.DefaultMaxRequests, "requests per client per window")
	f.Duration("window", ratelimit.DefaultWindow, "rate limit window")
	f.String("rate-store", config.StoreMemory, "rate store (memory, postgres)")
	f.String("audit-file", "", "rotating audit log file")

	v.BindPFlag("listen_addr", f.Lookup("listen-addr"))
	v.BindPFlag("admin_addr", f.Lookup("admin-addr"))
	v.BindPFlag("origin_url", f.Lookup("origin-url"))
	v.BindPFlag("forwarding", f.Lookup("forwarding"))
	v.BindPFlag("database_url", f.Lookup("database-url"))
	v.BindPFlag("rate_limit.max_requests", f.Lookup("max-requests"))
	v.BindPFlag("rate_limit.window", f.Lookup("window"))
	v.BindPFlag("rate_limit.store", f.Lookup("rate-store"))
	v.BindPFlag("audit.file", f.Lookup("audit-file"))

	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the edge firewall and the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		logger := server.SetupLogger(cfg.LogLevel)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, logger)
	},
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	rules, err := threat.LoadSet(cfg.RulesFile)
	if err != nil {
		return err
	}

	var database *db.DB
	if cfg.DatabaseURL != "" {
		database, err = db.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer database.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	// Runs before the closes deferred above: every listener and loop has
	// returned, and the verdict sink has flushed, before the pool shuts down.
	defer func() {
		cancel()
		g.Wait()
	}()

	if database != nil {
		server.Go(ctx, g, logger, "partition-loop", database.PartitionLoop)
	}

	// Verdict telemetry
	m := metrics.New()
	stats := audit.NewStats()
	ring := audit.NewRing(cfg.RecentEvents)
	hub := sse.NewHub(logger)
	var history audit.History = ring
	recorders := audit.Multi{stats, ring, m, hub}

	if cfg.Audit.File != "" {
		w := audit.NewRotatingWriter(audit.FileConfig{
			Path:       cfg.Audit.File,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		})
		defer w.Close()
		recorders = append(recorders, audit.NewLogRecorder(w))
	}
	if database != nil {
		sink := audit.NewPostgresSink(database, logger)
		server.Go(ctx, g, logger, "verdict-sink", sink.Run)
		recorders = append(recorders, sink)
		history = audit.NewStoredHistory(database)
	}
	wsManager := ws.NewManager(stats, history, logger)
	recorders = append(recorders, wsManager)

	// Rate limiting
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		store, err := newRateStore(cfg, database)
		if err != nil {
			return err
		}
		if ms, ok := store.(*ratelimit.MemoryStore); ok {
			m.WatchMemoryStore(ms)
		}
		limiter = ratelimit.New(store, ratelimit.Config{
			Window:      cfg.RateLimit.Window,
			MaxRequests: cfg.RateLimit.MaxRequests,
			FailClosed:  cfg.RateLimit.FailClosed,
		}, logger)
		server.Go(ctx, g, logger, "rate-sweeper", limiter.SweepLoop)
	}

	fw := firewall.New(firewall.Config{
		Rules:        rules,
		Limiter:      limiter,
		Bypass:       cfg.Bypass(),
		OnStoreError: func(error) { m.StoreError() },
	})

	originURL, err := url.Parse(cfg.OriginURL)
	if err != nil {
		return fmt.Errorf("origin_url: %w", err)
	}
	forwarder, err := origin.New(cfg.Forwarding, originURL, origin.Options{
		Timeout:  cfg.OriginTimeout,
		Document: cfg.SPADocument,
		Observe:  m.ObserveForward,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	edge := fw.Middleware(recorders, logger)(forwarder)

	// Admin API
	guard, err := netguard.NewGuard(cfg.AdminAllow, logger)
	if err != nil {
		return err
	}
	deps := handlers.Deps{
		Stats:   stats,
		History: history,
		Hub:     hub,
		WS:      wsManager,
		Metrics: m,
		RateLimit: handlers.RateLimitInfo{
			Enabled:       cfg.RateLimit.Enabled,
			WindowSeconds: int(cfg.RateLimit.Window.Seconds()),
			MaxRequests:   cfg.RateLimit.MaxRequests,
			FailClosed:    cfg.RateLimit.FailClosed,
			Store:         cfg.RateLimit.Store,
		},
		Guard:  guard.Middleware,
		Logger: logger,
	}
	if database != nil {
		deps.DB = database
		deps.Counts = database
	}
	admin := handlers.NewRouter(deps)

	logger.Info("edgeguard starting",
		"origin", cfg.OriginURL,
		"forwarding", cfg.Forwarding,
		"rate_limit", cfg.RateLimit.Enabled,
		"rate_store", cfg.RateLimit.Store,
		"max_requests", cfg.RateLimit.MaxRequests,
		"window", cfg.RateLimit.Window,
	)

	g.Go(func() error {
		return server.ListenAndServe(ctx, logger, "admin", server.NewHTTPServer(cfg.AdminAddr, admin))
	})

	if len(cfg.TLS.Domains) > 0 {
		cm, err := server.NewCertManager(server.TLSConfig{
			Domains: cfg.TLS.Domains,
			Email:   cfg.TLS.Email,
			Staging: cfg.TLS.Staging,
		}, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return cm.ListenAndServe(ctx, cfg.TLS.ListenAddr, edge)
		})
		g.Go(func() error {
			return server.ListenAndServe(ctx, logger, "edge", server.NewHTTPServer(cfg.ListenAddr, cm.HTTPChallengeHandler(edge)))
		})
	} else {
		g.Go(func() error {
			return server.ListenAndServe(ctx, logger, "edge", server.NewHTTPServer(cfg.ListenAddr, edge))
		})
	}

	return g.Wait()
}

func newRateStore(cfg *config.Config, database *db.DB) (ratelimit.Store, error) {
	switch cfg.RateLimit.Store {
	case config.StorePostgres:
		if database == nil {
			return nil, fmt.Errorf("postgres rate store needs database_url")
		}
		return ratelimit.NewPostgresStore(database.Pool), nil
	default:
		return ratelimit.NewMemoryStore(cfg.RateLimit.MemorySize)
	}
}
