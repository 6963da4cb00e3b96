package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mamdani-tracker/tracker/internal/config"
	"github.com/mamdani-tracker/tracker/pkg/api"
	"github.com/mamdani-tracker/tracker/pkg/auth"
	"github.com/mamdani-tracker/tracker/pkg/cleanup"
	"github.com/mamdani-tracker/tracker/pkg/edge"
	"github.com/mamdani-tracker/tracker/pkg/logging"
	"github.com/mamdani-tracker/tracker/pkg/metrics"
	"github.com/mamdani-tracker/tracker/pkg/middleware"
	"github.com/mamdani-tracker/tracker/pkg/prerender"
	"github.com/mamdani-tracker/tracker/pkg/ratelimit"
	"github.com/mamdani-tracker/tracker/pkg/retry"
	"github.com/mamdani-tracker/tracker/pkg/shutdown"
	"github.com/mamdani-tracker/tracker/pkg/sitemap"
	"github.com/mamdani-tracker/tracker/pkg/store"
	tlsutil "github.com/mamdani-tracker/tracker/pkg/tls"
	"github.com/mamdani-tracker/tracker/pkg/tracing"
	"github.com/mamdani-tracker/tracker/web"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "config file (default ./tracker.yaml or /etc/tracker/tracker.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Tracker exited with error", map[string]interface{}{"error": err.Error()})
	}
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	if cfg.Dir != "" {
		return logging.NewFileLogger(cfg.Dir, "tracker", level, cfg.JSON)
	}
	return logging.NewLogger(level, cfg.JSON), nil
}

// openStore connects to the database, retrying while it is still coming up
func openStore(ctx context.Context, db config.DatabaseConfig, logger *logging.Logger) (store.Store, error) {
	policy := retry.DefaultConfig()
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("Database not ready, retrying", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
			"wait":    wait.String(),
		})
	}

	var st store.Store
	err := retry.Do(ctx, policy, func() error {
		s, err := store.NewStore(store.Config{
			Type:            db.Type,
			DSN:             db.DSN,
			Path:            db.Path,
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
			ConnMaxIdleTime: db.ConnMaxIdleTime,
		})
		if err != nil {
			return err
		}
		if err := s.HealthCheck(); err != nil {
			s.Close()
			return err
		}
		st = s
		return nil
	})
	return st, err
}

func run(cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting Mamdani Tracker", map[string]interface{}{
		"version":   version,
		"addr":      cfg.Server.Addr,
		"database":  cfg.Database.Type,
		"prerender": cfg.Prerender.Enabled,
	})

	sm := shutdown.New(cfg.Server.ShutdownTimeout, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	sm.Register("store", shutdown.CloseResource(st, "store"))

	provider, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		return err
	}
	sm.Register("tracing", provider.Shutdown)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		if err := m.Register(metrics.NewContentCollector(st)); err != nil {
			return fmt.Errorf("failed to register content collector: %w", err)
		}
		if db, ok := st.(interface{ DB() *sql.DB }); ok {
			if err := m.Register(collectors.NewDBStatsCollector(db.DB(), cfg.Database.Type)); err != nil {
				return fmt.Errorf("failed to register db collector: %w", err)
			}
		}
	}

	keys := auth.NewAPIKeyManager()
	if cfg.Auth.APIKey != "" {
		keys.AddAPIKey(cfg.Auth.APIKey, "configured automation key")
		logger.Info("API key authentication enabled")
	}
	authSvc := auth.NewService(st, keys, cfg.Auth.SessionTTL, logger)
	if cfg.Auth.AdminEmail != "" {
		created, err := authSvc.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword)
		if err != nil {
			return fmt.Errorf("failed to bootstrap admin: %w", err)
		}
		if created {
			logger.Info("Bootstrap admin created", map[string]interface{}{"email": cfg.Auth.AdminEmail})
		}
	}

	cache := edge.NewMemoryCache(edge.CacheConfig{
		TTL:             cfg.Cache.TTL,
		MaxEntries:      cfg.Cache.MaxEntries,
		JanitorInterval: cfg.Cache.JanitorInterval,
	})
	sm.Register("prerender cache", shutdown.CloseResource(cache, "prerender cache"))

	publicLimit := ratelimit.NewLimiter(cfg.RateLimit.PublicRPS, cfg.RateLimit.PublicBurst)
	loginLimit := ratelimit.NewLimiter(cfg.RateLimit.LoginRPS, cfg.RateLimit.LoginBurst)

	janitor := cleanup.NewManager(cleanup.Config{
		Enabled:         cfg.Cleanup.Enabled,
		CleanupInterval: cfg.Cleanup.Interval,
		VacuumInterval:  cfg.Cleanup.VacuumInterval,
	}, st, logger)
	janitor.AddSweeper("public_limiters", func() int { return publicLimit.CleanupOldLimiters(cfg.Cleanup.LimiterMaxIdle) })
	janitor.AddSweeper("login_limiters", func() int { return loginLimit.CleanupOldLimiters(cfg.Cleanup.LimiterMaxIdle) })
	janitor.AddSweeper("prerender_cache", cache.DeleteExpired)
	janitor.Start()
	sm.Register("cleanup", shutdown.CloseResource(janitor, "cleanup manager"))

	apiHandler := api.NewHandler(api.Config{
		Store:        st,
		Auth:         authSvc,
		Cache:        cache,
		Metrics:      m,
		Logger:       logger,
		PublicLimit:  publicLimit,
		LoginLimit:   loginLimit,
		Version:      version,
		MaxUploadMiB: cfg.Server.MaxUploadMiB,
	})

	site, err := siteHandler(cfg, st, cache, m, logger)
	if err != nil {
		return err
	}
	if closer, ok := site.(interface{ Close() error }); ok {
		sm.Register("renderer", shutdown.CloseResource(closer, "renderer"))
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID, middleware.Recover(logger), middleware.SecurityHeaders)
	router.Use(tracing.HTTPMiddleware(provider))
	if m != nil {
		router.Use(m.Middleware)
	}
	apiHandler.RegisterRoutes(router)
	router.Handle("/sitemap.xml", sitemap.Handler(st, cfg.Site.BaseURL, logger)).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/robots.txt", sitemap.RobotsHandler(cfg.Site.BaseURL)).Methods(http.MethodGet, http.MethodHead)
	router.PathPrefix("/").Handler(site)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if cfg.TLS.Enabled {
		if cfg.TLS.GenerateCert {
			generated, err := tlsutil.EnsureSelfSigned(cfg.TLS.CertFile, cfg.TLS.KeyFile, "tracker", cfg.TLS.Hosts...)
			if err != nil {
				return fmt.Errorf("failed to generate certificate: %w", err)
			}
			if generated {
				logger.Warn("Generated self-signed certificate", map[string]interface{}{"cert": cfg.TLS.CertFile})
			}
		}
		tlsConfig, err := tlsutil.LoadServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsConfig
	}

	if m != nil && cfg.Metrics.Addr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", m.Handler())
		metricsSrv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go serve(metricsSrv, false, "metrics", logger, cancel)
		sm.Register("metrics server", shutdown.StopHTTPServer(metricsSrv, "metrics"))
		logger.Info("Metrics listening", map[string]interface{}{"addr": cfg.Metrics.Addr})
	}

	go serve(srv, cfg.TLS.Enabled, "http", logger, cancel)
	sm.Register("http server", shutdown.StopHTTPServer(srv, "http"))
	logger.Info("Tracker listening", map[string]interface{}{"addr": cfg.Server.Addr, "tls": cfg.TLS.Enabled})

	sm.Wait(ctx)
	return sm.Shutdown()
}

// siteHandler builds what answers every non-API route: the SPA, wrapped
// by the crawler edge when prerendering is on
func siteHandler(cfg *config.Config, st store.Store, cache *edge.MemoryCache, m *metrics.Metrics, logger *logging.Logger) (http.Handler, error) {
	var origin http.Handler = web.Handler(web.FS())
	if cfg.Server.Origin != "" {
		proxy, err := edge.NewProxyOrigin(cfg.Server.Origin, logger)
		if err != nil {
			return nil, fmt.Errorf("invalid server.origin: %w", err)
		}
		origin = proxy
		logger.Info("Proxying SPA", map[string]interface{}{"origin": cfg.Server.Origin})
	}
	if !cfg.Prerender.Enabled {
		return origin, nil
	}

	var renderer prerender.Renderer
	switch cfg.Prerender.Mode {
	case "browser":
		browserOrigin := cfg.Prerender.BrowserOrigin
		if browserOrigin == "" {
			browserOrigin = localOrigin(cfg)
		}
		renderer = prerender.NewBrowserRenderer(prerender.BrowserConfig{
			Origin:      browserOrigin,
			ControlURL:  cfg.Prerender.ChromeURL,
			Bin:         cfg.Prerender.ChromeBin,
			Timeout:     cfg.Prerender.RenderTimeout,
			StableAfter: cfg.Prerender.StableAfter,
			Retries:     cfg.Prerender.Retries,
		}, logger)
	default:
		r, err := prerender.NewStoreRenderer(st, prerender.SiteConfig{
			Name:        cfg.Site.Name,
			BaseURL:     cfg.Site.BaseURL,
			Description: cfg.Site.Description,
		}, logger)
		if err != nil {
			return nil, err
		}
		renderer = r
	}
	logger.Info("Prerendering enabled", map[string]interface{}{"mode": cfg.Prerender.Mode, "ttl": cfg.Cache.TTL.String()})

	return &closingHandler{
		Handler: edge.New(origin, renderer, cache, edge.Config{
			CacheTTL:      cfg.Cache.TTL,
			RenderTimeout: cfg.Prerender.RenderTimeout,
		}, m, logger),
		renderer: renderer,
	}, nil
}

// closingHandler lets shutdown release a renderer that holds a browser
type closingHandler struct {
	http.Handler
	renderer prerender.Renderer
}

func (c *closingHandler) Close() error {
	if closer, ok := c.renderer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func localOrigin(cfg *config.Config) string {
	scheme := "http"
	if cfg.TLS.Enabled {
		scheme = "https"
	}
	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return scheme + "://" + addr
}

func serve(srv *http.Server, useTLS bool, name string, logger *logging.Logger, onFail context.CancelFunc) {
	var err error
	if useTLS {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", map[string]interface{}{"server": name, "error": err.Error()})
		onFail()
	}
}
