// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/shelfsync/internal/config"
	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/identity"
	"github.com/bissquit/shelfsync/internal/identity/jwt"
	"github.com/bissquit/shelfsync/internal/inventory"
	"github.com/bissquit/shelfsync/internal/pkg/ctxlog"
	"github.com/bissquit/shelfsync/internal/pkg/httputil"
	"github.com/bissquit/shelfsync/internal/replication"
	"github.com/bissquit/shelfsync/internal/replication/remote"
	"github.com/bissquit/shelfsync/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	storage       *storage
	server        *http.Server
	metricsServer *http.Server

	// ctx outlives requests: the dispatch loop and metric collectors run on it.
	ctx    context.Context
	cancel context.CancelFunc

	identityService *identity.Service
	dispatcher      *replication.Dispatcher
}

// New creates a new application instance. Nothing is started until Run.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	store, err := openStorage(connectCtx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		config:  cfg,
		logger:  logger,
		storage: store,
		ctx:     ctx,
		cancel:  cancel,
	}

	router, err := app.setupRouter()
	if err != nil {
		cancel()
		_ = store.close()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	go app.collectDBMetrics(ctx)
	go app.collectQueueMetrics(ctx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the dispatch loop, if sync is enabled, and the HTTP servers.
func (a *App) Run() error {
	if a.config.Sync.Enabled {
		a.dispatcher.Start(a.ctx)
	} else {
		a.logger.Warn("sync is disabled: queued operations stay local until started over the API")
	}

	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"driver", a.config.Database.Driver,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Dispatcher stops before the store closes.
	a.dispatcher.Stop()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Close stops background work and closes the database. It is enough for
// commands that never call Run.
func (a *App) Close() error {
	a.cancel()
	a.dispatcher.Stop()

	if err := a.storage.close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	a.storage.recordMetrics()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.storage.recordMetrics()
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pending, err := a.storage.queue.CountPending(ctx)
			if err != nil {
				a.logger.Error("failed to count pending entries", "error", err)
				continue
			}
			dead, err := a.storage.queue.CountDeadLetters(ctx)
			if err != nil {
				a.logger.Error("failed to count dead letters", "error", err)
				continue
			}
			replication.RecordQueueStats(pending, dead)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Dispatcher returns the replication dispatcher.
func (a *App) Dispatcher() *replication.Dispatcher {
	return a.dispatcher
}

// IdentityService returns the identity service, used to bootstrap accounts.
func (a *App) IdentityService() *identity.Service {
	return a.identityService
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>ShelfSync API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	jwtAuth, err := jwt.NewAuthenticator(jwt.Config{
		SecretKey:           a.config.JWT.SecretKey,
		Issuer:              a.config.JWT.Issuer,
		AccessTokenDuration: a.config.JWT.AccessTokenDuration,
		ReplayTokenDuration: a.config.JWT.ReplayTokenDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	a.identityService = identity.NewService(a.storage.identity, jwtAuth)
	identityHandler := identity.NewHandler(a.identityService)

	inventoryService := inventory.NewService(a.storage.inventory)
	inventoryHandler := inventory.NewHandler(inventoryService)

	a.dispatcher = replication.NewDispatcher(
		replication.Config{
			Interval:       a.config.Sync.Interval,
			MaxRetries:     a.config.Sync.MaxRetries,
			RequestTimeout: a.config.Sync.RequestTimeout,
			RateLimit:      a.config.Sync.RateLimit,
			Burst:          a.config.Sync.Burst,
		},
		a.storage.queue,
		remote.NewClient(remote.Config{
			BaseURL: a.config.Sync.BaseURL,
			Timeout: a.config.Sync.RequestTimeout,
		}),
		remote.NewProber(a.config.Sync.BaseURL, a.config.Sync.HealthPath, a.config.Sync.ProbeTimeout),
		inventory.NewReconciler(a.storage.inventory),
		replication.WithCredentials(jwtAuth),
	)
	syncHandler := replication.NewHandler(a.ctx, a.dispatcher)

	slog.Info("sync configured",
		"enabled", a.config.Sync.Enabled,
		"base_url", a.config.Sync.BaseURL,
		"interval", a.config.Sync.Interval,
		"max_retries", a.config.Sync.MaxRetries,
	)

	r.Route("/api/v1", func(r chi.Router) {
		identityHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(a.identityService))

			identityHandler.RegisterProtectedRoutes(r)
			inventoryHandler.RegisterRoutes(r)
			syncHandler.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				identityHandler.RegisterAdminRoutes(r)
				syncHandler.RegisterAdminRoutes(r)
			})
		})
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.storage.ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
