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

	"github.com/bissquit/authkeeper/internal/config"
	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/identity"
	"github.com/bissquit/authkeeper/internal/identity/jwt"
	identitypostgres "github.com/bissquit/authkeeper/internal/identity/postgres"
	identityredis "github.com/bissquit/authkeeper/internal/identity/redis"
	"github.com/bissquit/authkeeper/internal/pkg/ctxlog"
	"github.com/bissquit/authkeeper/internal/pkg/httputil"
	"github.com/bissquit/authkeeper/internal/pkg/metrics"
	"github.com/bissquit/authkeeper/internal/pkg/password"
	"github.com/bissquit/authkeeper/internal/pkg/postgres"
	"github.com/bissquit/authkeeper/internal/roles"
	rolespostgres "github.com/bissquit/authkeeper/internal/roles/postgres"
	"github.com/bissquit/authkeeper/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *goredis.Client
	redisStore    *identityredis.Store
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := NewLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	app := &App{
		config: cfg,
		logger: logger,
		db:     db,
	}

	if cfg.RefreshTokens.Backend == config.BackendRedis {
		app.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.redisStore = identityredis.NewStore(app.redis, cfg.Redis.KeyPrefix)
		if err := app.redisStore.Ping(connectCtx); err != nil {
			_ = app.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	router, err := app.setupRouter()
	if err != nil {
		_ = app.close()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app.metricsCancel = metricsCancel
	go app.collectDBMetrics(metricsCtx)

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

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"refresh_token_backend", a.config.RefreshTokens.Backend,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if err := a.close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) close() error {
	a.db.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			return fmt.Errorf("close redis: %w", err)
		}
	}
	return nil
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// refreshTokenStore picks the configured refresh token backend.
func (a *App) refreshTokenStore(users *identitypostgres.Repository) identity.RefreshTokenStore {
	if a.redisStore != nil {
		return a.redisStore
	}
	return users
}

func (a *App) setupRouter() (*chi.Mux, error) {
	codec, err := jwt.NewCodec(jwt.Config{
		Secret:         a.config.JWT.Secret,
		AccessTokenTTL: a.config.JWT.AccessTokenTTL(),
		Issuer:         a.config.JWT.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("create token codec: %w", err)
	}

	identityRepo := identitypostgres.NewRepository(a.db)
	refreshTokens := identity.NewRefreshTokenManager(
		identityRepo,
		a.refreshTokenStore(identityRepo),
		a.config.JWT.RefreshTokenTTL(),
	)
	identityService := identity.NewService(identityRepo, codec, refreshTokens, password.NewBcryptHasher(0))
	identityHandler := identity.NewHandler(identityService, identity.CookieSettings{
		AccessName:  a.config.Cookie.AccessName,
		RefreshName: a.config.Cookie.RefreshName,
		MaxAge:      a.config.Cookie.MaxAge,
		Secure:      a.config.Cookie.Secure,
		Domain:      a.config.Cookie.Domain,
	})

	rolesService := roles.NewService(rolespostgres.NewRepository(a.db))
	rolesHandler := roles.NewHandler(rolesService)

	limiter := httputil.NewRateLimiter(a.config.RateLimit.RequestsPerSecond, a.config.RateLimit.Burst)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.PeerAddr)
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(httputil.AuthMiddleware(identityService, a.config.Cookie.AccessName))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	identityHandler.RegisterRoutes(r, limiter.Middleware)

	r.Group(func(r chi.Router) {
		r.Use(httputil.RequireAuthenticated)
		rolesHandler.RegisterRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(httputil.RequireAuthority(domain.RoleAdmin))
		rolesHandler.RegisterAdminRoutes(r)
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "dependency", "postgres", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	if a.redisStore != nil {
		if err := a.redisStore.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "dependency", "redis", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Info())
}

// NewLogger builds the root logger from the log settings.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
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
