package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/auth"
	"github.com/strefethen/hotel-hub-go/internal/cache"
	"github.com/strefethen/hotel-hub-go/internal/config"
	"github.com/strefethen/hotel-hub-go/internal/content"
	"github.com/strefethen/hotel-hub-go/internal/db"
	"github.com/strefethen/hotel-hub-go/internal/devices"
	"github.com/strefethen/hotel-hub-go/internal/devicesync"
	"github.com/strefethen/hotel-hub-go/internal/guests"
	"github.com/strefethen/hotel-hub-go/internal/logging"
	"github.com/strefethen/hotel-hub-go/internal/metrics"
	"github.com/strefethen/hotel-hub-go/internal/notifications"
	"github.com/strefethen/hotel-hub-go/internal/openapi"
	"github.com/strefethen/hotel-hub-go/internal/pms"
	"github.com/strefethen/hotel-hub-go/internal/realtime"
	"github.com/strefethen/hotel-hub-go/internal/scheduler"
	"github.com/strefethen/hotel-hub-go/internal/settings"
	"github.com/strefethen/hotel-hub-go/internal/system"
)

// Options controls server wiring.
type Options struct {
	Logger *zap.Logger
	// Cache replaces the backend selected by configuration. The caller keeps ownership.
	Cache cache.Cache
	// DisableScheduler leaves recurring tasks registered but not running (for tests).
	DisableScheduler bool
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	logger := logging.OrNop(options.Logger)
	ctx := context.Background()

	logger.Info("using database", zap.String("path", cfg.SQLiteDBPath))
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	store := options.Cache
	ownsCache := false
	if store == nil {
		store, err = newCache(ctx, cfg)
		if err != nil {
			dbPair.Close()
			return nil, nil, err
		}
		ownsCache = true
	}
	fail := func(err error) (http.Handler, func(context.Context) error, error) {
		if ownsCache {
			store.Close()
		}
		dbPair.Close()
		return nil, nil, err
	}
	logger.Info("cache ready", zap.String("backend", cfg.CacheBackend), zap.Bool("injected", !ownsCache))

	hub := realtime.NewHub(realtime.Options{
		PingInterval: seconds(cfg.WSPingIntervalSeconds),
	}, logger.Named("realtime"))

	// Admin identity
	adminStore := auth.NewAdminStore(dbPair)
	authService := auth.NewService(cfg, adminStore, logger.Named("auth"))
	if err := authService.EnsureBootstrapAdmin(ctx); err != nil {
		return fail(err)
	}

	// Domain services
	settingsService := settings.NewService(dbPair, logger.Named("settings"))
	deviceRepo := devices.NewRepository(dbPair)
	deviceService := devices.NewService(deviceRepo, hub, logger.Named("devices"), seconds(cfg.DeviceOnlineThresholdSeconds))
	engine := notifications.NewEngine(notifications.NewRepository(dbPair), deviceRepo, settingsService, hub, logger.Named("notifications"))
	guestRepo := guests.NewRepository(dbPair)

	pmsService := pms.NewService(pms.Deps{
		Client: pms.NewHTTPClient(pms.ClientOptions{
			Timeout:    time.Duration(cfg.PMSTimeoutMs) * time.Millisecond,
			RetryCount: cfg.PMSRetryCount,
		}, logger.Named("pms.client")),
		Cache:       store,
		Rooms:       deviceRepo,
		Store:       guestRepo,
		Processor:   engine,
		Settings:    settingsService,
		Broadcaster: hub,
		Logger:      logger.Named("pms"),
		CacheTTL:    seconds(cfg.PMSCacheTTLSeconds),
	})
	if err := pmsService.LoadConfiguration(ctx); err != nil {
		logger.Warn("PMS configuration not loaded", zap.Error(err))
	}
	settingsService.OnPMSChange(pmsService.UpdateConfiguration)

	syncService := devicesync.NewService(devicesync.Deps{
		Devices:  deviceService,
		Engine:   engine,
		Guests:   guestRepo,
		Content:  content.NewRepository(dbPair),
		Settings: settingsService,
		Cache:    store,
		CacheTTL: seconds(cfg.SyncCacheTTLSeconds),
		Logger:   logger.Named("devicesync"),
	})

	schedulerService := scheduler.NewService(logger.Named("scheduler"))
	systemService := system.NewService(system.Deps{
		DB:          dbPair,
		Cache:       store,
		PMS:         pmsService,
		Scheduler:   schedulerService,
		Realtime:    hub,
		Devices:     deviceService,
		Broadcaster: hub,
		Logger:      logger.Named("system"),
	})
	for _, task := range scheduler.HubTasks(scheduler.TaskDeps{
		PMS:           pmsService,
		Notifications: engine,
		Devices:       deviceService,
		Health:        systemService,
		Logger:        logger.Named("tasks"),
	}) {
		if err := schedulerService.Register(task); err != nil {
			return fail(err)
		}
	}

	// Routing
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RequestLoggerMiddleware(logger.Named("http")))
	router.Use(api.RecovererMiddleware(logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "x-test-mode"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	router.Use(auth.Middleware(cfg, adminStore))

	system.RegisterHealthRoutes(router, systemService)
	openapi.RegisterRoutes(router)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	auth.RegisterRoutes(router, authService, cfg)
	devicesync.RegisterRoutes(router, syncService, cfg.DeviceRateLimitPerMinute, logger.Named("devicesync"))
	devicesync.RegisterAdminRoutes(router, syncService)
	devices.RegisterRoutes(router, deviceService)
	notifications.RegisterRoutes(router, engine)
	pms.RegisterRoutes(router, pmsService)
	settings.RegisterRoutes(router, settingsService)
	scheduler.RegisterRoutes(router, schedulerService)
	system.RegisterRoutes(router, systemService)
	realtime.RegisterRoutes(router, hub, func(ctx context.Context, token string) (auth.User, error) {
		return auth.Authenticate(ctx, cfg, adminStore, token)
	})

	hub.Start()
	if !options.DisableScheduler {
		schedulerService.Start()
	}

	shutdown := func(ctx context.Context) error {
		if schedulerService.IsRunning() {
			schedulerService.Stop()
		}
		hub.Close()

		var result *multierror.Error
		if ownsCache {
			if err := store.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close cache: %w", err))
			}
		}
		if err := dbPair.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close database: %w", err))
		}
		logger.Info("hub stopped")
		return result.ErrorOrNil()
	}

	return router, shutdown, nil
}

func newCache(ctx context.Context, cfg config.Config) (cache.Cache, error) {
	if cfg.CacheBackend != "redis" {
		return cache.NewMemoryCache(), nil
	}
	redisCache, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   "hotel-hub:",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return redisCache, nil
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}
