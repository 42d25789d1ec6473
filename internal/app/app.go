package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
	"github.com/yungbote/adaptivity-backend/internal/clients/lrs"
	redisclient "github.com/yungbote/adaptivity-backend/internal/clients/redis"
	"github.com/yungbote/adaptivity-backend/internal/db"
	"github.com/yungbote/adaptivity-backend/internal/handlers"
	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/middleware"
	"github.com/yungbote/adaptivity-backend/internal/observability"
	"github.com/yungbote/adaptivity-backend/internal/repos"
	"github.com/yungbote/adaptivity-backend/internal/server"
	"github.com/yungbote/adaptivity-backend/internal/services"
)

type App struct {
	Log          *logger.Logger
	DB           *gorm.DB
	Router       *gin.Engine
	Cfg          Config
	SyncWorker   *services.SignalSyncWorker
	otelShutdown func(context.Context) error
	cache        *redisclient.SessionCache
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "adaptivity-backend",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("database automigrate: %w", err)
	}
	theDB := pg.DB()

	// Repos
	userRepo := repos.NewUserRepo(theDB, log)
	sessionRepo := repos.NewSessionRepo(theDB, log)
	signalRepo := repos.NewSignalRepo(theDB, log)

	// Clients
	cache, err := redisclient.NewSessionCache(log)
	if err != nil {
		log.Warn("Session cache init failed, continuing without cache", "error", err)
		cache = nil
	}
	lrsClient, err := lrs.NewClient(log)
	if err != nil {
		log.Warn("LRS client init failed, signal sync disabled", "error", err)
		lrsClient = nil
	}
	converter := lrs.NewStatementConverter(cfg.LRSBaseIRI, cfg.LRSPlatform)

	// Services
	catalog, err := services.NewCatalogService(cfg.CatalogPath, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	engine := adaptivity.NewEngine()
	factory := adaptivity.NewSignalFactory()
	stateService := services.NewSessionStateService(sessionRepo, userRepo, cache, catalog, log)
	selectionService := services.NewSelectionService(engine, factory, catalog, stateService, signalRepo, log)
	telemetryService := services.NewTelemetryService(factory, stateService, signalRepo, func() int64 { return time.Now().UnixMilli() }, log)
	authService := services.NewAuthService(theDB, log, userRepo, cfg.JWTSecretKey, cfg.AccessTokenTTL)
	syncWorker := services.NewSignalSyncWorker(signalRepo, sessionRepo, lrsClient, converter, log)

	// HTTP surface
	authHandler := handlers.NewAuthHandler(authService)
	selectionHandler := handlers.NewSelectionHandler(log, selectionService)
	telemetryHandler := handlers.NewTelemetryHandler(log, telemetryService)
	sessionHandler := handlers.NewSessionHandler(log, stateService)
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	router := server.NewRouter(server.RouterConfig{
		AllowedOrigins:   server.SplitOrigins(cfg.AllowedOrigins),
		AuthHandler:      authHandler,
		AuthMiddleware:   authMiddleware,
		SelectionHandler: selectionHandler,
		TelemetryHandler: telemetryHandler,
		SessionHandler:   sessionHandler,
	})

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		SyncWorker:   syncWorker,
		otelShutdown: otelShutdown,
		cache:        cache,
	}, nil
}

// Run serves HTTP and the signal sync worker until ctx is canceled, then
// shuts both down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + a.Cfg.Port,
		Handler: a.Router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("Server listening", "port", a.Cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := a.SyncWorker.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		a.SyncWorker.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.Log.Warn("Closing session cache failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("OTel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
