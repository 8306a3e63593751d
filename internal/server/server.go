package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/config"
	"github.com/farellandr/gigboard/internal/audit"
	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/capacity"
	"github.com/farellandr/gigboard/internal/handlers"
	"github.com/farellandr/gigboard/internal/logger"
	"github.com/farellandr/gigboard/internal/middleware"
	"github.com/farellandr/gigboard/internal/notify"
	"github.com/farellandr/gigboard/internal/occurrence"
)

const shutdownTimeout = 30 * time.Second

// Start wires the application from configuration and serves until SIGINT or
// SIGTERM.
func Start() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	log, err := logger.Init(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer log.Sync()

	db, err := config.InitDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %v", err)
	}

	region, err := calendar.NewRegion(cfg.Region, nil)
	if err != nil {
		return err
	}

	var publisher notify.Publisher = notify.LogPublisher{}
	if cfg.RedisURL != "" {
		redisPublisher, err := notify.NewRedisPublisher(context.Background(), cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %v", err)
		}
		defer redisPublisher.Close()
		publisher = redisPublisher
		log.Info("publishing occurrence changes to redis", zap.String("channel", cfg.RedisChannel))
	}

	deps := NewServices(db, region, cfg, publisher)

	auditCron, err := audit.Schedule(audit.NewAuditor(db, deps.Occurrences, cfg.OverrideBufferDays), cfg.AuditCron, region.Location())
	if err != nil {
		return err
	}
	defer auditCron.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewHandler(cfg, db, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting gigboard", zap.String("address", srv.Addr), zap.String("region", cfg.Region))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}
	return nil
}

// NewServices builds the occurrence pipeline and the capacity controller.
func NewServices(db *gorm.DB, region *calendar.Region, cfg *config.Config, publisher notify.Publisher) middleware.Services {
	svc := occurrence.NewService(db, region, occurrence.Config{
		DisplayDays:        cfg.DisplayDays,
		OverrideBufferDays: cfg.OverrideBufferDays,
		Cap:                cfg.OccurrenceCap,
	})
	ctrl := capacity.NewController(db, svc, region, capacity.Options{
		LockTimeout: cfg.LockTimeout,
		Publisher:   publisher,
	})
	return middleware.Services{Occurrences: svc, Capacity: ctrl, Publisher: publisher}
}

// NewHandler returns the gin engine wrapped in CORS handling.
func NewHandler(cfg *config.Config, db *gorm.DB, deps middleware.Services) http.Handler {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Recovery())
	setupRoutes(r, cfg, db, deps)

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
	}).Handler(r)
}

func setupRoutes(r *gin.Engine, cfg *config.Config, db *gorm.DB, deps middleware.Services) {
	r.Use(middleware.DatabaseMiddleware(db))
	r.Use(middleware.ServicesMiddleware(deps))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := r.Group("/v1")
	public.Use(middleware.OptionalAuth(cfg.JWTSecret))
	{
		public.GET("/occurrences", handlers.ListOccurrences)
		public.GET("/occurrences.ics", handlers.ExportOccurrences)
		public.GET("/categories", handlers.ListCategories)

		eventPublic := public.Group("/events")
		{
			eventPublic.GET("", handlers.ListEvents)
			eventPublic.GET("/:id", handlers.GetEvent)
			eventPublic.GET("/:id/occurrences/:date", handlers.GetOccurrence)
			eventPublic.GET("/:id/occurrences/:date/count", handlers.GetOccurrenceCount)
			eventPublic.POST("/:id/occurrences/:date/signups", handlers.CreateSignup)
		}

		public.DELETE("/signups/:id", handlers.CancelSignup)
	}

	protected := r.Group("/v1")
	protected.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	{
		eventProtected := protected.Group("/events")
		{
			eventProtected.POST("", handlers.CreateEvent)
			eventProtected.PUT("/:id", handlers.UpdateEvent)
			eventProtected.DELETE("/:id", handlers.DeleteEvent)
			eventProtected.PUT("/:id/occurrences/:date/override", handlers.SaveOverride)
			eventProtected.DELETE("/:id/occurrences/:date/override", handlers.DeleteOverride)
			eventProtected.GET("/:id/occurrences/:date/signups", handlers.ListSignups)
		}

		protected.GET("/me/signups", handlers.GetMySignups)

		categoryAdmin := protected.Group("/categories")
		categoryAdmin.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			categoryAdmin.POST("", handlers.CreateCategory)
			categoryAdmin.PUT("/:id", handlers.UpdateCategory)
			categoryAdmin.DELETE("/:id", handlers.DeleteCategory)
		}
	}
}
