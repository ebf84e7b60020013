package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-board/backend/internal/broadcast"
	"collab-board/backend/internal/cache"
	"collab-board/backend/internal/config"
	"collab-board/backend/internal/database"
	"collab-board/backend/internal/handlers"
	"collab-board/backend/internal/middleware"
	"collab-board/backend/internal/monitoring"
	"collab-board/backend/internal/repositories"
	"collab-board/backend/internal/services"
	"collab-board/backend/internal/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Application holds all application dependencies and state
type Application struct {
	Config *config.Config
	Pool   *database.DatabasePool
	Store  repositories.Store
	Redis  *redis.Client
	Cache  cache.Cache
	Hub    *broadcast.Broadcaster
	Relay  *broadcast.RedisRelay
	Router *gin.Engine
	Server *http.Server

	// Services
	TaskService     services.TaskService
	AuthService     services.AuthService
	RegisterService services.RegisterService

	stop context.CancelFunc
}

func main() {
	if err := godotenv.Load(utils.GetEnv("ENV_FILE", ".env")); err != nil {
		log.Println("ℹ️  No .env file found, using environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize application: %v", err)
	}

	app.setupRoutes()
	app.startServer()
}

func initializeApplication(cfg *config.Config) (*Application, error) {
	ctx, stop := context.WithCancel(context.Background())
	app := &Application{
		Config: cfg,
		stop:   stop,
	}

	log.Println("🚀 Initializing Collaborative Board Backend...")
	log.Printf("📋 Environment: %s", cfg.Server.Environment)

	if err := app.initStore(); err != nil {
		stop()
		return nil, err
	}
	app.initRedis()

	origin := "board-" + uuid.Must(uuid.NewV4()).String()
	if host, err := os.Hostname(); err == nil {
		origin = host + "/" + origin
	}
	app.Hub = broadcast.NewBroadcaster(nil, origin)

	if app.Redis != nil {
		app.Relay = broadcast.NewRedisRelay(app.Redis, cfg.Broadcast.RelayChannel, cfg.Broadcast.RelayBuffer)
		if err := app.Relay.Start(ctx, app.Hub); err != nil {
			log.Printf("⚠️  Event relay unavailable: %v (broadcasting to local observers only)", err)
			app.Relay = nil
		} else {
			app.Hub.SetRelay(app.Relay)
		}
	}

	var l2 cache.Cache
	if app.Redis != nil {
		l2 = cache.NewRedisCache(app.Redis, "board:")
		log.Println("✅ Multi-level cache initialized (Memory L1 + Redis L2)")
	} else {
		log.Println("✅ Memory cache initialized (no shared L2)")
	}
	app.Cache = cache.NewMultiLevelCache(l2, cfg.Cache.BoardTTL)

	// Initialize Services
	taskService := services.NewTaskService(app.Store, app.Hub)
	cachedTasks := services.NewCachedTaskService(taskService, app.Cache, cfg.Cache.BoardTTL)
	app.Hub.Attach(cachedTasks)
	go cachedTasks.Run(ctx)
	app.TaskService = cachedTasks

	app.AuthService = services.NewAuthService(app.Store, cfg.Auth)
	app.RegisterService = services.NewRegisterService(app.Store)

	log.Println("✅ All services initialized")

	return app, nil
}

func (app *Application) initStore() error {
	cfg := app.Config
	if cfg.Database.Driver == config.DriverMemory {
		app.Store = repositories.NewMemoryStore()
		log.Println("✅ In-memory task store initialized")
		return nil
	}

	pool, err := database.NewDatabasePool(database.NewPoolConfig(cfg))
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	app.Pool = pool
	log.Println("✅ Database connected and configured")

	// Run database migrations automatically
	migrations := &repositories.MigrationConfig{
		MigrationsPath: cfg.Database.MigrationsPath,
		DBName:         cfg.Database.Name,
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
	}
	if err := repositories.RunMigrations(pool.DB, migrations); err != nil {
		pool.Close()
		return fmt.Errorf("database migration failed: %w", err)
	}

	app.Store = repositories.NewGormStore(pool.DB)
	return nil
}

func (app *Application) initRedis() {
	cfg := app.Config
	if !cfg.Redis.Enabled {
		log.Println("ℹ️  Redis disabled, running as a single instance")
		return
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  Redis unavailable: %v (continuing with memory cache only)", err)
		redisClient.Close()
		return
	}
	app.Redis = redisClient
	log.Println("✅ Redis connected")
}

func (app *Application) setupRoutes() {
	r := gin.New()

	// Global middleware stack (order matters!)
	r.Use(middleware.AccessLogger(gin.DefaultWriter))
	r.Use(gin.Recovery())
	r.Use(monitoring.MetricsMiddleware())
	r.Use(middleware.RecoveryWithLog())
	r.Use(middleware.SecureHeader())

	// Rate limiting
	rateLimit := rate.Limit(float64(app.Config.RateLimit.RequestsPerMin) / 60.0)
	r.Use(middleware.RateLimiter(rateLimit, app.Config.RateLimit.BurstSize))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     app.Config.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health and monitoring endpoints (no auth required)
	r.GET("/health", app.healthHandler())
	r.GET("/ready", app.readinessHandler())
	r.GET("/metrics", monitoring.MetricsHandler())

	v1 := r.Group("/api/v1")

	authHandler := handlers.NewAuthHandler(app.AuthService)
	registrationHandler := handlers.NewRegisterHandler(app.RegisterService)

	// Public authentication routes (no auth required)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registrationHandler.Registration)
		authRoutes.POST("/login", authHandler.Token)
		authRoutes.POST("/refresh", authHandler.Refresh)
		authRoutes.POST("/logout", authHandler.Logout)
	}

	secret := app.Config.Auth.JWTSecret

	// Browsers cannot set headers on a WebSocket handshake.
	eventsHandler := handlers.NewEventsHandler(app.Hub, app.TaskService, handlers.EventsConfig{
		QueueSize:      app.Config.Broadcast.QueueSize,
		PingInterval:   app.Config.Broadcast.PingInterval,
		AllowedOrigins: app.Config.Server.AllowedOrigins,
	})
	v1.GET("/ws", middleware.AuthzMiddleware(middleware.AuthzConfig{Secret: secret, AllowQueryToken: true}), eventsHandler.Stream)

	// Protected routes (require authentication)
	protected := v1.Group("")
	protected.Use(middleware.AuthzMiddleware(middleware.AuthzConfig{Secret: secret}))
	{
		writeLimit := app.writeLimiter()

		taskHandler := handlers.NewTaskHandler(app.TaskService)
		taskRoutes := protected.Group("/tasks")
		{
			taskRoutes.GET("", taskHandler.GetTasks)
			taskRoutes.GET("/:id", taskHandler.GetTaskByID)
			taskRoutes.POST("", writeLimit, taskHandler.CreateTask)
			taskRoutes.PUT("/:id", writeLimit, taskHandler.UpdateTask)
			taskRoutes.DELETE("/:id", writeLimit, taskHandler.DeleteTask)
			taskRoutes.POST("/:id/resolve-conflict", writeLimit, taskHandler.ResolveConflict)
			taskRoutes.POST("/:id/smart-assign", writeLimit, taskHandler.SmartAssign)
		}

		boardHandler := handlers.NewBoardHandler(app.TaskService)
		protected.GET("/users", boardHandler.GetUsers)
		protected.GET("/actions", boardHandler.GetActions)
	}

	app.Router = r
}

// writeLimiter caps mutations per user across all instances when Redis is
// available. Without Redis the per-IP limiter is the only limit.
func (app *Application) writeLimiter() gin.HandlerFunc {
	if app.Redis == nil {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := middleware.NewDistributedRateLimiter(app.Redis)
	return limiter.PerUser(middleware.TaskWritesLimit, app.Config.RateLimit.RequestsPerMin, time.Minute)
}

func (app *Application) startServer() {
	addr := app.Config.GetServerAddr()

	app.Server = &http.Server{
		Addr:         addr,
		Handler:      app.Router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("🛑 Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancel()

		if err := app.Server.Shutdown(ctx); err != nil {
			log.Printf("❌ Server forced to shutdown: %v", err)
		}

		app.cleanup()
		log.Println("✅ Server stopped gracefully")
	}()

	log.Printf("🚀 Server starting on %s", addr)
	log.Printf("📊 Metrics available at http://%s/metrics", addr)
	log.Printf("💚 Health check at http://%s/health", addr)

	if err := app.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("❌ Server failed to start: %v", err)
	}
	<-done
}

func (app *Application) cleanup() {
	log.Println("🧹 Cleaning up resources...")

	app.stop()

	if app.Relay != nil {
		app.Relay.Stop()
	}

	if app.Cache != nil {
		if err := app.Cache.Close(); err != nil {
			log.Printf("⚠️  Error closing cache: %v", err)
		}
	}

	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			log.Printf("⚠️  Error closing Redis: %v", err)
		}
	}

	if app.Pool != nil {
		if err := app.Pool.Close(); err != nil {
			log.Printf("⚠️  Error closing database: %v", err)
		}
	}

	log.Println("✅ Cleanup complete")
}

func (app *Application) healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"service":   "collab-board-backend",
			"instance":  app.Hub.Origin(),
			"observers": app.Hub.ObserverCount(),
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := app.Store.Ping(ctx); err != nil {
			health["status"] = "unhealthy"
			health["database"] = "down"
			c.JSON(http.StatusServiceUnavailable, health)
			return
		}
		health["database"] = "up"
		if app.Pool != nil {
			if stats, err := app.Pool.Stats(); err == nil {
				health["database_pool"] = stats
				if stats.Saturated {
					health["status"] = "degraded"
				}
			}
		}

		if app.Redis != nil {
			if err := app.Redis.Ping(ctx).Err(); err != nil {
				health["redis"] = "down"
			} else {
				health["redis"] = "up"
			}
		}
		cacheHealth := "up"
		if err := app.Cache.Health(); err != nil {
			cacheHealth = "degraded"
		}
		health["cache"] = gin.H{"status": cacheHealth, "stats": app.Cache.Stats()}

		c.JSON(http.StatusOK, health)
	}
}

func (app *Application) readinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := app.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"reason": "database not ready",
			})
			return
		}

		if app.Pool != nil {
			version, dirty, err := repositories.SchemaVersion(ctx, app.Pool.DB)
			if err != nil || dirty {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"reason": "schema not migrated",
				})
				return
			}
			c.JSON(http.StatusOK, gin.H{"ready": true, "schema_version": version})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ready": true,
		})
	}
}
