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

	"codoc/internal/api"
	"codoc/internal/config"
	"codoc/internal/db"
	"codoc/internal/repository"
	"codoc/internal/services"
	"codoc/internal/services/collaboration"
	"codoc/internal/telemetry"

	"github.com/redis/go-redis/v9"
)

const version = "1.0.0"

func main() {
	log.Println("🚀 Starting codoc collaboration server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing first so that everything below is traced
	jaegerShutdown, err := telemetry.InitJaeger("codoc", version, cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Initialize GORM database
	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Initialize repositories
	docRepo := repository.NewDocumentRepository(database.DB)
	userRepo := repository.NewUserRepository(database.DB)

	authService := services.NewAuthService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	accessGate := services.NewAccessGate(docRepo)

	// Optional cross-process relay
	var backplane collaboration.Backplane
	if cfg.BackplaneEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}

		rb := collaboration.NewRedisBackplane(rdb, cfg.RedisChannelPrefix)
		backplane = rb
		log.Printf("✓ Redis backplane connected: %s (instance %s)", cfg.RedisAddr, rb.InstanceID())
	}

	// Session manager owns every live connection of this process
	sessionManager := collaboration.NewSessionManager(collaboration.ManagerConfig{
		DebounceWindow:  cfg.DebounceWindow,
		StoreTimeout:    cfg.StoreTimeout,
		SendBuffer:      cfg.SendBuffer,
		IdleTimeout:     cfg.IdleTimeout,
		FlushOnShutdown: cfg.FlushOnShutdown,
	}, accessGate, docRepo, backplane)
	sessionManager.Start()

	wsHandler := collaboration.NewWebSocketHandler(sessionManager, cfg.AllowedOrigins)

	// Initialize handlers with dependency injection
	handler := api.NewHandler(docRepo, userRepo, authService, sessionManager, wsHandler)

	// Setup routes
	router := api.SetupRoutes(handler, authService, cfg.AllowedOrigins)

	// Configure HTTP server. No write timeout: upgraded websockets manage their own deadlines.
	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("   POST   /signup, /login")
		log.Printf("   GET    /api/documents[?kind=doc|code]")
		log.Printf("   POST   /api/documents")
		log.Printf("   GET    /api/documents/:id          - Latest snapshot")
		log.Printf("   PUT    /api/documents/:id          - Explicit save")
		log.Printf("   *      /api/documents/:id/editors  - Sharing")
		log.Printf("   GET    /ws?token=...               - Collaboration socket")
		log.Printf("   Debounce window %s, flush on shutdown %t", cfg.DebounceWindow, cfg.FlushOnShutdown)
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new connections and requests; hijacked sockets are left to the manager
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Closes every socket, then flushes or drops pending writes and closes the backplane
	sessionManager.Shutdown(ctx)

	log.Println("✓ Server shutdown complete")
}
