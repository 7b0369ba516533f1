package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"focustown/backend/internal/bridge"
	"focustown/backend/internal/config"
	"focustown/backend/internal/db"
	"focustown/backend/internal/engine"
	"focustown/backend/internal/groupstore"
	"focustown/backend/internal/handler"
	"focustown/backend/internal/repository"
	"focustown/backend/internal/router"
	"focustown/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	if _, err := db.RunMigrations(database, cfg.MigrationsDir); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	groups, closeGroups := openGroupStore(cfg)
	defer closeGroups()

	userRepo := repository.NewUserRepository(database)
	settingsRepo := repository.NewSettingsRepository(database)
	ledgerRepo := repository.NewFocusSessionRepository(database)

	var sessionService *service.SessionService
	hub := bridge.NewHub(func(userID string, ev engine.Event) {
		sessionService.HandleEngineEvent(userID, ev)
	})

	authService := service.NewAuthService(userRepo, settingsRepo, cfg.JWTSecret, cfg.TokenTTL)
	sessionService = service.NewSessionService(userRepo, settingsRepo, ledgerRepo, groups, hub, service.SessionOptions{
		CoinsPerMinute:      cfg.CoinsPerMinute,
		TickInterval:        cfg.TickInterval,
		DefaultFocusMinutes: cfg.DefaultFocusMinutes,
		DefaultBreakMinutes: cfg.DefaultBreakMinutes,
	})
	groupService := service.NewGroupService(groups, sessionService)

	routes := router.New(authService, router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Session: handler.NewSessionHandler(sessionService),
		Group:   handler.NewGroupHandler(groupService),
		Engine:  handler.NewEngineHandler(sessionService, hub),
	}, cfg.CORSOrigins)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: routes,
	}

	go func() {
		log.Printf("backend listening on :%s (group store: %s)", cfg.Port, cfg.GroupStore)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("run server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}

	// Group loops clear this server's participant state on the way out.
	sessionService.Close()
	log.Println("server exited")
}

func openGroupStore(cfg config.Config) (groupstore.Store, func()) {
	if cfg.GroupStore != "redis" {
		return groupstore.NewMemoryStore(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: "",
		DB:       0,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("connect redis at %s: %v", cfg.RedisAddr, err)
	}
	log.Printf("connected to redis at %s", cfg.RedisAddr)

	return groupstore.NewRedisStore(rdb), func() {
		if err := rdb.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}
}
