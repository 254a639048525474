package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"aggreader/internal/aggregator"
	"aggreader/internal/auth"
	"aggreader/internal/config"
	"aggreader/internal/database"
	"aggreader/internal/fetch"
	"aggreader/internal/greader"
	"aggreader/internal/secrets"
	"aggreader/internal/services"
)

func main() {
	cfg := config.Load()

	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer func() { _ = db.Close() }()

	// Upstream credentials may live in Secret Manager when running on
	// GCP; env vars win otherwise.
	ctx := context.Background()
	if cfg.YouTubeAPIKey == "" {
		if key, err := secrets.GetYouTubeAPIKey(ctx); err == nil {
			cfg.YouTubeAPIKey = key
		}
	}
	if cfg.RedditClientID == "" {
		if id, secret, err := secrets.GetRedditCredentials(ctx); err == nil {
			cfg.RedditClientID = id
			cfg.RedditClientSecret = secret
		}
	}

	limiter := fetch.NewDomainRateLimiter(fetch.RateLimiterConfig{})
	client := fetch.NewClient(fetch.Config{
		Timeout:        cfg.FetchTimeout,
		RetryCount:     cfg.RetryCount,
		RetryBaseDelay: cfg.RetryBaseDelay,
		CacheSize:      cfg.CacheSize,
		CacheTTL:       cfg.CacheTTL,
	}, limiter)

	browser := fetch.NewBrowserPool(cfg.BrowserPoolSize)
	defer browser.Close()

	registry := aggregator.NewRegistry(aggregator.RegistryConfig{
		YouTubeAPIKey:      cfg.YouTubeAPIKey,
		RedditClientID:     cfg.RedditClientID,
		RedditClientSecret: cfg.RedditClientSecret,
	})

	env := &aggregator.Env{Client: client, Browser: browser}
	runner := aggregator.NewRunner(db, env, cfg.ContentAgeMonths)

	broker := services.NewTaskBroker(db, cfg.WorkerCount)
	defer broker.Stop()

	aggregation := services.NewAggregationService(db, registry, runner, broker)
	validator := services.NewURLValidator()

	authService := auth.NewService(db, cfg.TokenLifetime)
	authMiddleware := auth.NewMiddleware(authService)
	loginLimiter := auth.NewRateLimiter(rate.Every(time.Minute/10), 5)
	defer loginLimiter.Stop()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	readerHandler := greader.NewHandler(db, authService, validator, cfg.DefaultDailyLimit)
	readerHandler.RegisterRoutes(router, authMiddleware, loginLimiter)

	apiHandler := greader.NewAPIHandler(db, registry, runner, aggregation, validator, cfg.DefaultDailyLimit)
	apiHandler.RegisterRoutes(router, authMiddleware)

	stopHousekeeping := startHousekeeping(aggregation, broker, authService, limiter, cfg)
	defer stopHousekeeping()

	// Shut down cleanly so in-flight aggregation tasks get recorded.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down")
		broker.Stop()
		browser.Close()
		os.Exit(0)
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	log.Fatal(router.Run(":" + cfg.Port))
}

// startHousekeeping runs the periodic chores: scheduled aggregation of
// every enabled feed, retention deletes, task row cleanup, token and
// limiter expiry. Returns a stop function.
func startHousekeeping(aggregation *services.AggregationService, broker *services.TaskBroker, authService *auth.Service, limiter *fetch.DomainRateLimiter, cfg *config.Config) func() {
	quit := make(chan struct{})

	go func() {
		aggregate := time.NewTicker(30 * time.Minute)
		cleanup := time.NewTicker(6 * time.Hour)
		defer aggregate.Stop()
		defer cleanup.Stop()

		for {
			select {
			case <-aggregate.C:
				if _, queued, err := aggregation.AggregateAll(context.Background(), 0, false, false); err != nil {
					log.Printf("scheduled aggregation failed: %v", err)
				} else {
					log.Printf("scheduled aggregation queued %d feeds", len(queued))
				}

			case <-cleanup.C:
				if deleted, err := aggregation.DeleteOldArticles(cfg.ContentAgeMonths); err != nil {
					log.Printf("retention delete failed: %v", err)
				} else if deleted > 0 {
					log.Printf("retention deleted %d articles", deleted)
				}
				if deleted, err := broker.CleanupTasks(0); err != nil {
					log.Printf("task cleanup failed: %v", err)
				} else if deleted > 0 {
					log.Printf("task cleanup removed %d rows", deleted)
				}
				if err := authService.CleanupExpiredTokens(); err != nil {
					log.Printf("token cleanup failed: %v", err)
				}
				limiter.CleanupOldLimiters(24 * time.Hour)

			case <-quit:
				return
			}
		}
	}()

	return func() { close(quit) }
}
