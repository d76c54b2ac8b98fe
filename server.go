package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/retail_dashboard/config"
	"github.com/mmdatafocus/retail_dashboard/models"
	"github.com/mmdatafocus/retail_dashboard/models/reports"
	"github.com/mmdatafocus/retail_dashboard/snapshot"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/mmdatafocus/retail_dashboard/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	cfg, err := config.LoadSnapshotConfig()
	if err != nil {
		log.Fatalf("snapshot config: %v", err)
	}

	redisOpts, err := config.RedisOptionsFromEnv()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	// retry until the signal context is cancelled
	rdb, err := config.NewRedisClient(sigCtx, redisOpts, 0)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	store, err := snapshot.NewStore(snapshot.NewRedisCache(rdb), snapshot.Options{
		Namespace: cfg.Namespace,
		TTL:       snapshot.PolicyFromConfig(cfg),
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("snapshot store: %v", err)
	}

	dsn, err := config.WarehouseDSNFromEnv()
	if err != nil {
		log.Fatalf("warehouse: %v", err)
	}
	db, err := config.OpenWarehouse(dsn)
	if err != nil {
		log.Fatalf("warehouse: %v", err)
	}
	if sqlDB, _ := db.DB(); sqlDB != nil {
		defer sqlDB.Close()
	}
	classifier, err := models.NewWarehouseClassifier(sigCtx, db, cfg, logger)
	if err != nil {
		log.Fatalf("classifier: %v", err)
	}
	registry := reports.NewRegistry(classifier, reports.RegistryOptions{Logger: logger, SlowThreshold: cfg.SlowThreshold()})

	refresherOpts := workflow.RefresherOptions{Logger: logger, Locker: config.NewRedisLock(rdb)}
	if cfg.PubSubTopic != "" {
		client, err := config.NewPubSubClient(sigCtx)
		if err != nil {
			config.LogWarn(logger, "server.go", "main", "pubsub unavailable; refresh summaries will not be published", cfg.PubSubTopic, err)
		} else {
			defer client.Close()
			refresherOpts.Notifier = workflow.NewPubSubNotifier(client, cfg.PubSubTopic, logger)
		}
	}

	a := &api{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		refresher: workflow.NewSnapshotRefresher(store, refresherOpts),
		logger:    logger,
		taskToken: strings.TrimSpace(os.Getenv("TASK_TRIGGER_TOKEN")),
	}

	r := gin.New()
	r.Use(correlationIdMiddleware())

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", taskTokenHeader)
	corsConfig.AddExposeHeaders("Content-Length", snapshotCacheHeader)
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(rdb, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	a.routes(r)
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{
		"info":      "Connection Established",
		"namespace": cfg.Namespace,
	}).Info("retail dashboard api listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server failed: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}

func correlationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	if c.Request.URL.Path == "/healthz" {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// fail open when redis is unreachable
		c.Next()
		return
	}
	if count == 1 {
		rl.client.Expire(c.Request.Context(), key, rl.window)
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}
