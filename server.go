package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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
	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/middlewares"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/mmdatafocus/wms_backend/workflow"
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

type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data,omitempty"`
		ID         string            `json:"id"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// asnPushHandler imports advance shipping notices pushed by Pub/Sub.
// The Pub/Sub message id doubles as the import idempotency key.
func (a *api) asnPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(a.logger, "server.go", "asnPushHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(a.logger, "server.go", "asnPushHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		var input models.NewReceipt
		if err := json.Unmarshal(msg.Message.Data, &input); err != nil {
			config.LogError(a.logger, "server.go", "asnPushHandler", "Unmarshal asn", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		if input.MessageId == "" {
			input.MessageId = msg.Message.ID
		}

		correlationID := msg.Message.Attributes["correlation_id"]
		if correlationID == "" {
			correlationID = msg.Message.ID
		}
		ctx := utils.SetUsernameInContext(c.Request.Context(), utils.SystemActor)
		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)

		receipt, created, err := a.engine.ImportReceipt(ctx, input)
		if err != nil {
			fields := logrus.Fields{
				"field":           "asnPushHandler",
				"message_id":      msg.Message.ID,
				"document_number": input.DocumentNumber,
				"correlation_id":  correlationID,
			}
			switch utils.KindOf(err) {
			case utils.ErrorKindValidationFailure, utils.ErrorKindNotFound, utils.ErrorKindConflict:
				// Poisoned or already-imported message: ack so it is not redelivered.
				a.logger.WithFields(fields).Warn("asn rejected: " + err.Error())
				c.Status(http.StatusNoContent)
			default:
				// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
				a.logger.WithFields(fields).Error("asn import failed: " + err.Error())
				c.Status(http.StatusInternalServerError)
			}
			return
		}
		a.logger.WithFields(logrus.Fields{
			"field":      "asnPushHandler",
			"message_id": msg.Message.ID,
			"receipt_id": receipt.ID,
			"created":    created,
		}).Info("asn imported")
		c.Status(http.StatusNoContent)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// newEngine wires the workflow engine to redis and Pub/Sub when they are available.
// The returned stop func flushes the event publisher.
func newEngine(ctx context.Context, logger *logrus.Logger, settings config.Settings) (*workflow.Engine, func()) {
	opts := []workflow.Option{workflow.WithLogger(logger)}
	stop := func() {}

	rdb := config.GetRedisDB()
	if rdb != nil {
		opts = append(opts, workflow.WithLocker(config.GetRedisLock()))
	}
	if settings.ScanGuard == config.ScanGuardRedis {
		if rdb != nil {
			opts = append(opts, workflow.WithScanGuard(workflow.NewRedisScanGuard(rdb, settings.DuplicateScanWindow)))
		} else {
			logger.WithFields(logrus.Fields{"field": "newEngine"}).Warn("redis scan guard requested but redis is not ready; using in-memory guard")
		}
	}
	if settings.EventsTopic != "" {
		client, err := config.GetPubSubClient(ctx)
		if err != nil {
			config.LogError(logger, "server.go", "newEngine", "GetPubSubClient", nil, err)
		} else {
			publisher := workflow.NewPubSubPublisher(client, settings.EventsTopic)
			opts = append(opts, workflow.WithEventPublisher(publisher))
			stop = publisher.Stop
			if settings.EventOutbox {
				relayCtx, cancel := context.WithCancel(ctx)
				relay := workflow.NewOutboxRelay(config.GetDB(), publisher, settings, logger)
				done := make(chan struct{})
				go func() {
					defer close(done)
					relay.Run(relayCtx)
				}()
				stop = func() {
					cancel()
					<-done
					publisher.Stop()
				}
			}
		}
	} else if settings.EventOutbox {
		logger.WithFields(logrus.Fields{"field": "newEngine"}).Warn("event outbox enabled without WMS_EVENTS_TOPIC; events are stored but not relayed")
	}
	return workflow.NewEngine(config.GetDB(), settings, opts...), stop
}

func newRouter(logger *logrus.Logger, a *api) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.RequestContext())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id", "x-device-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	if !corsConfig.AllowAllOrigins {
		corsConfig.AllowCredentials = true
	}
	r.Use(cors.New(corsConfig))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		if client := config.GetRedisDB(); client != nil {
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
			r.Use(NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second).RateLimitMiddleware)
		}
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	r.POST("/pubsub/asn", a.asnPushHandler())
	registerRoutes(r, a)
	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(sigCtx)

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(db); err != nil {
			config.LogError(logger, "server.go", "main", "MigrateTable", nil, err)
			log.Fatal(err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	if db.Dialector.Name() == "mysql" {
		for attempt := 1; ; attempt++ {
			err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
			if err == nil {
				break
			}
			sleep := time.Second * time.Duration(1<<min(attempt, 5))
			if sleep > 30*time.Second {
				sleep = 30 * time.Second
			}
			logger.WithFields(logrus.Fields{
				"field":   "database",
				"attempt": attempt,
			}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
			time.Sleep(sleep)
		}
	}

	settings := config.LoadSettings()
	engine, stopEngine := newEngine(sigCtx, logger, settings)
	defer stopEngine()

	r := newRouter(logger, &api{engine: engine, db: db, logger: logger})
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{
		"info":       "Connection Established",
		"scan_guard": settings.ScanGuard,
	}).Info("wms api listening on :", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"correlation_id": cid,
			}).Error(c.Errors.String())
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

// RateLimitMiddleware counts requests per client IP in a fixed window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// Redis trouble must not take the API down.
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

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
