package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/cache"
	"checkout-service/common/auth"
	apperrors "checkout-service/common/errors"
	"checkout-service/common/logger"
	commonmw "checkout-service/common/middleware"
	"checkout-service/config"
	"checkout-service/controllers"
	"checkout-service/database"
	"checkout-service/gateways"
	awspkg "checkout-service/pkg/aws"
	"checkout-service/repository"
	"checkout-service/routes"
	"checkout-service/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "checkout-service"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	awsCfg, awsErr := awspkg.LoadAWSConfig(ctx)

	var sink io.Writer
	if cfg.CloudWatchEnabled && awsErr == nil {
		cw, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			log.Printf("CloudWatch Logs unavailable, logging to stdout only: %v", err)
		} else {
			sink = cw
		}
	}

	zapLogger, err := logger.New(cfg.Env, sink)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	// Gateways are validated before anything else is opened
	registry, err := gateways.Build(cfg.EnabledGateways, cfg.GatewaySettings())
	if err != nil {
		zapLogger.Fatal("Invalid payment gateway configuration", zap.Error(err))
	}
	zapLogger.Info("Payment gateways enabled", zap.Strings("gateways", registry.IDs()))

	db, err := database.ConnectPostgres(cfg.PostgresDSN(), zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close() //nolint:errcheck
	redisCache := cache.NewRedisCache(redisClient, cfg.IdempotencyTTL, cfg.WebhookReplayTTL)

	// AWS clients
	var (
		snsClient awspkg.SNSPublisher
		sqsClient *awspkg.SQSClient
		metrics   awspkg.MetricsRecorder = awspkg.NoopMetrics{}
	)
	if awsErr != nil {
		zapLogger.Warn("AWS config unavailable, events, verification queue and metrics disabled", zap.Error(awsErr))
	} else {
		snsClient, sqsClient, metrics = awsClients(awsCfg, cfg, zapLogger)
	}

	// DI chain
	orderRepo := repository.NewGormOrderRepository(db)
	pricing := services.NewPricingEngine(
		repository.NewGormProductRepository(db),
		repository.NewGormCouponRepository(db),
		services.PricingRules{
			FreeShippingThreshold: cfg.FreeShippingThreshold,
			FlatShippingFee:       cfg.FlatShippingFee,
			TaxRate:               cfg.TaxRate,
		},
		zapLogger,
	)
	events := services.NewEventPublisher(snsClient, cfg.OrderSNSTopicARN, zapLogger)
	orderService := services.NewOrderService(orderRepo, pricing, redisCache, events, metrics, cfg.OrderNumberPrefix, zapLogger)

	var queue awspkg.QueueSender
	if sqsClient != nil {
		queue = sqsClient
	}
	paymentService := services.NewPaymentService(orderRepo, orderService, registry, queue, metrics,
		services.PaymentServiceConfig{PublicBaseURL: cfg.PublicBaseURL, VerifyDelay: cfg.PaymentVerifyDelay},
		zapLogger,
	)
	webhookService := services.NewWebhookService(registry, orderService, orderRepo, redisCache, metrics, zapLogger)

	if sqsClient != nil {
		consumer := services.NewVerificationConsumer(paymentService, sqsClient, cfg.PaymentVerifyDelay, cfg.PaymentVerifyMaxAttempts, zapLogger)
		go func() {
			if err := sqsClient.StartPolling(ctx, consumer.Handle); err != nil && !errors.Is(err, context.Canceled) {
				zapLogger.Error("Payment verification consumer stopped", zap.Error(err))
			}
		}()
	}

	limiter := commonmw.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 10*time.Minute)
	go limiter.RunSweeper(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", controllers.IdempotencyKeyHeader, "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(
		commonmw.RequestID(),
		commonmw.RequestLogger(zapLogger),
		commonmw.SecurityHeaders(),
		commonmw.Metrics(metrics, serviceName),
		commonmw.RateLimit(limiter),
		commonmw.Timeout(cfg.RequestTimeout),
		apperrors.ErrorMiddleware(),
	)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})

	routes.RegisterCheckoutRoutes(r,
		auth.NewTokenParser(cfg.JWTSecret),
		controllers.NewOrderController(orderService),
		controllers.NewPaymentController(paymentService),
		controllers.NewWebhookController(webhookService),
	)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Checkout service started", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	<-quit
	zapLogger.Info("Shutting down checkout service...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exited cleanly")
}

func awsClients(awsCfg sdkaws.Config, cfg *config.Config, zapLogger *zap.Logger) (awspkg.SNSPublisher, *awspkg.SQSClient, awspkg.MetricsRecorder) {
	var snsClient awspkg.SNSPublisher
	if cfg.OrderSNSTopicARN != "" {
		snsClient = awspkg.NewSNSClient(awsCfg)
	}

	var sqsClient *awspkg.SQSClient
	if cfg.PaymentVerifyQueueURL != "" {
		sqsClient = awspkg.NewSQSClient(awsCfg, cfg.PaymentVerifyQueueURL, zapLogger)
	} else {
		zapLogger.Info("PAYMENT_VERIFY_QUEUE_URL not set, payment polling disabled")
	}

	var metrics awspkg.MetricsRecorder = awspkg.NoopMetrics{}
	if cfg.MetricsEnabled {
		metrics = awspkg.NewMetricsClient(awsCfg, cfg.MetricsNamespace, true)
	}
	return snsClient, sqsClient, metrics
}
