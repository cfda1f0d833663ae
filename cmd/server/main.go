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

	"dispatch-service/config"
	"dispatch-service/internal/api"
	"dispatch-service/internal/auth"
	"dispatch-service/internal/broker"
	"dispatch-service/internal/dispatch"
	"dispatch-service/internal/notify"
	"dispatch-service/internal/redisclient"
	"dispatch-service/internal/routing"
	"dispatch-service/internal/store"
	"dispatch-service/internal/util"
	"dispatch-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting dispatch service")

	tp, err := util.InitTracer("dispatch-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDispatch)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	registry := dispatch.NewRegistry(db, redisClient, redisClient, eventPublisher,
		dispatch.TelemetryConfig{Cadence: cfg.Dispatch.PublishCadence},
		dispatch.GuardConfig{
			PollInterval: cfg.Dispatch.SessionPollInterval,
			GracePeriod:  cfg.Dispatch.FenceGracePeriod,
		},
		cfg.Dispatch.SessionTTL)

	assignment := dispatch.NewAssignmentService(db, redisClient, eventPublisher, registry)
	confirmation := dispatch.NewConfirmationService(db, assignment, eventPublisher, registry, cfg.Dispatch.MaxProofRefBytes)

	routingClient := routing.NewClient(cfg.Routing.RouteEndpoint, cfg.Routing.GeocodeEndpoint, cfg.Routing.Timeout)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Dispatch.SessionTTL)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notifyConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicDispatch, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notifyConsumer, db, notify.NewLogNotifier())
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.Default()
	handler := api.NewHandler(assignment, confirmation, registry, db, redisClient, tokens,
		routingClient, routingClient, cfg.Dispatch.RerouteThresholdM)
	handler.SetupRoutes(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: engine,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	notificationWorker.Stop()

	log.Println("Server exited")
}
