package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	runapi "github.com/courtside/run-service/run/api"
	"github.com/courtside/run-service/run/notify"
	"github.com/courtside/run-service/run/service"
	"github.com/courtside/run-service/run/store"
	"github.com/courtside/run-service/run/sweeper"
	"github.com/courtside/run-service/shared/api"
	"github.com/courtside/run-service/shared/cluster"
	"github.com/courtside/run-service/shared/config"
	"github.com/courtside/run-service/shared/mongodb"
	redisu "github.com/courtside/run-service/shared/redis"
	"github.com/courtside/run-service/shared/registry"
	pushclient "github.com/courtside/run-service/shared/service"
)

func main() {
	// --- 1. Load Configuration ---
	cfg, err := config.LoadRunServiceConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration loaded for Run Service. Listening on: %s", cfg.ListenAddr)

	// --- 2. Connect to MongoDB ---
	mongoClient, err := mongodb.NewClient(cfg.MongoDBConnStr, cfg.MongoDBDatabase)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			log.Printf("Error disconnecting MongoDB client: %v", err)
		}
	}()

	// --- 3. Connect to Redis Cluster ---
	redisClient, err := redisu.NewRedisClusterClient(cfg.RedisAddrs, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("Failed to connect to Redis Cluster: %v", err)
	}
	defer func() {
		if err = redisClient.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
		log.Println("Redis Client closed.")
	}()
	log.Println("Connected to Redis Cluster.")

	// --- 4. Initialize Data Stores ---
	runStore := store.NewRunStore(mongoClient.Collection(cfg.MongoDBRunsCollection))
	joinRequestStore := store.NewJoinRequestStore(mongoClient.Collection(cfg.MongoDBJoinReqsColl))
	inviteStore := store.NewInviteStore(mongoClient.Collection(cfg.MongoDBInvitesColl))
	squadStore := store.NewSquadStore(mongoClient.Collection(cfg.MongoDBSquadsColl))
	courtStore := store.NewCourtStore(mongoClient.Collection(cfg.MongoDBCourtsColl))
	tokenStore := store.NewTokenStore(redisClient)

	pushClient := pushclient.NewPushClient(cfg.PushServiceURL)

	// --- 5. Initialize Notification Dispatcher ---
	dispatcher := notify.NewDispatcher(
		courtStore,
		tokenStore,
		inviteStore,
		runStore,
		pushClient,
		cfg.EventQueueSize,
		cfg.SpotsAlertCooldown,
	)
	go dispatcher.Start()
	defer dispatcher.Stop()

	// --- 6. Initialize Business Logic Service ---
	runService := service.NewRunService(mongoClient, runStore, joinRequestStore, squadStore, dispatcher)
	log.Println("Run Service business logic initialized.")

	// --- 7. Initialize API Handlers ---
	runAPIHandlers := runapi.NewRunAPIHandlers(runService)

	// --- 8. Initialize and Start Service Registrar ---
	registrar := registry.NewServiceRegistrar(redisClient, "run-service", &cfg.CommonConfig)
	go registrar.Start()
	defer registrar.Stop()
	log.Printf("Service registrar started for 'run-service' with Address: %s", cfg.ListenAddr)

	registryClient := registry.NewRegistryClient(redisClient, cfg.HeartbeatTTL)

	assignmentManager := cluster.NewServiceAssignmentManager(
		registryClient,
		registrar,
		cfg.HeartbeatInterval,
	)
	go assignmentManager.Start()
	defer assignmentManager.Stop()

	// --- 9. Initialize and Start Lifecycle Sweeper ---
	lifecycleSweeper := sweeper.NewSweeper(cfg, assignmentManager, runStore, joinRequestStore, inviteStore, dispatcher)
	go lifecycleSweeper.Start()
	defer lifecycleSweeper.Stop()

	// --- 10. Setup HTTP Server and Register Routes ---
	baseServer := api.NewBaseServer(cfg.ListenAddr, log.Default())
	runAPIHandlers.RegisterRoutes(baseServer.Router)
	log.Println("HTTP routes registered.")

	// --- 11. Start HTTP Server ---
	go func() {
		log.Printf("HTTP server starting on %s...", cfg.ListenAddr)
		if err := baseServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed to start: %v", err)
		}
	}()

	// --- 12. Graceful Shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down Run Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := baseServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP server graceful shutdown failed: %v", err)
	}
	log.Println("Run Service HTTP server gracefully stopped.")
	log.Println("Run Service gracefully shut down.")
}
