// shared/config/config.go
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// CommonConfig holds configuration fields that are shared across multiple services.
type CommonConfig struct {
	RedisAddrs              []string      // Redis server addresses (e.g., "redis-cluster:6379")
	RedisPassword           string        // Redis password for authentication
	HeartbeatInterval       time.Duration // How often to send a heartbeat to registry (e.g., 5s)
	HeartbeatTTL            time.Duration // How long an instance is considered alive without a heartbeat (e.g., 15s)
	RegistryCleanupInterval time.Duration // How often the registry actively cleans stale entries (e.g., 30s)
	ServiceIP               string        // The IP address this service advertises for registration (Kubernetes Pod IP)
	ServicePort             int           // The port this service listens on, used for registration
}

// RunServiceConfig holds configuration specific to the run-service.
type RunServiceConfig struct {
	CommonConfig                  // Embed CommonConfig
	ListenAddr             string // Address for the HTTP server (e.g., ":8083")
	MongoDBConnStr         string // MongoDB connection string
	MongoDBDatabase        string // MongoDB database name (e.g., "courtside")
	MongoDBRunsCollection  string // Collection for run documents
	MongoDBJoinReqsColl    string // Collection for join request documents
	MongoDBInvitesColl     string // Collection for run invite documents
	MongoDBSquadsColl      string // Collection for squad documents
	MongoDBCourtsColl      string // Collection for court documents (read-only here)
	PushServiceURL         string // Base URL of the push gateway (e.g., "http://push-gateway:8090")
	ExpirySweepInterval    time.Duration // Cadence of the stale-run expiry sweep (e.g., 15m)
	RunStalenessWindow     time.Duration // Idle window after which an active run is expired (e.g., 60m)
	ReminderSweepInterval  time.Duration // Cadence of the activation + reminder sweep (e.g., 5m)
	ReminderLeadLong       time.Duration // Long reminder lead time before start (e.g., 60m)
	ReminderLeadShort      time.Duration // Short reminder lead time before start (e.g., 10m)
	PurgeSweepInterval     time.Duration // Cadence of the retention purge sweep (e.g., 24h)
	RunRetentionWindow     time.Duration // How long finished runs are kept before hard delete (e.g., 720h)
	PurgeBatchSize         int           // Max run documents deleted per purge batch
	SpotsAlertCooldown     time.Duration // Minimum gap between open-spot alerts for the same run (e.g., 2m)
	EventQueueSize         int           // Buffered capacity of the notification event queue
}

// LoadCommonConfig loads common configuration from environment variables.
func LoadCommonConfig() (CommonConfig, error) {
	cfg := CommonConfig{}
	var err error

	// Redis Addresses
	redisAddrsStr := os.Getenv("REDIS_ADDRS")
	if redisAddrsStr == "" {
		cfg.RedisAddrs = []string{"redis-cluster-headless.courtside.svc.cluster.local:6379"} // Default for K8s Service
	} else {
		for _, addr := range strings.Split(redisAddrsStr, ",") {
			cfg.RedisAddrs = append(cfg.RedisAddrs, strings.TrimSpace(addr))
		}
	}

	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.HeartbeatInterval, err = getDuration("SERVICE_HEARTBEAT_INTERVAL", 5*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.HeartbeatTTL, err = getDuration("SERVICE_HEARTBEAT_TTL", 15*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.RegistryCleanupInterval, err = getDuration("SERVICE_REGISTRY_CLEANUP_INTERVAL", 30*time.Second)
	if err != nil {
		return cfg, err
	}

	// Service IP (for registration, from Kubernetes Pod IP)
	cfg.ServiceIP = os.Getenv("POD_IP") // Injected by Kubernetes
	if cfg.ServiceIP == "" {
		// Fallback for local development outside K8s or if not injected
		cfg.ServiceIP = "0.0.0.0"
		fmt.Printf("WARNING: POD_IP not set, defaulting ServiceIP to %s\n", cfg.ServiceIP)
	}

	return cfg, nil
}

// Helper function to parse duration from environment variable
func getDuration(envKey string, defaultVal time.Duration) (time.Duration, error) {
	valStr := os.Getenv(envKey)
	if valStr == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(valStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format for %s: %w", envKey, err)
	}
	return d, nil
}

// Helper function to parse int from environment variable
func getInt(envKey string, defaultVal int) (int, error) {
	valStr := os.Getenv(envKey)
	if valStr == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer format for %s: %w", envKey, err)
	}
	return i, nil
}

// extractPort extracts the numeric port from a listen address (e.g., ":8083" -> 8083, "0.0.0.0:8083" -> 8083)
func extractPort(listenAddr string) (int, error) {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		// If SplitHostPort fails, check if ListenAddr is just a port (e.g., ":8083")
		if strings.HasPrefix(listenAddr, ":") {
			portStr = strings.TrimPrefix(listenAddr, ":")
		} else {
			return 0, fmt.Errorf("invalid ListenAddr format for port extraction: %w", err)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port number '%s': %w", portStr, err)
	}
	return port, nil
}

// LoadRunServiceConfig loads configuration for the run-service.
func LoadRunServiceConfig() (*RunServiceConfig, error) {
	common, err := LoadCommonConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load common config for run-service: %w", err)
	}

	cfg := &RunServiceConfig{
		CommonConfig:          common,
		ListenAddr:            os.Getenv("RUN_SERVICE_LISTEN_ADDR"),
		MongoDBConnStr:        os.Getenv("MONGODB_CONN_STR"),
		MongoDBDatabase:       os.Getenv("MONGODB_DATABASE"),
		MongoDBRunsCollection: os.Getenv("MONGODB_RUNS_COLLECTION"),
		MongoDBJoinReqsColl:   os.Getenv("MONGODB_JOIN_REQUESTS_COLLECTION"),
		MongoDBInvitesColl:    os.Getenv("MONGODB_RUN_INVITES_COLLECTION"),
		MongoDBSquadsColl:     os.Getenv("MONGODB_SQUADS_COLLECTION"),
		MongoDBCourtsColl:     os.Getenv("MONGODB_COURTS_COLLECTION"),
		PushServiceURL:        os.Getenv("PUSH_SERVICE_URL"),
	}

	// Apply defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8083"
	}
	if cfg.MongoDBConnStr == "" {
		cfg.MongoDBConnStr = "mongodb://mongodb-service:27017"
	}
	if cfg.MongoDBDatabase == "" {
		cfg.MongoDBDatabase = "courtside"
	}
	if cfg.MongoDBRunsCollection == "" {
		cfg.MongoDBRunsCollection = "runs"
	}
	if cfg.MongoDBJoinReqsColl == "" {
		cfg.MongoDBJoinReqsColl = "join_requests"
	}
	if cfg.MongoDBInvitesColl == "" {
		cfg.MongoDBInvitesColl = "run_invites"
	}
	if cfg.MongoDBSquadsColl == "" {
		cfg.MongoDBSquadsColl = "squads"
	}
	if cfg.MongoDBCourtsColl == "" {
		cfg.MongoDBCourtsColl = "courts"
	}
	if cfg.PushServiceURL == "" {
		cfg.PushServiceURL = "http://push-gateway:8090" // Default for K8s internal DNS
	}

	// Sweep cadences and windows
	cfg.ExpirySweepInterval, err = getDuration("RUN_EXPIRY_SWEEP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.RunStalenessWindow, err = getDuration("RUN_STALENESS_WINDOW", 60*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.ReminderSweepInterval, err = getDuration("RUN_REMINDER_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.ReminderLeadLong, err = getDuration("RUN_REMINDER_LEAD_LONG", 60*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.ReminderLeadShort, err = getDuration("RUN_REMINDER_LEAD_SHORT", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.PurgeSweepInterval, err = getDuration("RUN_PURGE_SWEEP_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.RunRetentionWindow, err = getDuration("RUN_RETENTION_WINDOW", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.PurgeBatchSize, err = getInt("RUN_PURGE_BATCH_SIZE", 100)
	if err != nil {
		return nil, err
	}
	if cfg.PurgeBatchSize <= 0 {
		return nil, fmt.Errorf("RUN_PURGE_BATCH_SIZE must be a positive integer (got %d)", cfg.PurgeBatchSize)
	}
	cfg.SpotsAlertCooldown, err = getDuration("RUN_SPOTS_ALERT_COOLDOWN", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.EventQueueSize, err = getInt("RUN_EVENT_QUEUE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	if cfg.EventQueueSize <= 0 {
		return nil, fmt.Errorf("RUN_EVENT_QUEUE_SIZE must be a positive integer (got %d)", cfg.EventQueueSize)
	}

	// Extract ServicePort from ListenAddr
	cfg.ServicePort, err = extractPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract port from RUN_SERVICE_LISTEN_ADDR '%s': %w", cfg.ListenAddr, err)
	}

	return cfg, nil
}
