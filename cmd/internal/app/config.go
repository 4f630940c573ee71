package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/realtime"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	// Env is "development" or "production". Production refuses insecure dev switches.
	Env string

	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// StoreDriver is memory, sqlite or postgres. Empty picks postgres when DatabaseURL is
	// set and memory otherwise.
	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	// AutoMigrate creates the chat tables on startup (postgres only).
	AutoMigrate bool

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// RedisURL enables the cross-instance presence mirror and the receipt queue.
	RedisURL         string
	PresencePrefix   string
	ReceiptQueue     string
	ReceiptWorkers   int
	ReceiptQueues    string
	RunReceiptWorker bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	MetricsEnabled bool

	WSDevInsecure       bool
	WSOriginRequired    bool
	WSAllowedOrigins    []string
	WSSendQueueSize     int
	WSReadIdleTimeout   time.Duration
	WSHeartbeatInterval time.Duration
	WSHeartbeatTimeout  time.Duration
	WSRateEvents        int
	WSRateWindow        time.Duration
	WSAuthGrace         time.Duration

	LivenessWindow time.Duration
	TypingExpiry   time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	gw := realtime.DefaultGatewayConfig()
	return Config{
		Env: strings.ToLower(EnvString("CHAT_ENV", "development")),

		HTTPAddr:  EnvString("CHAT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CHAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("CHAT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CHAT_HTTP_MAX_HEADER_BYTES", 1<<20),

		StoreDriver: strings.ToLower(EnvString("CHAT_STORE", "")),
		SQLitePath:  EnvString("CHAT_SQLITE_PATH", "chat.db"),
		DatabaseURL: EnvString("CHAT_DATABASE_URL", ""),
		DBSchema:    EnvString("CHAT_DB_SCHEMA", "chat"),
		DBMaxConns:  EnvInt32("CHAT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CHAT_DB_MIN_CONNS", 0),
		AutoMigrate: EnvBool("CHAT_DB_AUTO_MIGRATE", true),

		ReadinessRequireDB: EnvBool("CHAT_READINESS_REQUIRE_DB", false),

		RedisURL:         EnvString("CHAT_REDIS_URL", ""),
		PresencePrefix:   EnvString("CHAT_PRESENCE_PREFIX", "chat:presence:"),
		ReceiptQueue:     EnvString("CHAT_RECEIPT_QUEUE", "receipts"),
		ReceiptWorkers:   EnvInt("CHAT_RECEIPT_WORKERS", 4),
		ReceiptQueues:    EnvString("CHAT_RECEIPT_QUEUES", "receipts=1"),
		RunReceiptWorker: EnvBool("CHAT_RECEIPT_WORKER", true),

		CORSAllowedOrigins:   EnvCSV("CHAT_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("CHAT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CHAT_CORS_MAX_AGE_SECONDS", 600),

		MetricsEnabled: EnvBool("CHAT_METRICS_ENABLED", true),

		WSDevInsecure:       EnvBool("CHAT_WS_DEV_INSECURE", false),
		WSOriginRequired:    EnvBool("CHAT_WS_ORIGIN_REQUIRED", gw.OriginRequired),
		WSAllowedOrigins:    EnvCSV("CHAT_WS_ALLOWED_ORIGINS", gw.AllowedOrigins),
		WSSendQueueSize:     EnvInt("CHAT_WS_SEND_QUEUE", gw.SendQueueSize),
		WSReadIdleTimeout:   EnvDuration("CHAT_WS_READ_IDLE_TIMEOUT", gw.ReadIdleTimeout),
		WSHeartbeatInterval: EnvDuration("CHAT_WS_HEARTBEAT_INTERVAL", gw.HeartbeatInterval),
		WSHeartbeatTimeout:  EnvDuration("CHAT_WS_HEARTBEAT_TIMEOUT", gw.HeartbeatTimeout),
		WSRateEvents:        EnvInt("CHAT_WS_RATE_EVENTS", gw.RateEvents),
		WSRateWindow:        EnvDuration("CHAT_WS_RATE_WINDOW", gw.RateWindow),
		WSAuthGrace:         EnvDuration("CHAT_WS_AUTH_GRACE", gw.AuthGrace),

		LivenessWindow: EnvDuration("CHAT_PRESENCE_LIVENESS", realtime.DefaultLivenessWindow),
		TypingExpiry:   EnvDuration("CHAT_TYPING_EXPIRY", realtime.DefaultTypingExpiry),
	}
}

// Production reports whether the runtime runs with production guards.
func (c Config) Production() bool {
	return c.Env == "production" || c.Env == "prod"
}

// ResolvedStoreDriver returns the effective store driver.
func (c Config) ResolvedStoreDriver() string {
	if c.StoreDriver != "" {
		return c.StoreDriver
	}
	if c.DatabaseURL != "" {
		return StorePostgres
	}
	return StoreMemory
}

// Validate rejects inconsistent combinations before anything is opened.
func (c Config) Validate() error {
	switch c.ResolvedStoreDriver() {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("config: CHAT_STORE=sqlite requires CHAT_SQLITE_PATH")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: CHAT_STORE=postgres requires CHAT_DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown CHAT_STORE %q", c.StoreDriver)
	}
	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		return errors.New("config: CHAT_DB_MIN_CONNS exceeds CHAT_DB_MAX_CONNS")
	}
	return nil
}

// GatewayConfig projects the websocket settings.
func (c Config) GatewayConfig() realtime.GatewayConfig {
	return realtime.GatewayConfig{
		DevInsecure:       c.WSDevInsecure,
		OriginRequired:    c.WSOriginRequired,
		AllowedOrigins:    c.WSAllowedOrigins,
		SendQueueSize:     c.WSSendQueueSize,
		ReadIdleTimeout:   c.WSReadIdleTimeout,
		HeartbeatInterval: c.WSHeartbeatInterval,
		HeartbeatTimeout:  c.WSHeartbeatTimeout,
		RateEvents:        c.WSRateEvents,
		RateWindow:        c.WSRateWindow,
		AuthGrace:         c.WSAuthGrace,
	}
}
