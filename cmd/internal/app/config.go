package app

import (
	"time"

	"jobchat/cmd/internal/chat"
)

// Push providers.
const (
	PushProviderNone = "none"
	PushProviderFCM  = "fcm"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Storage: Postgres when DatabaseURL is set, else SQLite when SQLitePath is set, else memory.
	DatabaseURL      string
	DBMaxConns       int32
	DBMinConns       int32
	DBSchema         string // chat tables
	DirectorySchema  string // bookings/clients/workers/users
	DBEnsureSchema   bool
	SQLitePath       string
	RedisURL         string
	ReadinessRequire bool // /readyz fails unless a durable store is configured
	DevSeed          bool // seed a demo booking into the in-memory directory

	PushProvider       string
	PushAsync          bool
	PushConcurrency    int
	FirebaseProjectID  string
	FirebaseCredsFile  string
	FirebaseCredsJSON  string
	DeliveryTimeout    time.Duration
	AuthPublicKeyHex   string
	AuthIssuer         string
	AuthRequired       bool
	CORSAllowedOrigins []string

	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WS chat.WSConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("CHAT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CHAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("CHAT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CHAT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:      EnvString("CHAT_DATABASE_URL", ""),
		DBMaxConns:       EnvInt32("CHAT_DB_MAX_CONNS", 10),
		DBMinConns:       EnvInt32("CHAT_DB_MIN_CONNS", 0),
		DBSchema:         EnvString("CHAT_DB_SCHEMA", "chat"),
		DirectorySchema:  EnvString("CHAT_DIRECTORY_SCHEMA", "public"),
		DBEnsureSchema:   EnvBool("CHAT_DB_ENSURE_SCHEMA", true),
		SQLitePath:       EnvString("CHAT_SQLITE_PATH", ""),
		RedisURL:         EnvString("CHAT_REDIS_URL", ""),
		ReadinessRequire: EnvBool("CHAT_READINESS_REQUIRE_DB", false),
		DevSeed:          EnvBool("CHAT_DEV_SEED", false),

		PushProvider:      EnvString("CHAT_PUSH_PROVIDER", PushProviderNone),
		PushAsync:         EnvBool("CHAT_PUSH_ASYNC", false),
		PushConcurrency:   EnvInt("CHAT_PUSH_CONCURRENCY", 10),
		FirebaseProjectID: EnvString("CHAT_FIREBASE_PROJECT_ID", ""),
		FirebaseCredsFile: EnvString("CHAT_FIREBASE_CREDENTIALS_FILE", ""),
		FirebaseCredsJSON: EnvString("CHAT_FIREBASE_CREDENTIALS_JSON", ""),
		DeliveryTimeout:   EnvDuration("CHAT_DELIVERY_TIMEOUT", 10*time.Second),

		AuthPublicKeyHex: EnvString("CHAT_AUTH_PASETO_PUBLIC_KEY_HEX", ""),
		AuthIssuer:       EnvString("CHAT_AUTH_ISSUER", ""),
		AuthRequired:     EnvBool("CHAT_AUTH_REQUIRED", false),

		CORSAllowedOrigins:   EnvCSV("CHAT_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("CHAT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CHAT_CORS_MAX_AGE_SECONDS", 600),

		WS: chat.LoadWSConfigFromEnv(),
	}
}
