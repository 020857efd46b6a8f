// Package config provides environment configuration for the chat services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerHost         string
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	AllowedOrigins     []string

	// Database settings
	DBDriver       string
	DBDSN          string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Completion endpoint consumed by the chat orchestrator
	CompletionURL       string
	CompletionStreaming bool
	CompletionTimeout   time.Duration
	MaxMalformedEvents  int

	// Upstream model provider used by the completion server and ingestion
	Provider Provider

	// Vector store
	VectorDir        string
	VectorCollection string
	RetrievalTopK    int

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSEnabled  bool

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string
	Env      string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
	ServiceName     string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables take precedence over it.
func Load() *Config {
	_ = godotenv.Load()

	host := getEnv("HOST", "127.0.0.1")
	port := getEnv("PORT", "8080")
	ragPort := getEnv("RAG_PORT", "8012")

	return &Config{
		// Server
		ServerHost:         host,
		ServerPort:         port,
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		AllowedOrigins:     getListEnv("ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),

		// Database
		DBDriver:       getEnv("DB_DRIVER", "sqlite"),
		DBDSN:          getEnv("DB_DSN", "chat.db"),
		DBMaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns: getIntEnv("DB_MAX_IDLE_CONNS", 2),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 24*time.Hour),

		// Completion
		CompletionURL:       getEnv("COMPLETION_URL", "http://"+host+":"+ragPort+"/v1/chat/completions"),
		CompletionStreaming: getBoolEnv("COMPLETION_STREAMING", true),
		CompletionTimeout:   getDurationEnv("COMPLETION_TIMEOUT", 2*time.Minute),
		MaxMalformedEvents:  getIntEnv("MAX_MALFORMED_EVENTS", 5),

		// Provider
		Provider: ResolveProvider(getEnv("LLM_TYPE", string(DefaultProviderKind))),

		// Vector store
		VectorDir:        getEnv("VECTOR_DIR", "chromaDB"),
		VectorCollection: getEnv("VECTOR_COLLECTION", "demo001"),
		RetrievalTopK:    getIntEnv("RETRIEVAL_TOP_K", 5),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("ENV", "production"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
		ServiceName:     getEnv("SERVICE_NAME", "chat-api"),
	}
}

// RAGAddr is the listen address of the completion server.
func (c *Config) RAGAddr() string {
	return c.ServerHost + ":" + getEnv("RAG_PORT", "8012")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
