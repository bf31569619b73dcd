// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Gateway  GatewayConfig
	Replay   ReplayConfig
	Redis    RedisConfig
	Verifier VerifierConfig
	Receipt  ReceiptConfig
	Database DatabaseConfig
	Events   EventsConfig
	Access   AccessConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host                string
	Port                string
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
	ShutdownGracePeriod time.Duration
	TLSCertFile         string
	TLSKeyFile          string
}

type GatewayConfig struct {
	ID               string
	FreshnessWindow  time.Duration
	RegistryPath     string
	EventQueueSize   int
	MaxRequestBodyKB int
}

type ReplayConfig struct {
	// Backend is "memory" or "redis".
	Backend       string
	SweepInterval time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type VerifierConfig struct {
	// Backend is "noir", "groth16" or "mock".
	Backend     string
	MockEnabled bool
	NargoBin    string
	CircuitsDir string
	CacheDir    string
	VerifyArgs  []string
	Timeout     time.Duration
}

type ReceiptConfig struct {
	SigningKey        string
	SigningKeyFile    string
	KeyID             string
	AllowEphemeralKey bool
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
}

type EventsConfig struct {
	AMQPURL    string
	Exchange   string
	RoutingKey string
}

type AccessConfig struct {
	// APIKeys holds "sha256hex:tier" entries.
	APIKeys            []string
	RateLimitPerMinute int
	CORSOrigins        []string
}

type LogConfig struct {
	Level string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                getEnv("SERVER_PORT", "8080"),
			ReadTimeout:         getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:        getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:         getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownGracePeriod: getDurationEnv("SHUTDOWN_GRACE_PERIOD", 30*time.Second),
			TLSCertFile:         getEnv("TLS_CERT_FILE", ""),
			TLSKeyFile:          getEnv("TLS_KEY_FILE", ""),
		},
		Gateway: GatewayConfig{
			ID:               getEnv("GATEWAY_ID", defaultGatewayID()),
			FreshnessWindow:  getDurationEnv("FRESHNESS_WINDOW", 5*time.Minute),
			RegistryPath:     getEnv("PREDICATE_REGISTRY_PATH", ""),
			EventQueueSize:   getIntEnv("EVENT_QUEUE_SIZE", 1024),
			MaxRequestBodyKB: getIntEnv("MAX_REQUEST_BODY_KB", 1024),
		},
		Replay: ReplayConfig{
			Backend:       strings.ToLower(getEnv("REPLAY_BACKEND", "memory")),
			SweepInterval: getDurationEnv("REPLAY_SWEEP_INTERVAL", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Verifier: VerifierConfig{
			Backend:     strings.ToLower(getEnv("VERIFIER_BACKEND", "noir")),
			MockEnabled: getBoolEnv("VERIFIER_MOCK_ENABLED", false),
			NargoBin:    getEnv("NARGO_BIN", "nargo"),
			CircuitsDir: getEnv("NOIR_CIRCUITS_DIR", "circuits/noir/predicates"),
			CacheDir:    getEnv("VERIFIER_CACHE_DIR", os.TempDir()+"/zkdpp-circuits"),
			VerifyArgs:  getListEnv("VERIFIER_VERIFY_ARGS", []string{"verify"}),
			Timeout:     getDurationEnv("VERIFIER_TIMEOUT", 30*time.Second),
		},
		Receipt: ReceiptConfig{
			SigningKey:        getEnv("RECEIPT_SIGNING_KEY", ""),
			SigningKeyFile:    getEnv("RECEIPT_SIGNING_KEY_FILE", ""),
			KeyID:             getEnv("RECEIPT_KEY_ID", ""),
			AllowEphemeralKey: getBoolEnv("RECEIPT_ALLOW_EPHEMERAL_KEY", false),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath:  getEnv("MIGRATIONS_PATH", "file://migrations"),
		},
		Events: EventsConfig{
			AMQPURL:    getEnv("AMQP_URL", ""),
			Exchange:   getEnv("EVENTS_EXCHANGE", "verification"),
			RoutingKey: getEnv("EVENTS_ROUTING_KEY", "verification.completed"),
		},
		Access: AccessConfig{
			APIKeys:            getListEnv("API_KEYS", nil),
			RateLimitPerMinute: getIntEnv("RATE_LIMIT_PER_MINUTE", 120),
			CORSOrigins:        getListEnv("CORS_ALLOWED_ORIGINS", nil),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

func defaultGatewayID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "zk-gateway"
	}
	return "zk-gateway-" + host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
