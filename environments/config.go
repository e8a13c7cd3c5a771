package environments

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Evolution EvolutionConfig
	Worker    WorkerConfig
	Crypto    CryptoConfig
	Alert     AlertConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port string
}

// DatabaseConfig points at the central database (tenant accounts). Tenant
// databases are reached through per-account connection strings instead.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type EvolutionConfig struct {
	BaseURL string
	Timeout time.Duration
}

type WorkerConfig struct {
	BatchSize     int
	RunInterval   time.Duration
	ThrottleMin   time.Duration
	ThrottleMax   time.Duration
	PoolCacheSize int
}

type CryptoConfig struct {
	Secret string
}

type AlertConfig struct {
	WebhookURL string
	Threshold  int
}

type AuthConfig struct {
	AdminAPIKey  string
	WorkerAPIKey string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "zapleads"),
			Password: GetEnv("DB_PASSWORD", "zapleads123"),
			DBName:   GetEnv("DB_NAME", "zapleads_central"),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvAsInt("REDIS_DB", 0),
		},
		Evolution: EvolutionConfig{
			BaseURL: GetEnv("EVOLUTION_API_URL", "http://localhost:8090"),
			Timeout: time.Duration(GetEnvAsInt("EVOLUTION_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Worker: WorkerConfig{
			BatchSize:     GetEnvAsInt("WORKER_BATCH_SIZE", 10),
			RunInterval:   GetEnvAsDuration("WORKER_RUN_INTERVAL", 2*time.Minute),
			ThrottleMin:   GetEnvAsDuration("WORKER_THROTTLE_MIN", 3*time.Second),
			ThrottleMax:   GetEnvAsDuration("WORKER_THROTTLE_MAX", 7*time.Second),
			PoolCacheSize: GetEnvAsInt("TENANT_POOL_CACHE_SIZE", 10),
		},
		Crypto: CryptoConfig{
			Secret: GetEnv("ENCRYPTION_SECRET", ""),
		},
		Alert: AlertConfig{
			WebhookURL: GetEnv("ALERT_WEBHOOK_URL", ""),
			Threshold:  GetEnvAsInt("ALERT_THRESHOLD", 0),
		},
		Auth: AuthConfig{
			AdminAPIKey:  GetEnv("ADMIN_API_KEY", ""),
			WorkerAPIKey: GetEnv("WORKER_API_KEY", ""),
		},
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
