package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port   string
	AppEnv string

	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisURL     string
	QueueBackend string

	EvolutionURL    string
	EvolutionAPIKey string
	BackendURL      string

	Timezone          string
	WorkerConcurrency int
	SchedulerInterval time.Duration
	JobMaxAttempts    int
	JobBackoff        time.Duration

	LogLevel string
	LogFile  string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file loaded, using process environment")
	}

	return &Config{
		Port:   getEnv("PORT", "3001"),
		AppEnv: getEnv("APP_ENV", "development"),

		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBPath:     getEnv("DB_PATH", "./zapflow.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "zapflow"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		QueueBackend: getEnv("QUEUE_BACKEND", "redis"),

		EvolutionURL:    getEnv("EVOLUTION_URL", "http://localhost:8080"),
		EvolutionAPIKey: getEnv("EVOLUTION_API_KEY", ""),
		BackendURL:      getEnv("BACKEND_URL", "http://localhost:3001"),

		Timezone:          getEnv("TIMEZONE", "America/Sao_Paulo"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 5),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
		JobMaxAttempts:    getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobBackoff:        getEnvDuration("JOB_BACKOFF", 10*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", c.Timezone).Msg("Unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return d
}
