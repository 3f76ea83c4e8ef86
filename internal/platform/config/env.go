package config

import (
	"os"
	"strconv"
	"time"
)

// ApplyEnv overrides file values with any non-empty environment variables.
func (c *Config) ApplyEnv() {
	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
	c.MetricsListen = envString("METRICS_ADDR", c.MetricsListen)

	c.API.Listen = envString("SCHEDULE_API_ADDR", c.API.Listen)
	c.API.AllowedOrigin = envString("UI_ORIGIN", c.API.AllowedOrigin)
	c.API.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", c.API.ShutdownTimeout)

	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MinConns = envInt("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConns = envInt("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MaxConnLifetime = envDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = envDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.HealthCheckPeriod = envDuration("DB_HEALTH_CHECK_PERIOD", c.Database.HealthCheckPeriod)

	c.NATS.URL = envString("NATS_URL", c.NATS.URL)
	c.NATS.ConnectTimeout = envDuration("NATS_CONNECT_TIMEOUT", c.NATS.ConnectTimeout)

	c.Auth.JWTSecret = envString("JWT_SECRET", c.Auth.JWTSecret)

	c.Guest.StartingCredits = envInt("GUEST_STARTING_CREDITS", c.Guest.StartingCredits)

	c.Sync.Cron = envString("SYNC_CRON", c.Sync.Cron)
	c.Sync.CacheDir = envString("SYNC_CACHE_DIR", c.Sync.CacheDir)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
