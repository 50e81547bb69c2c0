package config

import (
	"fmt"
	"time"

	"workchat-backend/pkg/database"
	"workchat-backend/pkg/env"
)

// Config holds all configuration for the chat service
type Config struct {
	Server    ServerConfig
	Cockroach database.CockroachConfig
	Cassandra database.CassandraConfig
	Redis     database.RedisConfig
	MinIO     MinIOConfig
	SMTP      SMTPConfig
	Auth      AuthConfig
	Log       LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// MinIOConfig holds object storage configuration for attachment URLs
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	URLExpiry time.Duration
}

// SMTPConfig holds outbound notification email configuration
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// AuthConfig holds token configuration: the access-token secret used by the
// auth middleware and the room-token issuer settings.
type AuthConfig struct {
	JWTSecret    string
	RoomTokenTTL time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8082),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "chat-service"),
		},
		Cockroach: database.CockroachConfig{
			Host:     env.GetString("COCKROACH_HOST", "localhost"),
			Port:     env.GetInt("COCKROACH_PORT", 26257),
			User:     env.GetString("COCKROACH_USER", "root"),
			Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
			Database: env.GetString("COCKROACH_DATABASE", "workchat_db"),
			SSLMode:  env.GetString("COCKROACH_SSLMODE", "disable"),
			MaxConns: env.GetInt("COCKROACH_MAX_CONNS", 25),
			MinConns: env.GetInt("COCKROACH_MIN_CONNS", 5),
		},
		Cassandra: database.CassandraConfig{
			Hosts:       env.GetSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:    env.GetString("CASSANDRA_KEYSPACE", "workchat_ks"),
			Username:    env.GetStringFromFile("CASSANDRA_USER", ""),
			Password:    env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Consistency: env.GetString("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:     env.GetDuration("CASSANDRA_TIMEOUT", 10*time.Second),
		},
		Redis: database.RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		MinIO: MinIOConfig{
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Bucket:    env.GetString("MINIO_BUCKET", "workchat-attachments"),
			URLExpiry: env.GetDuration("MINIO_URL_EXPIRY", 15*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     env.GetString("SMTP_HOST", "localhost"),
			Port:     env.GetInt("SMTP_PORT", 587),
			Username: env.GetString("SMTP_USERNAME", ""),
			Password: env.GetStringFromFile("SMTP_PASSWORD", ""),
			From:     env.GetString("SMTP_FROM", "noreply@workchat.local"),
		},
		Auth: AuthConfig{
			JWTSecret:    env.GetStringFromFile("JWT_SECRET", ""),
			RoomTokenTTL: env.GetDuration("ROOM_TOKEN_TTL", 6*time.Hour),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Server.Environment == "production" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	return nil
}
