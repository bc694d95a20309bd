// Package config provides configuration handling for flowstudio.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Auth configuration
	Auth AuthConfig `json:"auth" yaml:"auth"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// VectorIndex configuration
	VectorIndex VectorIndexConfig `json:"vector_index" yaml:"vector_index"`

	// Redis configuration
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Chat configuration
	Chat ChatConfig `json:"chat" yaml:"chat"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host" yaml:"host"`

	// Port to listen on
	Port int `json:"port" yaml:"port"`

	// TLS configuration
	TLS TLSConfig `json:"tls" yaml:"tls"`
}

// TLSConfig contains TLS settings
type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Type of storage to use
	Type string `json:"type" yaml:"type"` // "memory", "dynamodb", "postgres"

	// DynamoDB configuration
	DynamoDB DynamoDBConfig `json:"dynamodb" yaml:"dynamodb"`

	// PostgreSQL configuration
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// DynamoDBConfig contains DynamoDB settings
type DynamoDBConfig struct {
	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the DynamoDB endpoint (for local development)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// TablePrefix is the prefix for all tables
	TablePrefix string `json:"table_prefix" yaml:"table_prefix"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	// JWTSecret is the secret for signing JWT tokens
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`

	// TokenExpiration is the token expiration time in hours
	TokenExpiration int `json:"token_expiration" yaml:"token_expiration"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is the logging level
	Level string `json:"level" yaml:"level"` // "debug", "info", "warn", "error"

	// Format is the log format
	Format string `json:"format" yaml:"format"` // "json", "text"

	// Output is the log output
	Output string `json:"output" yaml:"output"` // "stdout", "stderr", "file"

	// FilePath is the path to the log file
	FilePath string `json:"file_path" yaml:"file_path"`
}

// VectorIndexConfig contains settings for the vector index provider
type VectorIndexConfig struct {
	// Provider selects the backend
	Provider string `json:"provider" yaml:"provider"` // "memory", "pinecone"

	// APIKey authenticates against the provider
	APIKey string `json:"api_key" yaml:"api_key"`

	// BaseURL overrides the provider control plane URL
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIVersion is sent as the provider API version header
	APIVersion string `json:"api_version" yaml:"api_version"`
}

// RedisConfig contains Redis settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`

	// LockTTLSeconds bounds how long an index provisioning lock is held
	LockTTLSeconds int `json:"lock_ttl_seconds" yaml:"lock_ttl_seconds"`
}

// LockTTL returns the provisioning lock TTL as a duration
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ChatConfig contains settings for the Flowise chat backend
type ChatConfig struct {
	// BaseURL of the Flowise instance
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey is sent as a bearer token when set
	APIKey string `json:"api_key" yaml:"api_key"`

	// TimeoutSeconds bounds a single prediction call
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout returns the prediction timeout as a duration
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoadConfig loads the configuration from a JSON or YAML file.
// Values missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Storage: StorageConfig{
			Type: "memory",
			DynamoDB: DynamoDBConfig{
				Region:      "us-east-1",
				TablePrefix: "flowstudio_",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "flowstudio",
				User:     "flowstudio",
				SSLMode:  "disable",
			},
		},
		Auth: AuthConfig{
			TokenExpiration: 24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		VectorIndex: VectorIndexConfig{
			Provider:   "memory",
			BaseURL:    "https://api.pinecone.io",
			APIVersion: "2024-07",
		},
		Redis: RedisConfig{
			LockTTLSeconds: 30,
		},
		Chat: ChatConfig{
			BaseURL:        "http://localhost:3000",
			TimeoutSeconds: 60,
		},
	}
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	// Create the directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(config)
	} else {
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides configuration values from FLOWSTUDIO_* environment variables
func ApplyEnv(cfg *Config) {
	// Server configuration
	setString(&cfg.Server.Host, "FLOWSTUDIO_SERVER_HOST")
	setInt(&cfg.Server.Port, "FLOWSTUDIO_SERVER_PORT")

	// Storage configuration
	setString(&cfg.Storage.Type, "FLOWSTUDIO_STORAGE_TYPE")
	setString(&cfg.Storage.DynamoDB.Region, "FLOWSTUDIO_DYNAMODB_REGION")
	setString(&cfg.Storage.DynamoDB.Endpoint, "FLOWSTUDIO_DYNAMODB_ENDPOINT")
	setString(&cfg.Storage.DynamoDB.TablePrefix, "FLOWSTUDIO_DYNAMODB_TABLE_PREFIX")
	setString(&cfg.Storage.Postgres.Host, "FLOWSTUDIO_POSTGRES_HOST")
	setInt(&cfg.Storage.Postgres.Port, "FLOWSTUDIO_POSTGRES_PORT")
	setString(&cfg.Storage.Postgres.Database, "FLOWSTUDIO_POSTGRES_DATABASE")
	setString(&cfg.Storage.Postgres.User, "FLOWSTUDIO_POSTGRES_USER")
	setString(&cfg.Storage.Postgres.Password, "FLOWSTUDIO_POSTGRES_PASSWORD")
	setString(&cfg.Storage.Postgres.SSLMode, "FLOWSTUDIO_POSTGRES_SSL_MODE")

	// Auth configuration
	setString(&cfg.Auth.JWTSecret, "FLOWSTUDIO_JWT_SECRET")
	setInt(&cfg.Auth.TokenExpiration, "FLOWSTUDIO_TOKEN_EXPIRATION")

	// Logging configuration
	setString(&cfg.Logging.Level, "FLOWSTUDIO_LOG_LEVEL")
	setString(&cfg.Logging.Format, "FLOWSTUDIO_LOG_FORMAT")

	// Vector index configuration
	setString(&cfg.VectorIndex.Provider, "FLOWSTUDIO_VECTOR_PROVIDER")
	setString(&cfg.VectorIndex.APIKey, "PINECONE_API_KEY")
	setString(&cfg.VectorIndex.BaseURL, "FLOWSTUDIO_VECTOR_BASE_URL")

	// Redis configuration
	setString(&cfg.Redis.Addr, "FLOWSTUDIO_REDIS_ADDR")
	setString(&cfg.Redis.Password, "FLOWSTUDIO_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLOWSTUDIO_REDIS_DB")

	// Chat configuration
	setString(&cfg.Chat.BaseURL, "FLOWISE_BASE_URL")
	setString(&cfg.Chat.APIKey, "FLOWISE_API_KEY")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
