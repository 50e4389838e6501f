package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/echonote/echonote/errors"
)

// Speech-to-text providers
const (
	STTProviderGroq       = "groq"
	STTProviderAssemblyAI = "assemblyai"
)

// Config holds application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Groq     GroqConfig
	Assembly AssemblyAIConfig
	JWT      JWTConfig
	Pipeline PipelineConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string   `envconfig:"PORT" default:"8080"`
	Host            string   `envconfig:"HOST" default:"0.0.0.0"`
	Environment     string   `envconfig:"ENVIRONMENT" default:"development"`
	AllowedOrigins  []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout int      `envconfig:"SHUTDOWN_TIMEOUT" default:"10"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host        string `envconfig:"DB_HOST" default:"localhost"`
	Port        string `envconfig:"DB_PORT" default:"5432"`
	User        string `envconfig:"DB_USER" default:"postgres"`
	Password    string `envconfig:"DB_PASSWORD" default:"postgres"`
	Name        string `envconfig:"DB_NAME" default:"echonote"`
	SSLMode     string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns    int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns    int    `envconfig:"DB_MIN_CONNS" default:"5"`
	AutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"false"`
	Migrations  string `envconfig:"DB_MIGRATIONS_DIR" default:"migrations"`
}

// RedisConfig holds Redis configuration. An empty Host selects the in-process cache.
type RedisConfig struct {
	Host     string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string        `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	TTL      time.Duration `envconfig:"CACHE_TTL" default:"24h"`
}

// StorageConfig holds blob storage configuration
type StorageConfig struct {
	Endpoint        string `envconfig:"STORAGE_ENDPOINT" default:"localhost:9000"`
	AccessKeyID     string `envconfig:"STORAGE_ACCESS_KEY" default:"minioadmin"`
	SecretAccessKey string `envconfig:"STORAGE_SECRET_KEY" default:"minioadmin"`
	BucketName      string `envconfig:"STORAGE_BUCKET" default:"echonote-bucket"`
	UseSSL          bool   `envconfig:"STORAGE_USE_SSL" default:"false"`
	PublicURL       string `envconfig:"STORAGE_PUBLIC_URL"`
}

// GroqConfig holds Groq API configuration (Whisper transcription and chat translation)
type GroqConfig struct {
	APIKey           string        `envconfig:"GROQ_API_KEY"`
	BaseURL          string        `envconfig:"GROQ_API_URL" default:"https://api.groq.com"`
	WhisperModel     string        `envconfig:"GROQ_WHISPER_MODEL" default:"whisper-large-v3-turbo"`
	TranslationModel string        `envconfig:"GROQ_TRANSLATION_MODEL" default:"llama-3.1-8b-instant"`
	Timeout          time.Duration `envconfig:"GROQ_TIMEOUT" default:"30s"`
}

// AssemblyAIConfig holds AssemblyAI configuration
type AssemblyAIConfig struct {
	APIKey string `envconfig:"ASSEMBLYAI_API_KEY"`
}

// JWTConfig holds JWT verification configuration
type JWTConfig struct {
	AccessSecret string        `envconfig:"JWT_ACCESS_SECRET"`
	AccessExpiry time.Duration `envconfig:"JWT_ACCESS_EXPIRY" default:"15m"`
	Issuer       string        `envconfig:"JWT_ISSUER" default:"echonote"`
}

// PipelineConfig tunes the live streaming pipeline
type PipelineConfig struct {
	STTProvider     string        `envconfig:"STT_PROVIDER" default:"groq"`
	QueueCapacity   int           `envconfig:"PIPELINE_QUEUE_CAPACITY" default:"3"`
	PersistTimeout  time.Duration `envconfig:"PERSIST_TIMEOUT" default:"30s"`
	PersistRetries  uint64        `envconfig:"PERSIST_MAX_RETRIES" default:"3"`
	FinalizeTimeout time.Duration `envconfig:"FINALIZE_TIMEOUT" default:"2m"`
	AudioExtension  string        `envconfig:"AUDIO_EXTENSION" default:"flac"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables or defaults")
	}

	config := &Config{}
	if err := envconfig.Process("", config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Validate required fields
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" {
		return errors.ErrConfig("JWT_ACCESS_SECRET")
	}
	if c.Groq.APIKey == "" {
		// translation always goes through Groq
		return errors.ErrConfig("GROQ_API_KEY")
	}
	switch strings.ToLower(c.Pipeline.STTProvider) {
	case STTProviderGroq:
	case STTProviderAssemblyAI:
		if c.Assembly.APIKey == "" {
			return errors.ErrConfig("ASSEMBLYAI_API_KEY")
		}
	default:
		return errors.ErrInvalidArgument(fmt.Sprintf("unsupported STT_PROVIDER %q", c.Pipeline.STTProvider))
	}
	if c.Storage.BucketName == "" {
		return errors.ErrConfig("STORAGE_BUCKET")
	}
	if c.Pipeline.QueueCapacity < 1 {
		return errors.ErrInvalidArgument("PIPELINE_QUEUE_CAPACITY must be at least 1")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}
