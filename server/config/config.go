package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Model     ModelConfig     `json:"model"`
	Landmark  LandmarkConfig  `json:"landmark"`
	Processor ProcessorConfig `json:"processor"`
	Security  SecurityConfig  `json:"security"`
	Redis     RedisConfig     `json:"redis"`
	Session   SessionConfig   `json:"session"`
	Logging   LoggingConfig   `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type ModelConfig struct {
	ScalerPath     string `json:"scaler_path"`
	ClassifierPath string `json:"classifier_path"`
	EncoderPath    string `json:"encoder_path"`
	Version        string `json:"version"`
}

type LandmarkConfig struct {
	BaseURL             string        `json:"base_url"`
	Timeout             time.Duration `json:"timeout"`
	MaxRetries          int           `json:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

type ProcessorConfig struct {
	MaxQueueSize      int           `json:"max_queue_size"`
	MaxWorkers        int           `json:"max_workers"`
	ProcessingTimeout time.Duration `json:"processing_timeout"`
	CacheResults      bool          `json:"cache_results"`
	CacheTTL          time.Duration `json:"cache_ttl"`
	CacheSize         int           `json:"cache_size"`
}

type SecurityConfig struct {
	JWTSecretKey   string        `json:"jwt_secret_key"`
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHTTPS    bool          `json:"enable_https"`
	CertFile       string        `json:"cert_file"`
	KeyFile        string        `json:"key_file"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	Prefix   string `json:"prefix"`
}

type SessionConfig struct {
	Window int           `json:"window"`
	TTL    time.Duration `json:"ttl"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Output     string `json:"output"`
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
}

// LoadConfig reads the environment, after loading a .env file when one exists.
func LoadConfig() *Config {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Model: ModelConfig{
			ScalerPath:     getEnv("MODEL_SCALER_PATH", "models/rf_scaler.json"),
			ClassifierPath: getEnv("MODEL_CLASSIFIER_PATH", "models/rf_drowsiness_model.json"),
			EncoderPath:    getEnv("MODEL_ENCODER_PATH", "models/rf_label_encoder.json"),
			Version:        getEnv("MODEL_VERSION", "rf-1"),
		},
		Landmark: LandmarkConfig{
			BaseURL:             getEnv("LANDMARK_BASE_URL", "http://localhost:5000"),
			Timeout:             getEnvAsDuration("LANDMARK_TIMEOUT", 5*time.Second),
			MaxRetries:          getEnvAsInt("LANDMARK_MAX_RETRIES", 2),
			RetryDelay:          getEnvAsDuration("LANDMARK_RETRY_DELAY", 200*time.Millisecond),
			HealthCheckInterval: getEnvAsDuration("LANDMARK_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Processor: ProcessorConfig{
			MaxQueueSize:      getEnvAsInt("PROCESSOR_MAX_QUEUE_SIZE", 100),
			MaxWorkers:        getEnvAsInt("PROCESSOR_MAX_WORKERS", 4),
			ProcessingTimeout: getEnvAsDuration("PROCESSOR_TIMEOUT", 10*time.Second),
			CacheResults:      getEnvAsBool("PROCESSOR_CACHE_RESULTS", true),
			CacheTTL:          getEnvAsDuration("PROCESSOR_CACHE_TTL", 5*time.Minute),
			CacheSize:         getEnvAsInt("PROCESSOR_CACHE_SIZE", 1000),
		},
		Security: SecurityConfig{
			JWTSecretKey:   getEnv("JWT_SECRET_KEY", ""),
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 10*1024*1024), // 10MB
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			EnableHTTPS:    getEnvAsBool("ENABLE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
			Prefix:   getEnv("REDIS_PREFIX", "drowsiness:"),
		},
		Session: SessionConfig{
			Window: getEnvAsInt("SESSION_WINDOW", 30),
			TTL:    getEnvAsDuration("SESSION_TTL", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			MaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
			MaxAge:     getEnvAsInt("LOG_MAX_AGE", 28),
		},
	}

	return config
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.Model.ScalerPath == "" || c.Model.ClassifierPath == "" || c.Model.EncoderPath == "" {
		errors = append(errors, "scaler, classifier and encoder paths are required")
	}

	if c.Landmark.BaseURL == "" {
		errors = append(errors, "landmark service URL is required")
	}

	if c.Landmark.MaxRetries < 0 {
		errors = append(errors, "landmark max retries cannot be negative")
	}

	if c.Processor.MaxWorkers < 1 {
		errors = append(errors, "processor needs at least one worker")
	}

	if c.Processor.MaxQueueSize < 1 {
		errors = append(errors, "processor queue size must be positive")
	}

	if c.Processor.ProcessingTimeout <= 0 {
		errors = append(errors, "processing timeout must be positive")
	}

	if c.Security.JWTSecretKey == "" {
		logger.Warn("JWT secret key not set, admin routes will reject every token until JWT_SECRET_KEY is configured")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Security.RateLimitRPS <= 0 || c.Security.RateLimitBurst <= 0 {
		errors = append(errors, "rate limit RPS and burst must be positive")
	}

	if c.Security.EnableHTTPS && (c.Security.CertFile == "" || c.Security.KeyFile == "") {
		errors = append(errors, "HTTPS requires CERT_FILE and KEY_FILE")
	}

	if c.Redis.Host != "" && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		errors = append(errors, "Redis port must be between 1 and 65535")
	}

	if c.Session.Window < 1 {
		errors = append(errors, "session window must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
