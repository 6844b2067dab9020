package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/rep-integrity/server/analysis"
	"github.com/san-kum/rep-integrity/server/models"
	"github.com/san-kum/rep-integrity/server/reps"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	ML        MLConfig        `json:"ml"`
	Security  SecurityConfig  `json:"security"`
	Database  DatabaseConfig  `json:"database"`
	Cache     CacheConfig     `json:"cache"`
	Processor ProcessorConfig `json:"processor"`
	Logging   LoggingConfig   `json:"logging"`
	Analysis  AnalysisConfig  `json:"analysis"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type MLConfig struct {
	BaseURL             string        `json:"base_url"`
	Timeout             time.Duration `json:"timeout"`
	MaxRetries          int           `json:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

type SecurityConfig struct {
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	MaxUploadSize  int64         `json:"max_upload_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHTTPS    bool          `json:"enable_https"`
	CertFile       string        `json:"cert_file"`
	KeyFile        string        `json:"key_file"`
}

type DatabaseConfig struct {
	Path     string `json:"path"`
	MaxConns int    `json:"max_connections"`
}

type CacheConfig struct {
	MaxSize         int           `json:"max_size"`
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type ProcessorConfig struct {
	Workers    int           `json:"workers"`
	QueueSize  int           `json:"queue_size"`
	JobTimeout time.Duration `json:"job_timeout"`
	JobTTL     time.Duration `json:"job_ttl"`
	UploadDir  string        `json:"upload_dir"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// AnalysisConfig is the engine configuration plus extra exercise kinds. It
// starts from the engine defaults and may be overlaid from a YAML file.
type AnalysisConfig struct {
	Engine    analysis.Config `yaml:",inline" json:"engine"`
	Exercises []reps.Exercise `yaml:"exercises" json:"exercises,omitempty"`
	Path      string          `yaml:"-" json:"path,omitempty"`
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		ML: MLConfig{
			BaseURL:             getEnv("ML_BASE_URL", "http://localhost:5000"),
			Timeout:             getEnvAsDuration("ML_TIMEOUT", 120*time.Second),
			MaxRetries:          getEnvAsInt("ML_MAX_RETRIES", 3),
			RetryDelay:          getEnvAsDuration("ML_RETRY_DELAY", 1*time.Second),
			HealthCheckInterval: getEnvAsDuration("ML_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 64*1024*1024),   // 64MB
			MaxUploadSize:  getEnvAsInt64("MAX_UPLOAD_SIZE", 500*1024*1024),   // 500MB
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			EnableHTTPS:    getEnvAsBool("ENABLE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Path:     getEnv("DB_PATH", "rep_integrity.db"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 4),
		},
		Cache: CacheConfig{
			MaxSize:         getEnvAsInt("CACHE_MAX_SIZE", 256),
			TTL:             getEnvAsDuration("CACHE_TTL", 30*time.Minute),
			CleanupInterval: getEnvAsDuration("CACHE_CLEANUP_INTERVAL", time.Minute),
		},
		Processor: ProcessorConfig{
			Workers:    getEnvAsInt("PROCESSOR_WORKERS", 2),
			QueueSize:  getEnvAsInt("PROCESSOR_QUEUE_SIZE", 32),
			JobTimeout: getEnvAsDuration("PROCESSOR_JOB_TIMEOUT", 10*time.Minute),
			JobTTL:     getEnvAsDuration("PROCESSOR_JOB_TTL", time.Hour),
			UploadDir:  getEnv("UPLOAD_DIR", os.TempDir()),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Analysis: AnalysisConfig{
			Engine: analysis.DefaultConfig(),
			Path:   getEnv("ANALYSIS_CONFIG", ""),
		},
	}

	config.Analysis.Engine.Workers = getEnvAsInt("ANALYSIS_WORKERS", config.Analysis.Engine.Workers)
	if policy := getEnv("CHEAT_POLICY", ""); policy != "" {
		config.Analysis.Engine.Integrity.Policy = models.CheatPolicy(policy)
	}

	if config.Analysis.Path != "" {
		if err := config.Analysis.LoadFile(config.Analysis.Path); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep
// their current value.
func (a *AnalysisConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read analysis config: %w", err)
	}
	return a.Overlay(data)
}

func (a *AnalysisConfig) Overlay(data []byte) error {
	next := AnalysisConfig{
		Engine:    a.Engine.Clone(),
		Exercises: append([]reps.Exercise(nil), a.Exercises...),
		Path:      a.Path,
	}
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("failed to parse analysis config: %w", err)
	}
	*a = next
	return nil
}

// Registry returns the built-in exercises extended with the configured ones.
func (a *AnalysisConfig) Registry() (*reps.Registry, error) {
	registry := reps.DefaultRegistry()
	for _, ex := range a.Exercises {
		next, err := registry.With(ex)
		if err != nil {
			return nil, err
		}
		registry = next
	}
	return registry, nil
}

// NewLogger builds the process logger the same way for every command.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}

	var zc zap.Config
	if c.Logging.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.ML.BaseURL == "" {
		errors = append(errors, "ML base URL is required")
	}

	if c.ML.MaxRetries < 0 {
		errors = append(errors, "ML max retries must not be negative")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Security.MaxUploadSize <= 0 {
		errors = append(errors, "max upload size must be positive")
	}

	if c.Security.RateLimitRPS <= 0 {
		errors = append(errors, "rate limit must be positive")
	}

	if c.Security.EnableHTTPS && (c.Security.CertFile == "" || c.Security.KeyFile == "") {
		errors = append(errors, "HTTPS requires cert and key files")
	}

	if c.Database.Path == "" {
		errors = append(errors, "database path is required")
	}

	if c.Cache.MaxSize <= 0 {
		errors = append(errors, "cache size must be positive")
	}

	if c.Processor.Workers <= 0 || c.Processor.QueueSize <= 0 {
		errors = append(errors, "processor workers and queue size must be positive")
	}

	if err := c.Analysis.Engine.Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	if _, err := c.Analysis.Registry(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(c.Security.AllowedOrigins) == 1 && c.Security.AllowedOrigins[0] == "*" && c.Server.Environment == "production" {
		logger.Warn("CORS allows every origin in production")
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
		return strings.Split(value, ",")
	}
	return defaultValue
}
