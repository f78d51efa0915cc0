package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/compliai/auditplanner/internal/ports"
)

// Config represents application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	AI        AIConfig        `json:"ai"`
	Redis     RedisConfig     `json:"redis"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Workflow  WorkflowConfig  `json:"workflow"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
	CORSOrigins  []string      `json:"cors_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver         string        `json:"driver"` // postgres, memory
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"dbname"`
	SSLMode        string        `json:"sslmode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleTime    time.Duration `json:"max_idle_time"`
	MigrationsPath string        `json:"migrations_path"`
}

// AIConfig represents LLM gateway configuration
type AIConfig struct {
	Provider      string  `json:"provider"` // mock, openai, ollama
	APIKey        string  `json:"api_key"`
	BaseURL       string  `json:"base_url"`
	Model         string  `json:"model"`
	TimeoutMs     int     `json:"timeout_ms"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	EnableCache   bool    `json:"enable_cache"`
	CacheTTLMin   int     `json:"cache_ttl_min"`
	MockLatencyMs int     `json:"mock_latency_ms"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool          `json:"enabled"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	Timeout  time.Duration `json:"timeout"`
}

// RetrievalConfig represents document retrieval service configuration.
// An empty base URL leaves the service unavailable.
type RetrievalConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

// WorkflowConfig holds stage time limits, extraction bounds and the reconciliation sweep
type WorkflowConfig struct {
	AnalysisTimeout           time.Duration `json:"analysis_timeout"`
	SynthesisTimeout          time.Duration `json:"synthesis_timeout"`
	DocumentQueryTimeout      time.Duration `json:"document_query_timeout"`
	ExtractionEnabled         bool          `json:"extraction_enabled"`
	ExtractionMaxConcurrency  int           `json:"extraction_max_concurrency"`
	ExtractionMinChunkChars   int           `json:"extraction_min_chunk_chars"`
	ExtractionWindowThreshold int           `json:"extraction_window_threshold"`
	ExtractionWindowSize      int           `json:"extraction_window_size"`
	ExtractionWindowOverlap   int           `json:"extraction_window_overlap"`
	ReconcileInterval         time.Duration `json:"reconcile_interval"` // 0 disables the sweep
	ReconcileGrace            time.Duration `json:"reconcile_grace"`
}

// KnowledgeConfig points at an optional catalog override file
type KnowledgeConfig struct {
	CatalogPath string `json:"catalog_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json, text
}

// Load loads configuration from environment variables and defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
			CORSOrigins:  getEnvSlice("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:         strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", ""),
			DBName:         getEnv("DB_NAME", "auditplanner"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxConnections: getEnvInt("DB_MAX_CONNECTIONS", 20),
			MaxIdleTime:    getEnvDuration("DB_MAX_IDLE_TIME", 30*time.Minute),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "./migrations"),
		},
		AI: AIConfig{
			Provider:      strings.ToLower(getEnv("AI_PROVIDER", "mock")),
			APIKey:        getEnv("AI_API_KEY", ""),
			BaseURL:       getEnv("AI_BASE_URL", ""),
			Model:         getEnv("AI_MODEL", "gpt-3.5-turbo"),
			TimeoutMs:     getEnvInt("AI_TIMEOUT_MS", 600000),
			Temperature:   getEnvFloat("AI_TEMPERATURE", 0.2),
			MaxTokens:     getEnvInt("AI_MAX_TOKENS", 2048),
			EnableCache:   getEnvBool("AI_ENABLE_CACHE", false),
			CacheTTLMin:   getEnvInt("AI_CACHE_TTL_MIN", 60),
			MockLatencyMs: getEnvInt("AI_MOCK_LATENCY_MS", 0),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
			Timeout:  getEnvDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Retrieval: RetrievalConfig{
			BaseURL: getEnv("RETRIEVAL_BASE_URL", ""),
			APIKey:  getEnv("RETRIEVAL_API_KEY", ""),
			Timeout: getEnvDuration("RETRIEVAL_TIMEOUT", 3*time.Minute),
		},
		Workflow: WorkflowConfig{
			AnalysisTimeout:           getEnvDuration("ANALYSIS_TIMEOUT", 5*time.Minute),
			SynthesisTimeout:          getEnvDuration("SYNTHESIS_TIMEOUT", 10*time.Minute),
			DocumentQueryTimeout:      getEnvDuration("DOCUMENT_QUERY_TIMEOUT", 3*time.Minute),
			ExtractionEnabled:         getEnvBool("EXTRACTION_ENABLED", true),
			ExtractionMaxConcurrency:  getEnvInt("EXTRACTION_MAX_CONCURRENCY", 4),
			ExtractionMinChunkChars:   getEnvInt("EXTRACTION_MIN_CHUNK_CHARS", 100),
			ExtractionWindowThreshold: getEnvInt("EXTRACTION_WINDOW_THRESHOLD", 20000),
			ExtractionWindowSize:      getEnvInt("EXTRACTION_WINDOW_SIZE", 4000),
			ExtractionWindowOverlap:   getEnvInt("EXTRACTION_WINDOW_OVERLAP", 1000),
			ReconcileInterval:         getEnvDuration("RECONCILE_INTERVAL", 0),
			ReconcileGrace:            getEnvDuration("RECONCILE_GRACE", 5*time.Minute),
		},
		Knowledge: KnowledgeConfig{
			CatalogPath: getEnv("CATALOG_PATH", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch c.AI.Provider {
	case "mock", "ollama":
	case "openai":
		if c.AI.APIKey == "" {
			return fmt.Errorf("AI API key is required for provider: %s", c.AI.Provider)
		}
	case "":
		return fmt.Errorf("AI provider is required")
	default:
		return fmt.Errorf("unsupported AI provider: %s", c.AI.Provider)
	}

	if c.Workflow.AnalysisTimeout <= 0 || c.Workflow.SynthesisTimeout <= 0 || c.Workflow.DocumentQueryTimeout <= 0 {
		return fmt.Errorf("workflow stage timeouts must be positive")
	}

	if c.Workflow.ExtractionWindowOverlap >= c.Workflow.ExtractionWindowSize {
		return fmt.Errorf("extraction window overlap (%d) must be smaller than window size (%d)",
			c.Workflow.ExtractionWindowOverlap, c.Workflow.ExtractionWindowSize)
	}

	return nil
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// GetDatabaseURL returns the database connection URL
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// ToAIConfig converts to ports.AIConfig
func (c *Config) ToAIConfig() ports.AIConfig {
	return ports.AIConfig{
		Provider:    c.AI.Provider,
		APIKey:      c.AI.APIKey,
		BaseURL:     c.AI.BaseURL,
		Model:       c.AI.Model,
		Temperature: c.AI.Temperature,
		MaxTokens:   c.AI.MaxTokens,
		TimeoutMs:   c.AI.TimeoutMs,
		EnableCache: c.AI.EnableCache,
		CacheTTLMin: c.AI.CacheTTLMin,
		LatencyMs:   c.AI.MockLatencyMs,
	}
}

// Helper functions for environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
