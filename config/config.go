package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete gateway configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	PolicyCache   PolicyCacheConfig
	Safety        SafetyConfig
	Budget        BudgetConfig
	Router        RouterConfig
	Providers     []ProviderConfig
	Redaction     RedactionConfig
	Incidents     IncidentConfig
	Evidence      *DatabaseConfig // Optional: nil disables durable receipts
	Redis         RedisConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// AuthConfig holds token validation configuration
type AuthConfig struct {
	Issuer        string
	Audience      string
	SigningSecret string
}

// PolicyCacheConfig holds policy snapshot cache tuning
type PolicyCacheConfig struct {
	AuthorityURL string
	FreshTTL     time.Duration
	HardTTL      time.Duration
	FetchTimeout time.Duration
}

// SafetyConfig holds classifier tuning
type SafetyConfig struct {
	InjectionBlockThreshold float64
}

// BudgetConfig holds quota ledger configuration
type BudgetConfig struct {
	LedgerURL string
	Timeout   time.Duration
}

// RouterConfig holds provider routing and circuit breaker tuning
type RouterConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	ProviderTimeout  time.Duration
	ChatChain        []string
	EmbeddingChain   []string
}

// ProviderConfig describes one model backend
type ProviderConfig struct {
	Name    string
	BaseURL string
	Timeout time.Duration
}

// RedactionConfig holds the external redaction engine endpoint.
// An empty BaseURL selects the passthrough redactor.
type RedactionConfig struct {
	BaseURL string
	Timeout time.Duration
}

// IncidentConfig holds escalation defaults and store selection
type IncidentConfig struct {
	EscalationThreshold int
	EscalationWindow    time.Duration
	Retention           time.Duration
}

// RedisConfig holds the shared incident store connection.
// An empty Addr selects the in-memory store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from EVIDENCE_DATABASE_URL) is set, it takes
// precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			Issuer:        getEnv("AUTH_ISSUER", "llm-safety-gateway"),
			Audience:      getEnv("AUTH_AUDIENCE", "llm-safety-gateway"),
			SigningSecret: getEnv("AUTH_SIGNING_SECRET", ""),
		},
		PolicyCache: PolicyCacheConfig{
			AuthorityURL: getEnv("POLICY_AUTHORITY_URL", ""),
			FreshTTL:     getEnvAsDuration("POLICY_FRESH_TTL", 60*time.Second),
			HardTTL:      getEnvAsDuration("POLICY_HARD_TTL", 5*time.Minute),
			FetchTimeout: getEnvAsDuration("POLICY_FETCH_TIMEOUT", 500*time.Millisecond),
		},
		Safety: SafetyConfig{
			InjectionBlockThreshold: getEnvAsFloat("SAFETY_INJECTION_BLOCK_THRESHOLD", 0.7),
		},
		Budget: BudgetConfig{
			LedgerURL: getEnv("BUDGET_LEDGER_URL", ""),
			Timeout:   getEnvAsDuration("BUDGET_TIMEOUT", 2*time.Second),
		},
		Router: RouterConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
			Cooldown:         getEnvAsDuration("BREAKER_COOLDOWN", 30*time.Second),
			ProviderTimeout:  getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
			ChatChain:        getEnvAsList("CHAT_PROVIDER_CHAIN", []string{"primary"}),
			EmbeddingChain:   getEnvAsList("EMBEDDING_PROVIDER_CHAIN", []string{"primary"}),
		},
		Providers: loadProviders(),
		Redaction: RedactionConfig{
			BaseURL: getEnv("REDACTION_URL", ""),
			Timeout: getEnvAsDuration("REDACTION_TIMEOUT", 2*time.Second),
		},
		Incidents: IncidentConfig{
			EscalationThreshold: getEnvAsInt("INCIDENT_ESCALATION_THRESHOLD", 5),
			EscalationWindow:    getEnvAsDuration("INCIDENT_ESCALATION_WINDOW", time.Hour),
			Retention:           getEnvAsDuration("INCIDENT_RETENTION", 24*time.Hour),
		},
		Evidence: loadEvidenceConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.Auth.SigningSecret == "" {
			return fmt.Errorf("auth signing secret is required in production")
		}
		if c.PolicyCache.AuthorityURL == "" {
			return fmt.Errorf("policy authority URL is required in production")
		}
		if len(c.Providers) == 0 {
			return fmt.Errorf("at least one provider must be configured in production")
		}
	}

	if c.PolicyCache.FreshTTL >= c.PolicyCache.HardTTL {
		return fmt.Errorf("policy fresh TTL must be shorter than hard TTL")
	}
	if c.Safety.InjectionBlockThreshold <= 0 || c.Safety.InjectionBlockThreshold > 1 {
		return fmt.Errorf("injection block threshold must be in (0, 1]")
	}
	if c.Router.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from EVIDENCE_DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadEvidenceConfig loads the evidence DB config from EVIDENCE_DATABASE_URL
// or EVIDENCE_DB_* vars. Returns nil when neither is set: durable receipts
// are then disabled and decisions are logged only.
func loadEvidenceConfig() *DatabaseConfig {
	dbURL := getEnv("EVIDENCE_DATABASE_URL", "")
	if dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("EVIDENCE_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("EVIDENCE_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("EVIDENCE_DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if getEnv("EVIDENCE_DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("EVIDENCE_DB_HOST", "localhost"),
		Port:            getEnvAsInt("EVIDENCE_DB_PORT", 5432),
		User:            getEnv("EVIDENCE_DB_USER", "gateway"),
		Password:        getEnv("EVIDENCE_DB_PASSWORD", ""),
		Database:        getEnv("EVIDENCE_DB_NAME", "evidence"),
		SSLMode:         getEnv("EVIDENCE_DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("EVIDENCE_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("EVIDENCE_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("EVIDENCE_DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadProviders reads PROVIDERS as a comma-separated list of names and
// resolves each backend URL from PROVIDER_<NAME>_URL.
func loadProviders() []ProviderConfig {
	names := getEnvAsList("PROVIDERS", nil)
	timeout := getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second)
	var out []ProviderConfig
	for _, name := range names {
		envKey := "PROVIDER_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_URL"
		baseURL := getEnv(envKey, "")
		if baseURL == "" {
			continue
		}
		out = append(out, ProviderConfig{
			Name:    name,
			BaseURL: baseURL,
			Timeout: timeout,
		})
	}
	return out
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
