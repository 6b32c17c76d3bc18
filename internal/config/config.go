package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"perf-agent-server/shared/logger"
	"perf-agent-server/shared/utils"
)

const (
	// Docker secret names used when the matching env var is empty.
	aiAPIKeySecret   = "ai_api_key"
	dbPasswordSecret = "db_password"
)

// Config holds settings shared by the API server, the worker and the CLI.
type Config struct {
	AppEnv         string `env:"APP_ENV" env-default:"development"`
	LogLevel       string `env:"LOG_LEVEL" env-default:""` // empty: debug in development, info otherwise
	LogEncoding    string `env:"LOG_ENCODING" env-default:"json"`
	HTTPServerPort string `env:"HTTP_SERVER_PORT" env-default:"8080"`
	MetricsPort    string `env:"METRICS_PORT" env-default:"9091"`
	// PushgatewayURL, when set, makes the worker push its metrics as well as serve them.
	PushgatewayURL      string        `env:"PUSHGATEWAY_URL" env-default:""`
	MetricsPushInterval time.Duration `env:"METRICS_PUSH_INTERVAL" env-default:"15s"`
	CORSAllowedOrigins  string        `env:"CORS_ALLOWED_ORIGINS" env-default:"http://localhost:3000"`

	AI       AIConfig
	DB       DBConfig
	RabbitMQ RabbitMQConfig
}

// AIConfig selects and configures the upstream generative-AI service.
type AIConfig struct {
	ClientType string `env:"AI_CLIENT_TYPE" env-default:"gemini"` // gemini | openai | ollama
	BaseURL    string `env:"AI_BASE_URL" env-default:""`
	Model      string `env:"AI_MODEL" env-default:"gemini-2.5-pro"`
	// Zero leaves the transport default in place.
	Timeout time.Duration `env:"AI_TIMEOUT" env-default:"0s"`
	APIKey  string        `env:"API_KEY"`
}

// DBConfig configures the plan history store.
type DBConfig struct {
	Enabled     bool          `env:"DB_ENABLED" env-default:"false"`
	Host        string        `env:"DB_HOST" env-default:"localhost"`
	Port        string        `env:"DB_PORT" env-default:"5432"`
	User        string        `env:"DB_USER" env-default:"postgres"`
	Name        string        `env:"DB_NAME" env-default:"perf_agent"`
	SSLMode     string        `env:"DB_SSL_MODE" env-default:"disable"`
	MaxConns    int           `env:"DB_MAX_CONNECTIONS" env-default:"10"`
	IdleTimeout time.Duration `env:"DB_MAX_IDLE" env-default:"5m"`
	Password    string        `env:"DB_PASSWORD"`
}

// RabbitMQConfig configures asynchronous plan generation.
type RabbitMQConfig struct {
	URL               string `env:"RABBITMQ_URL" env-default:""`
	TaskQueue         string `env:"PLAN_TASK_QUEUE" env-default:"jmeter_plan_tasks"`
	NotificationQueue string `env:"PLAN_NOTIFICATION_QUEUE" env-default:"jmeter_plan_notifications"`
}

// Enabled reports whether a broker URL is configured.
func (c RabbitMQConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// LoadConfig reads an optional .env file (the given paths, or ./.env) and then the
// process environment. Missing secrets fall back to Docker secret files; a missing
// API key is not an error here, callers warn about it.
func LoadConfig(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	if cfg.AI.APIKey == "" {
		if secret, err := utils.ReadSecret(aiAPIKeySecret); err == nil {
			cfg.AI.APIKey = secret
		}
	}

	if cfg.DB.Enabled && cfg.DB.Password == "" {
		secret, err := utils.ReadSecret(dbPasswordSecret)
		if err != nil {
			return nil, fmt.Errorf("DB_ENABLED is set but no database password is available: %w", err)
		}
		cfg.DB.Password = secret
	}

	cfg.AI.ClientType = strings.ToLower(strings.TrimSpace(cfg.AI.ClientType))
	return &cfg, nil
}

// LoggerConfig returns the logger settings for the named service.
func (c *Config) LoggerConfig(serviceName string) logger.Config {
	return logger.Config{
		Level:       c.LogLevel,
		Encoding:    c.LogEncoding,
		ServiceName: serviceName,
		Environment: c.AppEnv,
		Development: c.AppEnv == "development",
	}
}

// CLILoggerConfig is LoggerConfig for a terminal: console lines on stderr, so
// stdout carries only command output.
func (c *Config) CLILoggerConfig(commandName string) logger.Config {
	cfg := c.LoggerConfig(commandName)
	cfg.Encoding = "console"
	cfg.OutputPath = "stderr"
	cfg.Environment = ""
	cfg.Development = false
	return cfg
}

// GetDSN returns the PostgreSQL connection string.
func (c *Config) GetDSN() string {
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     c.DB.Host + ":" + c.DB.Port,
		Path:     "/" + c.DB.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.DB.SSLMode),
	}
	return dsn.String()
}

// getMaskedDSN is GetDSN with the password replaced, for logging.
func (c *Config) getMaskedDSN() string {
	return maskURL(c.GetDSN())
}

// GetAllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) GetAllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LogSummary writes the effective configuration without secrets.
func (c *Config) LogSummary(log *zap.Logger) {
	fields := []zap.Field{
		zap.String("app_env", c.AppEnv),
		zap.String("http_port", c.HTTPServerPort),
		zap.String("ai_client_type", c.AI.ClientType),
		zap.String("ai_model", c.AI.Model),
		zap.String("ai_base_url", c.AI.BaseURL),
		zap.Duration("ai_timeout", c.AI.Timeout),
		zap.Bool("ai_api_key_set", c.AI.APIKey != ""),
		zap.Bool("db_enabled", c.DB.Enabled),
		zap.Bool("rabbitmq_enabled", c.RabbitMQ.Enabled()),
	}
	if c.DB.Enabled {
		fields = append(fields,
			zap.String("db_dsn", c.getMaskedDSN()),
			zap.Int("db_max_conns", c.DB.MaxConns),
		)
	}
	if c.RabbitMQ.Enabled() {
		fields = append(fields,
			zap.String("rabbitmq_url", maskURL(c.RabbitMQ.URL)),
			zap.String("task_queue", c.RabbitMQ.TaskQueue),
			zap.String("notification_queue", c.RabbitMQ.NotificationQueue),
		)
	}
	log.Info("Configuration loaded", fields...)
}

// maskURL hides the password of an amqp/postgres style URL.
func maskURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "[invalid url]"
	}
	return parsed.Redacted()
}
