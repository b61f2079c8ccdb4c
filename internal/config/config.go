package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv             string   `env:"APP_ENV" envDefault:"development"`
	HTTPAddr           string   `env:"HTTP_ADDR" envDefault:":4000"`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
	BaseURL            string   `env:"BASE_URL" envDefault:"http://localhost:4000"`
	PortalFrontendURL  string   `env:"PORTAL_FRONTEND_URL" envDefault:"http://localhost:3000"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	DBDriver      string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`

	SessionTokenSecret string        `env:"SESSION_TOKEN_SECRET"`
	SessionTokenTTL    time.Duration `env:"SESSION_TOKEN_EXPIRES" envDefault:"24h"`
	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_EXPIRES" envDefault:"15m"`
	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"portal-sso"`

	RefreshTokenExpiresSeconds int           `env:"REFRESH_TOKEN_EXPIRES_SECONDS" envDefault:"2592000"`
	AuthCodeTTL                time.Duration `env:"AUTH_CODE_TTL" envDefault:"5m"`
	CSRFEnabled                bool          `env:"CSRF_ENABLED" envDefault:"false"`
	SingleSession              bool          `env:"SINGLE_SESSION" envDefault:"true"`
	CookieDomain               string        `env:"COOKIE_DOMAIN"`
	StrictRedirectURI          bool          `env:"STRICT_REDIRECT_URI" envDefault:"false"`
	MaxFailedLogins            int           `env:"MAX_FAILED_LOGINS" envDefault:"5"`
	BcryptCost                 int           `env:"BCRYPT_COST" envDefault:"10"`

	RedisAddr         string `env:"REDIS_ADDR"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisDB           int    `env:"REDIS_DB" envDefault:"0"`
	AuthRateLimitRPM  int    `env:"AUTH_RATE_LIMIT_RPM" envDefault:"30"`
	APIRateLimitRPM   int    `env:"API_RATE_LIMIT_RPM" envDefault:"600"`
	RateLimitFailOpen bool   `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`

	AuthGoogleEnabled       bool   `env:"AUTH_GOOGLE_ENABLED" envDefault:"false"`
	GoogleOAuthClientID     string `env:"GOOGLE_OAUTH_CLIENT_ID"`
	GoogleOAuthClientSecret string `env:"GOOGLE_OAUTH_CLIENT_SECRET"`
	GoogleOAuthRedirectURL  string `env:"GOOGLE_OAUTH_REDIRECT_URL"`
	GoogleLoginErrorURL     string `env:"GOOGLE_LOGIN_ERROR_URL"`

	KafkaBrokers         []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaAuthEventsTopic string        `env:"KAFKA_AUTH_EVENTS_TOPIC" envDefault:"sso.auth.events"`
	KafkaPublishTimeout  time.Duration `env:"KAFKA_PUBLISH_TIMEOUT" envDefault:"2s"`

	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" envDefault:"false"`
	OTELTracingEnabled        bool          `env:"OTEL_TRACING_ENABLED" envDefault:"false"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED" envDefault:"false"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"portal-sso"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT" envDefault:"development"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" envDefault:"15s"`
	OTELTracingSampleRatio    float64       `env:"OTEL_TRACING_SAMPLE_RATIO" envDefault:"1.0"`

	TokenReaperInterval time.Duration `env:"TOKEN_REAPER_INTERVAL" envDefault:"1h"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
}

// Load reads an optional .env file, parses the environment and validates the result.
func Load() (*Config, error) {
	cfg, err := load()
	appEnv := os.Getenv("APP_ENV")
	if cfg != nil {
		appEnv = cfg.AppEnv
	}
	recordValidation(context.Background(), appEnv, err)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path without overriding variables that are already set.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: %w", ErrEnvFile, err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.DBDriver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported", c.DBDriver))
	}
	if c.SessionTokenSecret == "" {
		errs = append(errs, errors.New("SESSION_TOKEN_SECRET is required"))
	}
	if c.AccessTokenSecret == "" {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET is required"))
	}
	if c.IsProduction() {
		if len(c.SessionTokenSecret) < 32 || len(c.AccessTokenSecret) < 32 {
			errs = append(errs, errors.New("token secrets must be at least 32 characters in production"))
		}
		if c.SessionTokenSecret != "" && c.SessionTokenSecret == c.AccessTokenSecret {
			errs = append(errs, errors.New("SESSION_TOKEN_SECRET and ACCESS_TOKEN_SECRET must differ"))
		}
	}
	if c.SessionTokenTTL <= 0 || c.AccessTokenTTL <= 0 || c.AuthCodeTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.RefreshTokenExpiresSeconds <= 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_EXPIRES_SECONDS must be positive"))
	}
	if c.MaxFailedLogins <= 0 {
		errs = append(errs, errors.New("MAX_FAILED_LOGINS must be positive"))
	}
	if c.AuthGoogleEnabled && (c.GoogleOAuthClientID == "" || c.GoogleOAuthClientSecret == "") {
		errs = append(errs, errors.New("GOOGLE_OAUTH_CLIENT_ID and GOOGLE_OAUTH_CLIENT_SECRET are required when AUTH_GOOGLE_ENABLED"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpiresSeconds) * time.Second
}

func (c *Config) GoogleRedirectURL() string {
	if c.GoogleOAuthRedirectURL != "" {
		return c.GoogleOAuthRedirectURL
	}
	return strings.TrimRight(c.BaseURL, "/") + "/auth/google/callback"
}

func (c *Config) GoogleErrorURL() string {
	if c.GoogleLoginErrorURL != "" {
		return c.GoogleLoginErrorURL
	}
	return strings.TrimRight(c.PortalFrontendURL, "/") + "/login?error=google"
}
