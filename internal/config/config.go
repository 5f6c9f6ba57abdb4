package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Gate     GateConfig
	OAuth    OAuthConfig
	Events   EventsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	SiteURL               string
	UpstreamURL           string
	RequestTimeoutSeconds int
	// MemorySweepSchedule is the cron schedule purging expired entries from
	// in-memory stores. Empty disables the sweep.
	MemorySweepSchedule   string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr selects in-memory stores.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines session parameters.
type AuthConfig struct {
	JWTSecret          string
	SessionTTLMinutes  int
	BcryptCost         int
	CookieName         string
	CookieSecure       bool
	AuthCodeTTLSeconds int
}

// GateConfig drives the access decision engine.
type GateConfig struct {
	RoutesFile              string
	LoginPath               string
	FallbackPath            string
	RedirectParam           string
	AdminRole               string
	ResolverTimeoutMillis   int
	DefaultPostAuthRedirect string
}

// OAuthProviderConfig holds client credentials for one provider.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
}

// Enabled reports whether the provider has credentials.
func (p OAuthProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// OAuthConfig configures the social sign-in providers.
type OAuthConfig struct {
	Google          OAuthProviderConfig
	Apple           OAuthProviderConfig
	StateTTLSeconds int
}

// EventsConfig holds the auth event sink settings.
type EventsConfig struct {
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "access-gate"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			SiteURL:               getEnv("SITE_URL", "http://localhost:8080"),
			UpstreamURL:           os.Getenv("UPSTREAM_URL"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			MemorySweepSchedule:   getEnv("MEMORY_SWEEP_SCHEDULE", "@every 1m"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:          getEnv("AUTH_JWT_SECRET", "dev-secret"),
			SessionTTLMinutes:  getEnvAsInt("AUTH_SESSION_TTL_MINUTES", 60*24*7),
			BcryptCost:         getEnvAsInt("AUTH_BCRYPT_COST", 12),
			CookieName:         getEnv("AUTH_COOKIE_NAME", "session"),
			CookieSecure:       getEnvAsBool("AUTH_COOKIE_SECURE", false),
			AuthCodeTTLSeconds: getEnvAsInt("AUTH_CODE_TTL_SECONDS", 120),
		},
		Gate: GateConfig{
			RoutesFile:              os.Getenv("ROUTES_FILE"),
			LoginPath:               getEnv("GATE_LOGIN_PATH", "/auth/login"),
			FallbackPath:            getEnv("GATE_FALLBACK_PATH", "/dashboard"),
			RedirectParam:           getEnv("GATE_REDIRECT_PARAM", "redirectTo"),
			AdminRole:               getEnv("GATE_ADMIN_ROLE", "admin"),
			ResolverTimeoutMillis:   getEnvAsInt("GATE_RESOLVER_TIMEOUT_MS", 5000),
			DefaultPostAuthRedirect: getEnv("GATE_POST_AUTH_REDIRECT", "/dashboard"),
		},
		OAuth: OAuthConfig{
			Google: OAuthProviderConfig{
				ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
				ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
				AuthURL:      os.Getenv("GOOGLE_AUTH_URL"),
				TokenURL:     os.Getenv("GOOGLE_TOKEN_URL"),
			},
			Apple: OAuthProviderConfig{
				ClientID:     os.Getenv("APPLE_CLIENT_ID"),
				ClientSecret: os.Getenv("APPLE_CLIENT_SECRET"),
				AuthURL:      os.Getenv("APPLE_AUTH_URL"),
				TokenURL:     os.Getenv("APPLE_TOKEN_URL"),
			},
			StateTTLSeconds: getEnvAsInt("OAUTH_STATE_TTL_SECONDS", 600),
		},
		Events: EventsConfig{
			WebhookURL: getEnv("AUTH_EVENTS_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configuration that would make redirects impossible to compose.
func (c *Config) Validate() error {
	var errs []error
	if _, err := parseAbsoluteURL(c.App.SiteURL); err != nil {
		errs = append(errs, fmt.Errorf("SITE_URL: %w", err))
	}
	if c.App.UpstreamURL != "" {
		if _, err := parseAbsoluteURL(c.App.UpstreamURL); err != nil {
			errs = append(errs, fmt.Errorf("UPSTREAM_URL: %w", err))
		}
	}
	for name, p := range map[string]string{
		"GATE_LOGIN_PATH":         c.Gate.LoginPath,
		"GATE_FALLBACK_PATH":      c.Gate.FallbackPath,
		"GATE_POST_AUTH_REDIRECT": c.Gate.DefaultPostAuthRedirect,
	} {
		if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
			errs = append(errs, fmt.Errorf("%s: %q is not an absolute path", name, p))
		}
	}
	if c.Gate.RedirectParam == "" {
		errs = append(errs, errors.New("GATE_REDIRECT_PARAM must not be empty"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET must not be empty"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// CallbackURL is where OAuth providers send users back to.
func (a AppConfig) CallbackURL() string {
	return strings.TrimRight(a.SiteURL, "/") + "/auth/v1/callback"
}

// SessionTTL returns the session lifetime.
func (a AuthConfig) SessionTTL() time.Duration {
	if a.SessionTTLMinutes <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(a.SessionTTLMinutes) * time.Minute
}

// AuthCodeTTL returns how long a one-time OAuth code stays redeemable.
func (a AuthConfig) AuthCodeTTL() time.Duration {
	if a.AuthCodeTTLSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(a.AuthCodeTTLSeconds) * time.Second
}

// ResolverTimeout bounds every session resolver call.
func (g GateConfig) ResolverTimeout() time.Duration {
	if g.ResolverTimeoutMillis <= 0 {
		return 0
	}
	return time.Duration(g.ResolverTimeoutMillis) * time.Millisecond
}

// StateTTL returns the lifetime of an OAuth state value.
func (o OAuthConfig) StateTTL() time.Duration {
	if o.StateTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(o.StateTTLSeconds) * time.Second
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", raw)
	}
	return u, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
