package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Provider   ProviderConfig
	Routing    RoutingConfig
	Reconciler ReconcilerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit; production must set it.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// ProviderConfig configures the outbound telephony provider API client.
type ProviderConfig struct {
	BaseURL string
	APIKey  string

	// CallerID is the E.164 number presented on outbound calls.
	CallerID string

	// CommandTimeout bounds every synchronous provider call
	// (place call, hang up, send digit). Default applied in Validate().
	CommandTimeout time.Duration
}

// RoutingConfig configures the task dispatcher.
type RoutingConfig struct {
	// ReservationTimeout is how long a routing task may wait for an
	// available agent before failing with no_agent_available.
	ReservationTimeout time.Duration

	// ReservationTTL bounds how long an exclusive worker reservation may
	// be held before the lock self-expires (crash safety).
	ReservationTTL time.Duration
}

// ReconcilerConfig configures webhook event processing.
type ReconcilerConfig struct {
	// Workers is the number of parallel event handlers. Events for the
	// same provider call id are still serialized onto one worker.
	Workers int

	// DedupTTL is how long processed-event markers are retained.
	DedupTTL time.Duration

	// QueueDepth is the per-worker buffer of accepted-but-unprocessed events.
	QueueDepth int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.Provider.BaseURL = strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL"))
	c.Provider.APIKey = os.Getenv("PROVIDER_API_KEY")
	c.Provider.CallerID = strings.TrimSpace(os.Getenv("PROVIDER_CALLER_ID"))
	c.Provider.CommandTimeout = mustDuration("PROVIDER_COMMAND_TIMEOUT")

	c.Routing.ReservationTimeout = mustDuration("ROUTING_RESERVATION_TIMEOUT")
	c.Routing.ReservationTTL = mustDuration("ROUTING_RESERVATION_TTL")

	c.Reconciler.Workers = optionalInt("RECONCILER_WORKERS")
	c.Reconciler.DedupTTL = mustDuration("RECONCILER_DEDUP_TTL")
	c.Reconciler.QueueDepth = optionalInt("RECONCILER_QUEUE_DEPTH")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// One agent shift.
		c.Auth.AccessTokenTTL = 8 * time.Hour
	}

	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("PROVIDER_BASE_URL is required"))
	}
	if c.IsProduction() && c.Provider.APIKey == "" {
		errs = append(errs, errors.New("PROVIDER_API_KEY is required in production"))
	}
	if c.Provider.CallerID == "" {
		errs = append(errs, errors.New("PROVIDER_CALLER_ID is required"))
	}
	if c.Provider.CommandTimeout <= 0 {
		c.Provider.CommandTimeout = 15 * time.Second
	}
	if c.Provider.CommandTimeout > 30*time.Second {
		errs = append(errs, fmt.Errorf("PROVIDER_COMMAND_TIMEOUT must be <= 30s, got %s", c.Provider.CommandTimeout))
	}

	if c.Routing.ReservationTimeout <= 0 {
		c.Routing.ReservationTimeout = 30 * time.Second
	}
	if c.Routing.ReservationTTL <= 0 {
		// Lock must outlive the pending window so it cannot expire
		// under a still-active reservation.
		c.Routing.ReservationTTL = 2 * c.Routing.ReservationTimeout
	}
	if c.Routing.ReservationTTL < c.Routing.ReservationTimeout {
		errs = append(errs, errors.New("ROUTING_RESERVATION_TTL must be >= ROUTING_RESERVATION_TIMEOUT"))
	}

	if c.Reconciler.Workers <= 0 {
		c.Reconciler.Workers = 8
	}
	if c.Reconciler.DedupTTL <= 0 {
		c.Reconciler.DedupTTL = 24 * time.Hour
	}
	if c.Reconciler.QueueDepth <= 0 {
		c.Reconciler.QueueDepth = 256
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
