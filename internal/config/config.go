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
// All values must come from env (or an env-file loaded in main via godotenv).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Smartflo SmartfloConfig
	Webhook  WebhookConfig
	Cache    CacheConfig
	Calls    CallsConfig
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

	// SSLMode accepts: disable, require, verify-ca, verify-full
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

// SmartfloConfig configures the outbound telephony provider API.
type SmartfloConfig struct {
	BaseURL     string
	Email       string
	Password    string
	CallerID    string
	HTTPTimeout time.Duration
	MaxRetries  int
}

// WebhookConfig controls inbound webhook verification.
//
// An empty Secret skips verification entirely; production deployments
// must set it. StrictSignature rejects unverifiable deliveries with a
// non-200 instead of logging and continuing.
type WebhookConfig struct {
	Secret          string
	StrictSignature bool
}

type CacheConfig struct {
	// DefaultTTL applies when callers pass no explicit TTL.
	DefaultTTL time.Duration
	// StatsTTL is the short TTL for volatile aggregates.
	StatsTTL time.Duration
	// DetailTTL is the long TTL for individual call detail.
	DetailTTL time.Duration
	MaxKeys   int
}

type CallsConfig struct {
	// ShortConversationSeconds is the duration above which a completed
	// call advances the lead toward an engaged status.
	ShortConversationSeconds int
	// CallbackDelay is how far out a callback is scheduled after a
	// no_answer/failed outcome.
	CallbackDelay time.Duration
	// RecordingFetchDelay is the initial wait before fetching a
	// recording URL for a completed call.
	RecordingFetchDelay time.Duration
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
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")

	c.Smartflo.BaseURL = strings.TrimSpace(os.Getenv("SMARTFLO_BASE_URL"))
	c.Smartflo.Email = strings.TrimSpace(os.Getenv("SMARTFLO_EMAIL"))
	c.Smartflo.Password = os.Getenv("SMARTFLO_PASSWORD")
	c.Smartflo.CallerID = strings.TrimSpace(os.Getenv("SMARTFLO_CALLER_ID"))
	c.Smartflo.HTTPTimeout = optDuration("SMARTFLO_HTTP_TIMEOUT")
	c.Smartflo.MaxRetries = optInt("SMARTFLO_MAX_RETRIES")

	c.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")
	c.Webhook.StrictSignature = optBool("WEBHOOK_STRICT_SIGNATURE")

	c.Cache.DefaultTTL = optDuration("CACHE_DEFAULT_TTL")
	c.Cache.StatsTTL = optDuration("CACHE_STATS_TTL")
	c.Cache.DetailTTL = optDuration("CACHE_DETAIL_TTL")
	c.Cache.MaxKeys = optInt("CACHE_MAX_KEYS")

	c.Calls.ShortConversationSeconds = optInt("CALLS_SHORT_CONVERSATION_SECONDS")
	c.Calls.CallbackDelay = optDuration("CALLS_CALLBACK_DELAY")
	c.Calls.RecordingFetchDelay = optDuration("CALLS_RECORDING_FETCH_DELAY")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

func (c Config) Validate() error {
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
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	if c.DB.SSLMode == "" && c.IsProduction() {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
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

	if c.Smartflo.BaseURL == "" {
		errs = append(errs, errors.New("SMARTFLO_BASE_URL is required"))
	}
	if c.IsProduction() {
		if c.Smartflo.Email == "" || c.Smartflo.Password == "" {
			errs = append(errs, errors.New("SMARTFLO_EMAIL and SMARTFLO_PASSWORD are required in production"))
		}
		if c.Webhook.Secret == "" {
			errs = append(errs, errors.New("WEBHOOK_SECRET is required in production"))
		}
	}

	return joinErrors(errs)
}

func (c *Config) applyDefaults() {
	if c.DB.SSLMode == "" {
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Smartflo.HTTPTimeout <= 0 {
		c.Smartflo.HTTPTimeout = 15 * time.Second
	}
	if c.Smartflo.MaxRetries <= 0 {
		c.Smartflo.MaxRetries = 3
	}
	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = 5 * time.Minute
	}
	if c.Cache.StatsTTL <= 0 {
		c.Cache.StatsTTL = 30 * time.Second
	}
	if c.Cache.DetailTTL <= 0 {
		c.Cache.DetailTTL = 10 * time.Minute
	}
	if c.Cache.MaxKeys <= 0 {
		c.Cache.MaxKeys = 10000
	}
	if c.Calls.ShortConversationSeconds <= 0 {
		c.Calls.ShortConversationSeconds = 30
	}
	if c.Calls.CallbackDelay <= 0 {
		c.Calls.CallbackDelay = 24 * time.Hour
	}
	if c.Calls.RecordingFetchDelay <= 0 {
		c.Calls.RecordingFetchDelay = 30 * time.Second
	}
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

func optInt(key string) int {
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

func optDuration(key string) time.Duration {
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

func optBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
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
