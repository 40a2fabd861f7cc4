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
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	SMTP     SMTPConfig
	Call     CallConfig
	Schedule ScheduleConfig
	Notify   NotifyConfig
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

	// SSLMode is kept explicit. Accepts: disable, require, verify-ca,
	// verify-full.
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

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// FromNumber is the caller id for every outbound call and SMS.
	FromNumber string
	// PublicBaseURL is the externally reachable base the provider calls
	// back to, e.g. https://api.example.com. No trailing slash.
	PublicBaseURL string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// CallConfig tunes outbound call placement and session lifetime.
type CallConfig struct {
	Timeout          time.Duration
	GatherTimeout    time.Duration
	SpeechEndTimeout time.Duration

	RetryDelay time.Duration
	MaxRetries int

	SessionTTL    time.Duration
	SweepInterval time.Duration

	MaxConcurrent int
	RecordCalls   bool
	FanoutSpacing time.Duration
}

// ScheduleConfig tunes the recurring-trigger engine.
type ScheduleConfig struct {
	StaggerWindow     time.Duration
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
	RecoverySpacing   time.Duration
	MaxSkips          int
}

type NotifyConfig struct {
	QueueCapacity int
	Workers       int
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
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL", 15*time.Minute)

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.SMTP.Host = strings.TrimSpace(os.Getenv("SMTP_HOST"))
	c.SMTP.Port = optInt("SMTP_PORT", 587)
	c.SMTP.Username = strings.TrimSpace(os.Getenv("SMTP_USERNAME"))
	c.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	c.SMTP.From = strings.TrimSpace(os.Getenv("SMTP_FROM"))

	c.Call.Timeout = optDuration("CALL_TIMEOUT", 45*time.Second)
	c.Call.GatherTimeout = optDuration("CALL_GATHER_TIMEOUT", 25*time.Second)
	c.Call.SpeechEndTimeout = optDuration("CALL_SPEECH_END_TIMEOUT", 4*time.Second)
	c.Call.RetryDelay = optDuration("CALL_RETRY_DELAY", 2*time.Minute)
	c.Call.MaxRetries = optInt("CALL_MAX_RETRIES", 2)
	c.Call.SessionTTL = optDuration("CALL_SESSION_TTL", 10*time.Minute)
	c.Call.SweepInterval = optDuration("CALL_SWEEP_INTERVAL", time.Minute)
	c.Call.MaxConcurrent = optInt("CALL_MAX_CONCURRENT", 10)
	c.Call.RecordCalls = optBool("CALL_RECORD", false)
	c.Call.FanoutSpacing = optDuration("CALL_FANOUT_SPACING", 2*time.Second)

	c.Schedule.StaggerWindow = optDuration("SCHEDULE_STAGGER_WINDOW", 10*time.Minute)
	c.Schedule.ReconcileInterval = optDuration("SCHEDULE_RECONCILE_INTERVAL", time.Hour)
	c.Schedule.ReconcileGrace = optDuration("SCHEDULE_RECONCILE_GRACE", 30*time.Minute)
	c.Schedule.RecoverySpacing = optDuration("SCHEDULE_RECOVERY_SPACING", 30*time.Second)
	c.Schedule.MaxSkips = optInt("SCHEDULE_MAX_SKIPS", 3)

	c.Notify.QueueCapacity = optInt("NOTIFY_QUEUE_CAPACITY", 256)
	c.Notify.Workers = optInt("NOTIFY_WORKERS", 4)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
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
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
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
		errs = append(errs, errors.New("JWT_ACCESS_TTL must be positive"))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.FromNumber == "" {
		errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required"))
	}
	if c.Twilio.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if !strings.HasPrefix(c.Twilio.PublicBaseURL, "http://") && !strings.HasPrefix(c.Twilio.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.Twilio.PublicBaseURL))
	}
	if c.IsProduction() && strings.HasPrefix(c.Twilio.PublicBaseURL, "http://") {
		errs = append(errs, errors.New("PUBLIC_BASE_URL must use https in production"))
	}

	// SMTP is required only when email delivery can be selected, which is
	// any deployment; an unset host disables the email channel explicitly.
	if c.SMTP.Host != "" {
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("SMTP_PORT must be a valid port, got %d", c.SMTP.Port))
		}
		if c.SMTP.From == "" {
			errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
		}
	}

	if c.Call.MaxRetries < 0 {
		errs = append(errs, errors.New("CALL_MAX_RETRIES must not be negative"))
	}
	if c.Call.SessionTTL < time.Minute {
		errs = append(errs, errors.New("CALL_SESSION_TTL must be at least 1m"))
	}
	if c.Call.SessionTTL <= c.Call.Timeout {
		errs = append(errs, errors.New("CALL_SESSION_TTL must exceed CALL_TIMEOUT"))
	}
	if c.Call.MaxConcurrent < 0 {
		errs = append(errs, errors.New("CALL_MAX_CONCURRENT must not be negative"))
	}

	if c.Schedule.MaxSkips <= 0 {
		errs = append(errs, errors.New("SCHEDULE_MAX_SKIPS must be positive"))
	}
	if c.Schedule.StaggerWindow <= 0 {
		errs = append(errs, errors.New("SCHEDULE_STAGGER_WINDOW must be positive"))
	}

	if c.Notify.QueueCapacity <= 0 {
		errs = append(errs, errors.New("NOTIFY_QUEUE_CAPACITY must be positive"))
	}
	if c.Notify.Workers <= 0 {
		errs = append(errs, errors.New("NOTIFY_WORKERS must be positive"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// EmailEnabled reports whether the email notification channel is configured.
func (c Config) EmailEnabled() bool {
	return c.SMTP.Host != ""
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

func optInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func optDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func optBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
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
