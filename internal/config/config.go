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

// DefaultGreeting is played when GREETING_MESSAGE is not set.
const DefaultGreeting = "お電話ありがとうございます。ただいま電話に出ることができません。発信音の後にメッセージをお残しください。"

const (
	DefaultGreetingLanguage     = "ja-JP"
	DefaultGreetingStyle        = 0
	DefaultMaxRecordingDuration = 60
	DefaultEndOnSilence         = 3
	DefaultRecordingFormat      = "mp3"
	DefaultLogLevel             = "INFO"
	DefaultAnswerDeadline       = 3 * time.Second
	DefaultStoreWriteAttempts   = 3
	DefaultSQLitePath           = "data/voice_recorder.db"
	DefaultEventsQueue          = "voicemail_events"
	DefaultArchiveWorkers       = 2
)

// Config holds all configuration required by the API process.
// All values come from env (optionally seeded from a .env file).
// It is built once at startup and passed by value afterwards.
type Config struct {
	App       AppConfig
	Vonage    VonageConfig
	Voice     VoiceConfig
	Recording RecordingConfig
	Webhooks  WebhookConfig
	DB        DBConfig
	Redis     RedisConfig
	Admin     AdminConfig
	Archive   ArchiveConfig
	Events    EventsConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

type VonageConfig struct {
	APIKey         string
	APISecret      string
	ApplicationID  string
	PrivateKeyPath string

	// SignatureSecret enables signed-webhook verification when non-empty.
	SignatureSecret string
}

type VoiceConfig struct {
	GreetingMessage  string
	GreetingLanguage string
	GreetingStyle    int
}

type RecordingConfig struct {
	MaxDuration  int // seconds
	EndOnSilence int // seconds
	Format       string
}

type WebhookConfig struct {
	BaseURL      string
	AnswerURL    string
	EventURL     string
	RecordingURL string

	// AnswerDeadline is the provider-imposed budget for the answer webhook.
	AnswerDeadline time.Duration
}

type DBConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	Path   string
	DSN    string

	WriteAttempts int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AdminConfig struct {
	JWTSecret string
	JWTIssuer string
}

type ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	Workers   int

	// MaxConcurrent caps downloads across all replicas via Redis. 0 disables the cap.
	MaxConcurrent int
}

type EventsConfig struct {
	RabbitURL string
	Queue     string
}

// ConfigurationError reports every missing or invalid setting found at startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return "config: " + e.Problems[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, p := range e.Problems {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// LoadAdmin reads only the admin token settings. Tools that mint tokens
// should not need Vonage credentials.
func LoadAdmin() (AdminConfig, error) {
	_ = godotenv.Load()

	a := AdminConfig{
		JWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
		JWTIssuer: strings.TrimSpace(os.Getenv("ADMIN_JWT_ISSUER")),
	}
	if a.JWTSecret == "" {
		return AdminConfig{}, &ConfigurationError{Problems: []string{"ADMIN_JWT_SECRET is required"}}
	}
	return a, nil
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present; real env vars win over it.
func Load() (Config, error) {
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []string

	c.App.Env = envOr("APP_ENV", "production")
	c.App.Port, parseErrs = intOr(parseErrs, "APP_PORT", 8080)
	c.App.LogLevel = strings.ToUpper(envOr("LOG_LEVEL", DefaultLogLevel))

	c.Vonage.APIKey = strings.TrimSpace(os.Getenv("VONAGE_API_KEY"))
	c.Vonage.APISecret = os.Getenv("VONAGE_API_SECRET")
	c.Vonage.ApplicationID = strings.TrimSpace(os.Getenv("VONAGE_APPLICATION_ID"))
	c.Vonage.PrivateKeyPath = strings.TrimSpace(os.Getenv("VONAGE_PRIVATE_KEY_PATH"))
	c.Vonage.SignatureSecret = os.Getenv("VONAGE_SIGNATURE_SECRET")

	c.Voice.GreetingMessage = envOr("GREETING_MESSAGE", DefaultGreeting)
	c.Voice.GreetingLanguage = envOr("GREETING_LANGUAGE", DefaultGreetingLanguage)
	c.Voice.GreetingStyle, parseErrs = intOr(parseErrs, "GREETING_STYLE", DefaultGreetingStyle)

	c.Recording.MaxDuration, parseErrs = intOr(parseErrs, "MAX_RECORDING_DURATION", DefaultMaxRecordingDuration)
	c.Recording.EndOnSilence, parseErrs = intOr(parseErrs, "END_ON_SILENCE", DefaultEndOnSilence)
	c.Recording.Format = strings.ToLower(envOr("RECORDING_FORMAT", DefaultRecordingFormat))

	c.Webhooks.BaseURL = strings.TrimSpace(os.Getenv("WEBHOOK_BASE_URL"))
	c.Webhooks.AnswerURL = strings.TrimSpace(os.Getenv("ANSWER_URL"))
	c.Webhooks.EventURL = strings.TrimSpace(os.Getenv("EVENT_URL"))
	c.Webhooks.RecordingURL = strings.TrimSpace(os.Getenv("RECORDING_URL"))
	c.Webhooks.AnswerDeadline, parseErrs = durationOr(parseErrs, "ANSWER_DEADLINE", DefaultAnswerDeadline)

	c.DB.Driver = strings.ToLower(envOr("DB_DRIVER", "sqlite"))
	c.DB.Path = envOr("DB_PATH", DefaultSQLitePath)
	c.DB.DSN = os.Getenv("DB_DSN")
	c.DB.WriteAttempts, parseErrs = intOr(parseErrs, "STORE_WRITE_ATTEMPTS", DefaultStoreWriteAttempts)

	c.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB, parseErrs = intOr(parseErrs, "REDIS_DB", 0)

	c.Admin.JWTSecret = os.Getenv("ADMIN_JWT_SECRET")
	c.Admin.JWTIssuer = strings.TrimSpace(os.Getenv("ADMIN_JWT_ISSUER"))

	c.Archive.Bucket = strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET"))
	c.Archive.Region = envOr("ARCHIVE_S3_REGION", "us-east-1")
	c.Archive.Endpoint = strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT"))
	c.Archive.AccessKey = strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY"))
	c.Archive.SecretKey = os.Getenv("ARCHIVE_S3_SECRET_KEY")
	c.Archive.PathStyle = strings.EqualFold(os.Getenv("ARCHIVE_S3_PATH_STYLE"), "true")
	c.Archive.Workers, parseErrs = intOr(parseErrs, "ARCHIVE_WORKERS", DefaultArchiveWorkers)
	c.Archive.MaxConcurrent, parseErrs = intOr(parseErrs, "ARCHIVE_MAX_CONCURRENT", 0)

	c.Events.RabbitURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	c.Events.Queue = envOr("RABBITMQ_QUEUE", DefaultEventsQueue)

	if len(parseErrs) > 0 {
		return Config{}, &ConfigurationError{Problems: parseErrs}
	}
	c.deriveWebhookURLs()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// deriveWebhookURLs fills any unset callback URL from WEBHOOK_BASE_URL.
func (c *Config) deriveWebhookURLs() {
	if c.Webhooks.BaseURL == "" {
		return
	}
	base := strings.TrimRight(c.Webhooks.BaseURL, "/")
	if c.Webhooks.AnswerURL == "" {
		c.Webhooks.AnswerURL = base + "/webhooks/answer"
	}
	if c.Webhooks.EventURL == "" {
		c.Webhooks.EventURL = base + "/webhooks/event"
	}
	if c.Webhooks.RecordingURL == "" {
		c.Webhooks.RecordingURL = base + "/webhooks/recording"
	}
}

func (c Config) Validate() error {
	var problems []string
	var missing []string

	if c.Vonage.APIKey == "" {
		missing = append(missing, "VONAGE_API_KEY")
	}
	if c.Vonage.APISecret == "" {
		missing = append(missing, "VONAGE_API_SECRET")
	}
	if c.Vonage.ApplicationID == "" {
		missing = append(missing, "VONAGE_APPLICATION_ID")
	}
	if c.Vonage.PrivateKeyPath == "" {
		missing = append(missing, "VONAGE_PRIVATE_KEY_PATH")
	}
	if c.Webhooks.BaseURL == "" {
		missing = append(missing, "WEBHOOK_BASE_URL")
	}
	if len(missing) > 0 {
		problems = append(problems, "missing required settings: "+strings.Join(missing, ", "))
	}

	if !isValidEnv(c.App.Env) {
		problems = append(problems, fmt.Sprintf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		problems = append(problems, fmt.Sprintf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if !isValidLogLevel(c.App.LogLevel) {
		problems = append(problems, fmt.Sprintf("LOG_LEVEL must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL, got %q", c.App.LogLevel))
	}

	if strings.TrimSpace(c.Voice.GreetingMessage) == "" {
		problems = append(problems, "GREETING_MESSAGE must not be blank")
	}
	if strings.TrimSpace(c.Voice.GreetingLanguage) == "" {
		problems = append(problems, "GREETING_LANGUAGE must not be blank")
	}
	if c.Voice.GreetingStyle < 0 {
		problems = append(problems, fmt.Sprintf("GREETING_STYLE must be >= 0, got %d", c.Voice.GreetingStyle))
	}

	if c.Recording.MaxDuration <= 0 {
		problems = append(problems, fmt.Sprintf("MAX_RECORDING_DURATION must be a positive integer, got %d", c.Recording.MaxDuration))
	}
	if c.Recording.EndOnSilence < 0 {
		problems = append(problems, fmt.Sprintf("END_ON_SILENCE must be >= 0, got %d", c.Recording.EndOnSilence))
	}
	if !isValidFormat(c.Recording.Format) {
		problems = append(problems, fmt.Sprintf("RECORDING_FORMAT must be one of mp3, wav, ogg, got %q", c.Recording.Format))
	}

	if c.Webhooks.BaseURL != "" {
		for key, v := range map[string]string{
			"WEBHOOK_BASE_URL": c.Webhooks.BaseURL,
			"ANSWER_URL":       c.Webhooks.AnswerURL,
			"EVENT_URL":        c.Webhooks.EventURL,
			"RECORDING_URL":    c.Webhooks.RecordingURL,
		} {
			if !isAbsoluteHTTPURL(v) {
				problems = append(problems, fmt.Sprintf("%s must be an absolute http(s) URL, got %q", key, v))
			}
		}
	}
	if c.Webhooks.AnswerDeadline <= 0 {
		problems = append(problems, "ANSWER_DEADLINE must be positive")
	}

	switch c.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(c.DB.Path) == "" {
			problems = append(problems, "DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.DB.DSN) == "" {
			problems = append(problems, "DB_DSN is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("DB_DRIVER must be one of sqlite, postgres, got %q", c.DB.Driver))
	}
	if c.DB.WriteAttempts < 1 || c.DB.WriteAttempts > 10 {
		problems = append(problems, fmt.Sprintf("STORE_WRITE_ATTEMPTS must be between 1 and 10, got %d", c.DB.WriteAttempts))
	}

	if c.IsProduction() && c.Admin.JWTSecret == "" {
		problems = append(problems, "ADMIN_JWT_SECRET is required in production")
	}

	if c.Archive.Enabled() {
		if c.Archive.Workers <= 0 {
			problems = append(problems, fmt.Sprintf("ARCHIVE_WORKERS must be > 0, got %d", c.Archive.Workers))
		}
		if c.Archive.MaxConcurrent < 0 {
			problems = append(problems, fmt.Sprintf("ARCHIVE_MAX_CONCURRENT must be >= 0, got %d", c.Archive.MaxConcurrent))
		}
		if c.Archive.MaxConcurrent > 0 && c.Redis.Addr == "" {
			problems = append(problems, "ARCHIVE_MAX_CONCURRENT requires REDIS_ADDR")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &ConfigurationError{Problems: problems}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

func (e EventsConfig) Enabled() bool { return e.RabbitURL != "" }

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intOr(errs []string, key string, def int) (int, []string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, append(errs, fmt.Sprintf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func durationOr(errs []string, key string, def time.Duration) (time.Duration, []string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, append(errs, fmt.Sprintf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch v {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
		return true
	default:
		return false
	}
}

func isValidFormat(v string) bool {
	switch v {
	case "mp3", "wav", "ogg":
		return true
	default:
		return false
	}
}

func isAbsoluteHTTPURL(v string) bool {
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// AsConfigurationError reports whether err is a ConfigurationError.
func AsConfigurationError(err error) (*ConfigurationError, bool) {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
