package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Analysis backend
	AnalysisWSURL        string
	AnalysisStoreInNeo4j bool
	AnalysisIdleTimeout  time.Duration // 0 disables the per-session read watchdog
	AnalysisSessionTTL   time.Duration // terminal sessions older than this are reaped

	// Scheduler
	TaskStore          string // "file" or "postgres"
	TaskStorePath      string
	SettingsStorePath  string
	SchedulerUTCOffset string // fixed wall-clock offset for task input, e.g. "+05:30"
	SchedulerMode      string // "tracked" or "strict"
	SchedulerResync    string // cron spec for the resync job
	SchedulerRetention time.Duration

	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// Twilio (WhatsApp)
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	TwilioContentSID  string
	TwilioAPIBaseURL  string
	SendGridAPIKey    string
	EmailFrom         string
	SendGridBaseURL   string
	DeliveryTimeout   time.Duration
	NewsAPIKey        string
	NewsAPIBaseURL    string
	FactCheckAPIKey   string
	NatsURL           string
	NatsSubjectPrefix string

	// Auth
	ValidatorType     string // "jwk", "secret" or "dev"
	JWTJWKSURL        string
	SupabaseJWTSecret string

	ServerShutdownTimeoutSeconds int
	CORSAllowedOrigins           string

	LogLevel  string
	LogFormat string

	// Loaded from the YAML config file.
	News *NewsConfig `yaml:"news"`
}

// NewsConfig holds the static topic lists used by the trending feed.
type NewsConfig struct {
	DefaultQueries    []string            `yaml:"default_queries"`
	RelatedKeywords   map[string][]string `yaml:"related_keywords"`
	FactCheckDomains  []string            `yaml:"fact_check_domains"`
	DefaultPageSize   int                 `yaml:"default_page_size"`
	DefaultLanguage   string              `yaml:"default_language"`
	LookbackDays      int                 `yaml:"lookback_days"`
	ExpandedLookback  int                 `yaml:"expanded_lookback_days"`
	BroadLookbackDays int                 `yaml:"broad_lookback_days"`
}

var AppConfig *Config

// LoadConfig populates AppConfig from the environment (and .env) plus the YAML config file.
func LoadConfig() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = FromEnv()

	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	log.Printf("Loading config file: %v", configFilePath)

	configFile, err := os.Open(configFilePath)
	if err != nil {
		log.Printf("Warning: config file %s not available (%v), using built-in news defaults", configFilePath, err)
	} else {
		defer configFile.Close()
		if err := LoadConfigFile(configFile, AppConfig); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	AppConfig.News = AppConfig.News.withDefaults()

	if err := AppConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if AppConfig.TwilioAccountSID == "" || AppConfig.TwilioAuthToken == "" {
		log.Println("Warning: Twilio credentials are missing. WhatsApp deliveries will be skipped.")
	}
	if AppConfig.SendGridAPIKey == "" {
		log.Println("Warning: SendGrid API key is missing. Email deliveries will be skipped.")
	}
	if AppConfig.NewsAPIKey == "" {
		log.Println("Warning: NewsAPI key is missing. Please set NEWS_API_KEY environment variable.")
	}
	if AppConfig.FactCheckAPIKey == "" {
		log.Println("Warning: Google Fact Check key is missing. Claim lookups will return no results.")
	}
}

// FromEnv builds a Config from environment variables only.
func FromEnv() *Config {
	return &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		AnalysisWSURL:        getEnvOrDefault("ANALYSIS_WS_URL", "ws://localhost:8000/ws/analyze"),
		AnalysisStoreInNeo4j: getEnvOrDefault("ANALYSIS_STORE_IN_NEO4J", "false") == "true",
		AnalysisIdleTimeout:  getEnvAsDuration("ANALYSIS_IDLE_TIMEOUT", 0),
		AnalysisSessionTTL:   getEnvAsDuration("ANALYSIS_SESSION_TTL", 30*time.Minute),

		TaskStore:          getEnvOrDefault("TASK_STORE", "file"),
		TaskStorePath:      getEnvOrDefault("TASK_STORE_PATH", "data/scheduled_tasks.json"),
		SettingsStorePath:  getEnvOrDefault("SETTINGS_STORE_PATH", "data/connector_settings.json"),
		SchedulerUTCOffset: getEnvOrDefault("SCHEDULER_UTC_OFFSET", "+05:30"),
		SchedulerMode:      getEnvOrDefault("SCHEDULER_MODE", "tracked"),
		SchedulerResync:    getEnvOrDefault("SCHEDULER_RESYNC_SPEC", "@every 1m"),
		SchedulerRetention: getEnvAsDuration("SCHEDULER_RETENTION", 0),

		DatabaseURL:       getEnvOrDefault("DATABASE_URL", "postgres://localhost/ozone?sslmode=disable"),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		TwilioAccountSID: getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnvOrDefault("TWILIO_FROM_NUMBER", "+14155238886"),
		TwilioContentSID: getEnvOrDefault("TWILIO_CONTENT_SID", ""),
		TwilioAPIBaseURL: getEnvOrDefault("TWILIO_API_BASE_URL", "https://api.twilio.com"),

		SendGridAPIKey:  strings.TrimSpace(getEnvOrDefault("SENDGRID_API_KEY", "")),
		EmailFrom:       getEnvOrDefault("EMAIL_FROM", "noreply@ozone.ai"),
		SendGridBaseURL: getEnvOrDefault("SENDGRID_API_BASE_URL", "https://api.sendgrid.com"),
		DeliveryTimeout: getEnvAsDuration("DELIVERY_TIMEOUT", 30*time.Second),

		NewsAPIKey:      getEnvOrDefault("NEWS_API_KEY", ""),
		NewsAPIBaseURL:  getEnvOrDefault("NEWS_API_BASE_URL", "https://newsapi.org"),
		FactCheckAPIKey: getEnvOrDefault("GOOGLE_FACTCHECK_API_KEY", ""),

		NatsURL:           getEnvOrDefault("NATS_URL", ""),
		NatsSubjectPrefix: getEnvOrDefault("NATS_SUBJECT_PREFIX", "ozone"),

		ValidatorType:     getEnvOrDefault("VALIDATOR_TYPE", "dev"),
		JWTJWKSURL:        getEnvOrDefault("JWT_JWKS_URL", ""),
		SupabaseJWTSecret: getEnvOrDefault("SUPABASE_JWT_SECRET", ""),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),
		CORSAllowedOrigins:           getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.TaskStore {
	case "file", "postgres":
	default:
		return fmt.Errorf("TASK_STORE must be 'file' or 'postgres', got %q", c.TaskStore)
	}

	switch c.SchedulerMode {
	case "tracked", "strict":
	default:
		return fmt.Errorf("SCHEDULER_MODE must be 'tracked' or 'strict', got %q", c.SchedulerMode)
	}

	switch c.ValidatorType {
	case "jwk", "secret", "dev":
	default:
		return fmt.Errorf("VALIDATOR_TYPE must be one of 'jwk', 'secret', 'dev', got %q", c.ValidatorType)
	}

	if c.ValidatorType == "secret" && c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required when VALIDATOR_TYPE=secret")
	}

	return nil
}

// AllowedOrigins splits CORSAllowedOrigins on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (n *NewsConfig) withDefaults() *NewsConfig {
	if n == nil {
		n = &NewsConfig{}
	}
	if len(n.DefaultQueries) == 0 {
		n.DefaultQueries = []string{
			"misinformation", "fake news", "fact check", "debunked", "false claim", "disinformation",
			"hoax", "rumor", "conspiracy", "scam", "propaganda", "verified",
		}
	}
	if n.RelatedKeywords == nil {
		n.RelatedKeywords = map[string][]string{}
	}
	if len(n.FactCheckDomains) == 0 {
		n.FactCheckDomains = []string{"snopes.com", "factcheck.org", "politifact.com", "fullfact.org", "apnews.com", "reuters.com"}
	}
	if n.DefaultPageSize <= 0 {
		n.DefaultPageSize = 12
	}
	if n.DefaultLanguage == "" {
		n.DefaultLanguage = "en"
	}
	if n.LookbackDays <= 0 {
		n.LookbackDays = 7
	}
	if n.ExpandedLookback <= 0 {
		n.ExpandedLookback = 14
	}
	if n.BroadLookbackDays <= 0 {
		n.BroadLookbackDays = 30
	}
	return n
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

// LoadConfigFile decodes the YAML config file into config.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
