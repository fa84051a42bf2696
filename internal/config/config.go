package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string

	// Meta webhook + Graph API
	MetaAppSecret        string
	MetaVerifyToken      string
	WhatsAppBaseURL      string
	WhatsAppAPIVersion   string
	WhatsAppTimeout      time.Duration
	WhatsAppMaxRetries   int
	WhatsAppRetryBackoff time.Duration
	InboundTimeout       time.Duration

	GeminiAPIKey string
	GeminiModel  string

	DedupCacheSize int
	DedupClaimTTL  time.Duration
	TenantCacheTTL time.Duration

	// Scheduler
	SchedulerEnabled       bool
	NotifyTimezone         string
	ConfirmationCron       string
	ReminderCron           string
	SlotGranularityMinutes int

	AdminJWTSecret    string
	AdminRateLimitRPS float64

	// Operator email on human handoff
	EmailProvider  string
	SendGridAPIKey string
	EmailFrom      string
	EmailFromName  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		MetaAppSecret:        getEnv("META_APP_SECRET", ""),
		MetaVerifyToken:      getEnv("META_VERIFY_TOKEN", ""),
		WhatsAppBaseURL:      getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com"),
		WhatsAppAPIVersion:   getEnv("WHATSAPP_API_VERSION", "v21.0"),
		WhatsAppTimeout:      getEnvAsDuration("WHATSAPP_TIMEOUT", 10*time.Second),
		WhatsAppMaxRetries:   getEnvAsInt("WHATSAPP_MAX_RETRIES", 2),
		WhatsAppRetryBackoff: getEnvAsDuration("WHATSAPP_RETRY_BACKOFF", 500*time.Millisecond),
		InboundTimeout:       getEnvAsDuration("INBOUND_TIMEOUT", 60*time.Second),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		DedupCacheSize: getEnvAsInt("DEDUP_CACHE_SIZE", 10000),
		DedupClaimTTL:  getEnvAsDuration("DEDUP_CLAIM_TTL", 24*time.Hour),
		TenantCacheTTL: getEnvAsDuration("TENANT_CACHE_TTL", 15*time.Minute),

		SchedulerEnabled:       getEnvAsBool("SCHEDULER_ENABLED", true),
		NotifyTimezone:         getEnv("NOTIFY_TIMEZONE", "Europe/Rome"),
		ConfirmationCron:       getEnv("CONFIRMATION_CRON", "0 9 * * *"),
		ReminderCron:           getEnv("REMINDER_CRON", "@every 5m"),
		SlotGranularityMinutes: getEnvAsInt("SLOT_GRANULARITY_MINUTES", 15),

		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),
		AdminRateLimitRPS: getEnvAsFloat("ADMIN_RATE_LIMIT_RPS", 5),

		EmailProvider:  strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "Salon Booking"),

		AWSRegion:           getEnv("AWS_REGION", "eu-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// Location resolves NotifyTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.NotifyTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
