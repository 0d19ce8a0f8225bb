package config

import "os"

// Config holds process configuration. Values are read once at startup and
// injected into the components that need them; nothing reads the
// environment after Load returns.
type Config struct {
	Port     string
	MongoURI string
	Database string

	JWTSecret     string
	WebhookSecret string

	// Payment processor.
	SimplefiAPIURL string
	SimplefiAPIKey string

	// Base URL of this service, used to derive the processor's
	// notification callback URL.
	BackendURL  string
	FrontendURL string

	// Email delivery.
	EmailProvider   string // "postmark" or "sendgrid"
	PostmarkToken   string
	SendgridAPIKey  string
	EmailSender     string
	EmailSenderName string

	// Records-store mirroring (application status).
	RecordsURL   string
	RecordsToken string

	// Idempotency cache.
	IdempotencyBackend string // "bolt" or "mongo"
	IdempotencyDBPath  string
}

// Load reads configuration from environment variables, applying defaults
// suitable for local development.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8000"),
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		Database: getEnv("MONGO_DATABASE", "event_payments"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		SimplefiAPIURL: getEnv("SIMPLEFI_API_URL", "https://api.simplefi.tech"),
		SimplefiAPIKey: os.Getenv("SIMPLEFI_API_KEY"),

		BackendURL:  getEnv("BACKEND_URL", "http://localhost:8000"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		EmailProvider:   getEnv("EMAIL_PROVIDER", "postmark"),
		PostmarkToken:   os.Getenv("POSTMARK_API_TOKEN"),
		SendgridAPIKey:  os.Getenv("SENDGRID_API_KEY"),
		EmailSender:     getEnv("EMAIL_SENDER", "tickets@example.com"),
		EmailSenderName: getEnv("EMAIL_SENDER_NAME", "Ticketing"),

		RecordsURL:   os.Getenv("RECORDS_URL"),
		RecordsToken: os.Getenv("RECORDS_TOKEN"),

		IdempotencyBackend: getEnv("IDEMPOTENCY_BACKEND", "bolt"),
		IdempotencyDBPath:  getEnv("IDEMPOTENCY_DB_PATH", "webhooks.db"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
