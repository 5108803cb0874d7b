package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds all runtime configuration for the stock stream backend.
type Config struct {
	Port        string
	Environment string

	// Tracked symbol universe, fixed for the lifetime of the process
	Symbols []string

	// Engine timings
	DataUpdateInterval time.Duration
	PredictionInterval time.Duration
	FetchTimeout       time.Duration
	FetchRetryDelay    time.Duration

	// Live state store
	HistoryWindow     int
	MinPredictHistory int

	// Broadcaster
	SubscriberQueueCapacity int
	OverflowDisconnectLimit int
	MaxWebSocketClients     int

	// Ingestion failure escalation
	FailureEscalationThreshold int

	// Quote source
	AlphaVantageAPIKey string
	QuoteBaseURL       string

	// Persistence
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	ArchivePath string
	MongoURI    string

	// Auth
	JWTSecret string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		Symbols: splitSymbols(getEnv("STOCK_SYMBOLS", "AAPL,GOOGL,MSFT,TSLA,AMZN")),

		DataUpdateInterval: getEnvDuration("DATA_UPDATE_INTERVAL", 60*time.Second),
		PredictionInterval: getEnvDuration("PREDICTION_INTERVAL", 300*time.Second),
		FetchTimeout:       getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		FetchRetryDelay:    getEnvDuration("FETCH_RETRY_DELAY", 2*time.Second),

		HistoryWindow:     getEnvInt("HISTORY_WINDOW", 50),
		MinPredictHistory: getEnvInt("MIN_PREDICT_HISTORY", 5),

		SubscriberQueueCapacity: getEnvInt("SUBSCRIBER_QUEUE_CAPACITY", 64),
		OverflowDisconnectLimit: getEnvInt("OVERFLOW_DISCONNECT_LIMIT", 256),
		MaxWebSocketClients:     getEnvInt("MAX_WEBSOCKET_CLIENTS", 100),

		FailureEscalationThreshold: getEnvInt("FAILURE_ESCALATION_THRESHOLD", 3),

		AlphaVantageAPIKey: getEnv("ALPHA_VANTAGE_API_KEY", ""),
		QuoteBaseURL:       getEnv("QUOTE_BASE_URL", "https://www.alphavantage.co/query"),

		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "stockstream_db"),
		ArchivePath: getEnv("ARCHIVE_PATH", "data/market.db"),
		MongoURI:    getEnv("MONGODB_URI", ""),

		JWTSecret: getEnv("JWT_SECRET", "your-secret-key"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}

	if len(config.Symbols) == 0 {
		return nil, fmt.Errorf("STOCK_SYMBOLS must contain at least one symbol")
	}

	AppConfig = config
	return config, nil
}

// InitDB initializes database connection
func InitDB() (*gorm.DB, error) {
	// Log connection info (masked for security)
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(AppConfig.DBHost),
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		AppConfig.DBHost,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBPort,
	)

	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Failed to get underlying database: %v", err)
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		log.Printf("Database ping failed: %v", err)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// splitSymbols parses a comma-separated symbol list into an uppercased,
// deduplicated slice.
func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]bool, len(parts))
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.ToUpper(strings.TrimSpace(p))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	return symbols
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvDuration gets a duration environment variable. Plain integers are
// interpreted as seconds, otherwise the value must parse with
// time.ParseDuration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return d
}
