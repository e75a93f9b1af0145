package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	NATS        NATSConfig
	App         AppConfig
	Translation TranslationConfig
	Router      RouterConfig
	Breaker     BreakerConfig
	Billing     BillingConfig
	Context     ContextConfig
	Usage       UsageConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type NATSConfig struct {
	URL string
}

type AppConfig struct {
	Name        string
	Environment string
	LogLevel    string
}

type TranslationConfig struct {
	// OpenAI-compatible LLM provider (premium quality)
	OpenAIURL   string
	OpenAIKey   string
	OpenAIModel string

	// DeepL (high quality, European language focus)
	DeepLURL string
	DeepLKey string

	// LibreTranslate (open source, self-hosted)
	LibreTranslateURL string
	LibreTranslateKey string

	// Google Cloud Translation (widest language coverage)
	GoogleTranslateKey string

	// Cache settings
	CacheEnabled      bool
	CacheTTL          time.Duration
	CacheWarmupHits   int64
	DefaultSourceLang string

	// Rate limiting
	RateLimit       int
	RateLimitWindow time.Duration

	// Batch settings
	MaxBatchSize int

	// Overall request deadline; fallback attempts stop once it is exceeded
	RequestTimeout time.Duration

	// Provider health poll interval
	HealthPollInterval time.Duration
}

// RouterConfig holds the provider scoring weights. The weights are tunable;
// the contract is the weighted-sum shape with a deterministic tie-break.
type RouterConfig struct {
	HealthyWeight   int
	DegradedWeight  int
	AffinityMax     int
	ComplexityMax   int
	CostMax         int
	SimpleMaxChars  int
	ComplexMinChars int
}

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	CallTimeout      time.Duration
}

type BillingConfig struct {
	Currency                 string
	FreemiumStartingBalance  decimal.Decimal
	AutoRechargeDefault      bool
	RechargeThresholdDefault decimal.Decimal
	RechargeAmountDefault    decimal.Decimal
	PaymentAPIURL            string
	PaymentAPIKey            string
	LowBalanceThreshold      decimal.Decimal
}

type ContextConfig struct {
	BufferSize        int
	MinContextLength  int
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
}

type UsageConfig struct {
	FlushBatchSize int
	FlushInterval  time.Duration
	QueueCapacity  int
	Retention      time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "translation_engine_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
		App: AppConfig{
			Name:        getEnv("APP_NAME", "translation-engine"),
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Translation: TranslationConfig{
			OpenAIURL:          getEnv("OPENAI_URL", "https://api.openai.com/v1"),
			OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			DeepLURL:           getEnv("DEEPL_URL", "https://api-free.deepl.com/v2"),
			DeepLKey:           getEnv("DEEPL_API_KEY", ""),
			LibreTranslateURL:  getEnv("LIBRETRANSLATE_URL", ""),
			LibreTranslateKey:  getEnv("LIBRETRANSLATE_API_KEY", ""),
			GoogleTranslateKey: getEnv("GOOGLE_TRANSLATE_API_KEY", ""),
			CacheEnabled:       getEnvAsBool("CACHE_ENABLED", true),
			CacheTTL:           getEnvAsDuration("CACHE_TTL", 24*time.Hour),
			CacheWarmupHits:    int64(getEnvAsInt("CACHE_WARMUP_MIN_HITS", 3)),
			DefaultSourceLang:  getEnv("DEFAULT_SOURCE_LANG", "auto"),
			RateLimit:          getEnvAsInt("RATE_LIMIT", 100),
			RateLimitWindow:    getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			MaxBatchSize:       getEnvAsInt("MAX_BATCH_SIZE", 50),
			RequestTimeout:     getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			HealthPollInterval: getEnvAsDuration("HEALTH_POLL_INTERVAL", 60*time.Second),
		},
		Router: RouterConfig{
			HealthyWeight:   getEnvAsInt("ROUTER_HEALTHY_WEIGHT", 30),
			DegradedWeight:  getEnvAsInt("ROUTER_DEGRADED_WEIGHT", 15),
			AffinityMax:     getEnvAsInt("ROUTER_AFFINITY_MAX", 25),
			ComplexityMax:   getEnvAsInt("ROUTER_COMPLEXITY_MAX", 25),
			CostMax:         getEnvAsInt("ROUTER_COST_MAX", 20),
			SimpleMaxChars:  getEnvAsInt("ROUTER_SIMPLE_MAX_CHARS", 50),
			ComplexMinChars: getEnvAsInt("ROUTER_COMPLEX_MIN_CHARS", 500),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold: getEnvAsInt("BREAKER_SUCCESS_THRESHOLD", 2),
			ResetTimeout:     getEnvAsDuration("BREAKER_RESET_TIMEOUT", 60*time.Second),
			CallTimeout:      getEnvAsDuration("BREAKER_CALL_TIMEOUT", 10*time.Second),
		},
		Billing: BillingConfig{
			Currency:                 getEnv("BILLING_CURRENCY", "USD"),
			FreemiumStartingBalance:  getEnvAsDecimal("FREEMIUM_STARTING_BALANCE", "5.00"),
			AutoRechargeDefault:      getEnvAsBool("AUTO_RECHARGE_DEFAULT", false),
			RechargeThresholdDefault: getEnvAsDecimal("RECHARGE_THRESHOLD_DEFAULT", "1.00"),
			RechargeAmountDefault:    getEnvAsDecimal("RECHARGE_AMOUNT_DEFAULT", "10.00"),
			PaymentAPIURL:            getEnv("PAYMENT_API_URL", ""),
			PaymentAPIKey:            getEnv("PAYMENT_API_KEY", ""),
			LowBalanceThreshold:      getEnvAsDecimal("LOW_BALANCE_THRESHOLD", "1.00"),
		},
		Context: ContextConfig{
			BufferSize:        getEnvAsInt("CONTEXT_BUFFER_SIZE", 10),
			MinContextLength:  getEnvAsInt("CONTEXT_MIN_LENGTH", 40),
			InactivityTimeout: getEnvAsDuration("CONTEXT_INACTIVITY_TIMEOUT", 30*time.Minute),
			SweepInterval:     getEnvAsDuration("CONTEXT_SWEEP_INTERVAL", 5*time.Minute),
		},
		Usage: UsageConfig{
			FlushBatchSize: getEnvAsInt("USAGE_FLUSH_BATCH_SIZE", 50),
			FlushInterval:  getEnvAsDuration("USAGE_FLUSH_INTERVAL", 10*time.Second),
			QueueCapacity:  getEnvAsInt("USAGE_QUEUE_CAPACITY", 4096),
			Retention:      getEnvAsDuration("USAGE_RETENTION", 90*24*time.Hour),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(defaultValue)
	return d
}
