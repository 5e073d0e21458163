package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Sweep         SweepConfig         `mapstructure:"sweep"`
	OTP           OTPConfig           `mapstructure:"otp"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Sandbox       SandboxConfig       `mapstructure:"sandbox"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	JWTAccessSecret      string        `mapstructure:"jwt_access_secret" validate:"required,min=32"`
	JWTRefreshSecret     string        `mapstructure:"jwt_refresh_secret" validate:"required,min=32"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m,max=1h"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" validate:"required,min=1h"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"required,min=10,max=15"`
}

// GatewayConfig holds the payment provider credentials and limits.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SecretKey      string        `mapstructure:"secret_key"`
	WebhookHash    string        `mapstructure:"webhook_hash"`
	ClientID       string        `mapstructure:"client_id"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxAmount      string        `mapstructure:"max_amount"`
	Currency       string        `mapstructure:"currency"`
	RedirectURL    string        `mapstructure:"redirect_url"`
	PaymentOptions string        `mapstructure:"payment_options"`
	Title          string        `mapstructure:"title"`
	LogoURL        string        `mapstructure:"logo_url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig configures the post-settlement job queue.
type QueueConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Name        string        `mapstructure:"name"`
	MaxRetry    int           `mapstructure:"max_retry"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Retention   time.Duration `mapstructure:"retention"`

	// SalesRecipient receives the sales desk notification; empty disables it.
	SalesRecipient string `mapstructure:"sales_recipient"`
}

type SweepConfig struct {
	Cronspec      string        `mapstructure:"cronspec"`
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
	StuckAfter    time.Duration `mapstructure:"stuck_after"`
	AbandonAfter  time.Duration `mapstructure:"abandon_after"`
	DispatchGrace time.Duration `mapstructure:"dispatch_grace"`
	ReminderDays  int           `mapstructure:"reminder_days"`
	LockKey       int64         `mapstructure:"lock_key"`
}

type OTPConfig struct {
	Length      int           `mapstructure:"length"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Issuer      string        `mapstructure:"issuer"`
}

type KafkaConfig struct {
	Brokers           string `mapstructure:"brokers"`
	NotificationTopic string `mapstructure:"notification_topic"`
}

type WebhookConfig struct {
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

type SandboxConfig struct {
	Addr        string        `mapstructure:"addr"`
	WebhookURL  string        `mapstructure:"webhook_url"`
	SuccessRate float64       `mapstructure:"success_rate"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxWorkers  int           `mapstructure:"max_workers"`
	QueueSize   int           `mapstructure:"queue_size"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds the configuration from plain environment variables,
// used for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("HTTP_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 45*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Security: SecurityConfig{
			JWTAccessSecret:      getEnv("JWT_ACCESS_SECRET", ""),
			JWTRefreshSecret:     getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration: getEnvAsDuration("REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 12),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Gateway: GatewayConfig{
			BaseURL:        getEnv("GATEWAY_BASE_URL", "https://api.flutterwave.com/v3"),
			SecretKey:      getEnv("GATEWAY_SECRET_KEY", ""),
			WebhookHash:    getEnv("GATEWAY_WEBHOOK_HASH", ""),
			ClientID:       getEnv("GATEWAY_CLIENT_ID", "landpay"),
			Timeout:        getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second),
			MaxRetries:     getEnvAsInt("GATEWAY_MAX_RETRIES", 3),
			RetryDelay:     getEnvAsDuration("GATEWAY_RETRY_DELAY", time.Second),
			MaxAmount:      getEnv("GATEWAY_MAX_AMOUNT", "100000000"),
			Currency:       getEnv("GATEWAY_CURRENCY", "NGN"),
			RedirectURL:    getEnv("GATEWAY_REDIRECT_URL", ""),
			PaymentOptions: getEnv("GATEWAY_PAYMENT_OPTIONS", "card,banktransfer,mobilemoney"),
			Title:          getEnv("GATEWAY_TITLE", "Land Purchase"),
			LogoURL:        getEnv("GATEWAY_LOGO_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Concurrency:    getEnvAsInt("QUEUE_CONCURRENCY", 10),
			Name:           getEnv("QUEUE_NAME", "settlement"),
			MaxRetry:       getEnvAsInt("QUEUE_MAX_RETRY", 3),
			RetryDelay:     getEnvAsDuration("QUEUE_RETRY_DELAY", 30*time.Second),
			Retention:      getEnvAsDuration("QUEUE_RETENTION", 24*time.Hour),
			SalesRecipient: getEnv("QUEUE_SALES_RECIPIENT", ""),
		},
		Sweep: SweepConfig{
			Cronspec:      getEnv("SWEEP_CRONSPEC", "@every 15m"),
			PendingTTL:    getEnvAsDuration("SWEEP_PENDING_TTL", 24*time.Hour),
			StuckAfter:    getEnvAsDuration("SWEEP_STUCK_AFTER", 2*time.Hour),
			AbandonAfter:  getEnvAsDuration("SWEEP_ABANDON_AFTER", 24*time.Hour),
			DispatchGrace: getEnvAsDuration("SWEEP_DISPATCH_GRACE", 5*time.Minute),
			ReminderDays:  getEnvAsInt("SWEEP_REMINDER_DAYS", 3),
			LockKey:       int64(getEnvAsInt("SWEEP_LOCK_KEY", 424242)),
		},
		OTP: OTPConfig{
			Length:      getEnvAsInt("OTP_LENGTH", 6),
			TTL:         getEnvAsDuration("OTP_TTL", 10*time.Minute),
			MaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			Issuer:      getEnv("OTP_ISSUER", "LandPay"),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnv("KAFKA_BROKERS", ""),
			NotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "notifications"),
		},
		Webhook: WebhookConfig{
			RateLimit:  getEnvAsInt("WEBHOOK_RATE_LIMIT", 20),
			RateWindow: getEnvAsDuration("WEBHOOK_RATE_WINDOW", time.Minute),
		},
		Sandbox: SandboxConfig{
			Addr:        getEnv("SANDBOX_ADDR", ":9090"),
			WebhookURL:  getEnv("SANDBOX_WEBHOOK_URL", "http://localhost:8080/api/v1/payments/webhook"),
			SuccessRate: 0.9,
			MinDelay:    getEnvAsDuration("SANDBOX_MIN_DELAY", time.Second),
			MaxDelay:    getEnvAsDuration("SANDBOX_MAX_DELAY", 4*time.Second),
			MaxWorkers:  getEnvAsInt("SANDBOX_MAX_WORKERS", 10),
			QueueSize:   getEnvAsInt("SANDBOX_QUEUE_SIZE", 100),
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Queue.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("queue config: %v", err))
	}

	if err := c.Sweep.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("sweep config: %v", err))
	}

	if err := c.OTP.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("otp config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTAccessSecret) < 32 {
		return errors.New("jwt_access_secret must be at least 32 characters")
	}
	if len(c.JWTRefreshSecret) < 32 {
		return errors.New("jwt_refresh_secret must be at least 32 characters")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return errors.New("access and refresh secrets must differ")
	}
	return nil
}

func (c *GatewayConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.SecretKey == "" {
		return errors.New("secret_key is required")
	}
	if c.WebhookHash == "" {
		return errors.New("webhook_hash is required")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	if _, err := c.MaxAmountDecimal(); err != nil {
		return err
	}
	return nil
}

// MaxAmountDecimal parses the configured charge ceiling.
func (c *GatewayConfig) MaxAmountDecimal() (decimal.Decimal, error) {
	if c.MaxAmount == "" {
		return decimal.NewFromInt(100_000_000), nil
	}
	d, err := decimal.NewFromString(c.MaxAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid max_amount %q: %w", c.MaxAmount, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.New("max_amount must be positive")
	}
	return d, nil
}

// PaymentOptionList splits the comma separated payment options.
func (c *GatewayConfig) PaymentOptionList() []string {
	var out []string
	for _, opt := range strings.Split(c.PaymentOptions, ",") {
		if opt = strings.TrimSpace(opt); opt != "" {
			out = append(out, opt)
		}
	}
	return out
}

func (c *QueueConfig) Validate() error {
	if c.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	if c.MaxRetry < 0 {
		return errors.New("max_retry cannot be negative")
	}
	return nil
}

func (c *SweepConfig) Validate() error {
	if c.PendingTTL <= 0 {
		return errors.New("pending_ttl must be positive")
	}
	if c.AbandonAfter < c.StuckAfter {
		return errors.New("abandon_after must be >= stuck_after")
	}
	return nil
}

func (c *OTPConfig) Validate() error {
	if c.Length < 4 || c.Length > 10 {
		return errors.New("length must be between 4 and 10")
	}
	if c.TTL <= 0 {
		return errors.New("ttl must be positive")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	return nil
}

// BrokerList returns the kafka broker list, empty when kafka is disabled.
func (c *KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
