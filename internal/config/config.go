package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	DispatchLocal = "local"
	DispatchKafka = "kafka"
)

// Config holds application configuration loaded from environment.
type Config struct {
	DB struct {
		DSN     string `env:"DB_DSN" env-required:"true"`
		Migrate bool   `env:"DB_MIGRATE" env-default:"true"`
	}
	Kafka struct {
		Broker  string `env:"KAFKA_BROKER"`
		Topic   string `env:"KAFKA_TOPIC" env-default:"alert_delivery"`
		GroupID string `env:"KAFKA_GROUP_ID" env-default:"alert-dispatcher"`
	}
	API struct {
		Port     string `env:"API_PORT" env-default:":9191"`
		BasePath string `env:"API_BASE_PATH" env-default:"/api/v0"`
	}
	Logging struct {
		Dir        string `env:"LOG_DIR" env-default:"logs"`
		Level      string `env:"LOG_LEVEL" env-default:"info"`
		Format     string `env:"LOG_FORMAT" env-default:"text"`
		MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" env-default:"5"`
		MaxBackups int    `env:"LOG_MAX_BACKUPS" env-default:"5"`
	}
	Telegram struct {
		APIURL              string        `env:"TELEGRAM_API_URL" env-default:"https://api.telegram.org"`
		Timeout             time.Duration `env:"TELEGRAM_TIMEOUT" env-default:"15s"`
		UploadTimeout       time.Duration `env:"TELEGRAM_UPLOAD_TIMEOUT" env-default:"60s"`
		RateLimit           int           `env:"TELEGRAM_RATE_LIMIT" env-default:"25"`
		FailFastCredentials bool          `env:"TELEGRAM_FAIL_FAST_CREDENTIALS" env-default:"false"`
	}
	Media struct {
		UploadDir string `env:"UPLOAD_DIR" env-default:"media/uploads"`
		BaseURL   string `env:"MEDIA_BASE_URL"`
	}
	Scheduler struct {
		Interval  time.Duration `env:"SCHEDULER_INTERVAL" env-default:"30s"`
		BatchSize int           `env:"SCHEDULER_BATCH_SIZE" env-default:"100"`
	}
	Notification struct {
		Dispatch    string        `env:"DISPATCH_MODE" env-default:"local"`
		QueueSize   int           `env:"QUEUE_SIZE" env-default:"500"`
		MaxWorkers  int           `env:"MAX_WORKERS" env-default:"10"`
		MaxAttempts int           `env:"MAX_ATTEMPTS" env-default:"3"`
		RetryDelay  time.Duration `env:"RETRY_DELAY" env-default:"60s"`
	}
	TimeZone string `env:"TIME_ZONE" env-default:"Asia/Dhaka"`
}

// Load reads an optional .env file, then the environment, applies defaults,
// and returns a validated Config.
func Load() (Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}

	missing := []string{}
	if c.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	switch c.Notification.Dispatch {
	case DispatchLocal:
	case DispatchKafka:
		if c.Kafka.Broker == "" {
			missing = append(missing, "KAFKA_BROKER")
		}
	default:
		return fmt.Errorf("unknown DISPATCH_MODE %q", c.Notification.Dispatch)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configurations: %v", missing)
	}

	if c.Notification.MaxWorkers <= 0 {
		c.Notification.MaxWorkers = 10
	}
	if c.Notification.QueueSize <= 0 {
		c.Notification.QueueSize = 500
	}
	if c.Notification.MaxAttempts <= 0 {
		c.Notification.MaxAttempts = 3
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = 30 * time.Second
	}
	return nil
}

// Location is the zone used for human-facing timestamps in messages.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
