package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/go-auction/pkg/utils"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	DeliveryKafka     = "kafka"
	DeliveryInProcess = "inprocess"
)

type Config struct {
	Env        string     `yaml:"env" env:"ENV" env-default:"local"`
	Log        Log        `yaml:"log"`
	HTTP       HTTP       `yaml:"http"`
	Postgres   PG         `yaml:"postgres"`
	Kafka      Kafka      `yaml:"kafka"`
	Redis      Redis      `yaml:"redis"`
	Tracing    Tracing    `yaml:"tracing"`
	Events     Events     `yaml:"events"`
	Outbox     Outbox     `yaml:"outbox"`
	Auction    Auction    `yaml:"auction"`
	Users      Users      `yaml:"users"`
	Settlement Settlement `yaml:"settlement"`
	Payout     Payout     `yaml:"payout"`
	Breaker    Breaker    `yaml:"breaker"`
	Limiter    Limiter    `yaml:"limiter"`
}

// Log.Format is "json" or "console"; empty keeps the env preset.
type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type PG struct {
	URL             string        `yaml:"url" env:"DB_URL"`
	MaxConns        int32         `yaml:"max_conns" env-default:"10"`
	MinConns        int32         `yaml:"min_conns" env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env-default:"1h"`
	MigrationsPath  string        `yaml:"migrations_path" env:"MIGRATIONS_PATH"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env-default:"10m"`
	HealthCheck     time.Duration `yaml:"health_check_period" env-default:"30s"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env-default:"5s"`
	ApplicationName string        `yaml:"application_name"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	CacheTTL time.Duration `yaml:"cache_ttl" env-default:"10m"`
}

// Tracing.SampleRatio of zero in YAML falls back to the default; set
// TRACING_SAMPLE_RATIO=0 to stop sampling.
type Tracing struct {
	Endpoint    string  `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" env:"TRACING_SAMPLE_RATIO" env-default:"1"`
	TLS         bool    `yaml:"tls" env:"TRACING_TLS"`
}

// Options fills the service name from fallback when the config leaves it blank.
func (t Tracing) Options(fallback, env string) utils.TracerOptions {
	name := t.ServiceName
	if name == "" {
		name = fallback
	}

	return utils.TracerOptions{
		ServiceName: name,
		Endpoint:    t.Endpoint,
		Env:         env,
		SampleRatio: t.SampleRatio,
		Insecure:    !t.TLS,
	}
}

// Events selects how outbox rows leave the process. Resolved once at startup.
type Events struct {
	Delivery string `yaml:"delivery" env:"EVENTS_DELIVERY" env-default:"kafka"`
}

func (e Events) UseKafka() bool {
	return e.Delivery != DeliveryInProcess
}

type Outbox struct {
	BatchSize   int           `yaml:"batch_size" env-default:"100"`
	MaxRetries  int           `yaml:"max_retries" env-default:"5"`
	Retention   time.Duration `yaml:"retention" env-default:"168h"`
	PublishCron string        `yaml:"publish_cron" env-default:"@every 1s"`
	RetryCron   string        `yaml:"retry_cron" env-default:"@every 30s"`
	CleanupCron string        `yaml:"cleanup_cron" env-default:"@daily"`
}

type Auction struct {
	ExtendTriggerWindow  time.Duration `yaml:"extend_trigger_window" env-default:"5m"`
	ExtensionDuration    time.Duration `yaml:"extension_duration" env-default:"3m"`
	MaxExtensions        int           `yaml:"max_extensions" env-default:"5"`
	BidCancelWindow      time.Duration `yaml:"bid_cancel_window" env-default:"5m"`
	BuyNowPaymentWindow  time.Duration `yaml:"buy_now_payment_window" env-default:"30m"`
	RecoveryDuration     time.Duration `yaml:"recovery_duration" env-default:"30m"`
	MaxRecoveries        int           `yaml:"max_recoveries" env-default:"3"`
	MaxUnpaidPerUser     int           `yaml:"max_unpaid_per_user" env-default:"2"`
	LockTimeout          time.Duration `yaml:"lock_timeout" env-default:"3s"`
	EnrichmentTimeout    time.Duration `yaml:"enrichment_timeout" env-default:"500ms"`
	FailUnsoldAfterAbuse bool          `yaml:"fail_unsold_after_abuse" env-default:"true"`
	StartCron            string        `yaml:"start_cron" env-default:"0 * * * * *"`
	CloseCron            string        `yaml:"close_cron" env-default:"0 * * * * *"`
	BuyNowExpiryCron     string        `yaml:"buy_now_expiry_cron" env-default:"30 * * * * *"`
	ScanLimit            int           `yaml:"scan_limit" env-default:"200"`
}

type Users struct {
	BaseURL string        `yaml:"base_url" env:"USERS_BASE_URL" env-default:"http://localhost:8081"`
	Timeout time.Duration `yaml:"timeout" env-default:"400ms"`
}

type Settlement struct {
	ChunkSize      int           `yaml:"chunk_size" env-default:"100"`
	Period         time.Duration `yaml:"period" env-default:"168h"`
	CommissionRate string        `yaml:"commission_rate" env-default:"0.05"`
	CollectCron    string        `yaml:"collect_cron" env-default:"0 */10 * * * *"`
	CompleteCron   string        `yaml:"complete_cron" env-default:"0 0 3 * * *"`
}

type Payout struct {
	BaseURL     string        `yaml:"base_url" env:"PAYOUT_BASE_URL" env-default:"http://localhost:8082"`
	TokenSecret string        `yaml:"token_secret" env:"PAYOUT_TOKEN_SECRET"`
	TokenTTL    time.Duration `yaml:"token_ttl" env-default:"1m"`
	Timeout     time.Duration `yaml:"timeout" env-default:"5s"`
}

type Breaker struct {
	MaxRequests  uint32        `yaml:"max_requests" env-default:"3"`
	Interval     time.Duration `yaml:"interval" env-default:"5s"`
	Timeout      time.Duration `yaml:"timeout" env-default:"10s"`
	MinRequests  uint32        `yaml:"min_requests" env-default:"5"`
	FailureRatio float64       `yaml:"failure_ratio" env-default:"0.6"`
}

func (b Breaker) Options() utils.BreakerOptions {
	return utils.BreakerOptions{
		MaxRequests:  b.MaxRequests,
		Interval:     b.Interval,
		Timeout:      b.Timeout,
		MinRequests:  b.MinRequests,
		FailureRatio: b.FailureRatio,
	}
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

// MustLoad reads the config at path and exits on any read or validation error.
// Callers resolve CONFIG_PATH before calling it.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects sizes that would turn a drain loop or scan into a no-op spin.
func (c *Config) Validate() error {
	var errs []error

	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("outbox.batch_size must be positive, got %d", c.Outbox.BatchSize))
	}
	if c.Auction.ScanLimit <= 0 {
		errs = append(errs, fmt.Errorf("auction.scan_limit must be positive, got %d", c.Auction.ScanLimit))
	}
	if c.Settlement.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("settlement.chunk_size must be positive, got %d", c.Settlement.ChunkSize))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be in [0, 1], got %v", c.Tracing.SampleRatio))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}
