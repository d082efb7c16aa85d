package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"

	GatewayModeSandbox = "sandbox"
	GatewayModeHTTP    = "http"
)

// Config is the resolved runtime configuration for the escrow ledger.
// Local runs default to sqlite storage, a sandbox gateway and in-process locks.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StorageDriver string
	DatabaseURL   string
	SQLiteDSN     string
	MaxDBConns    int32
	RedisURL      string
	LockLease     time.Duration

	KafkaBrokers           []string
	KafkaConsumerGroup     string
	KafkaInputTopics       []string
	KafkaEscrowTopic       string
	KafkaNotificationTopic string

	GatewayMode       string
	GatewayBaseURL    string
	GatewaySecretKey  string
	GatewayMaxRetries int
	WebhookSecret     string
	WebhookTolerance  time.Duration

	ContractServiceURL  string
	ProfileServiceURL   string
	ServiceToken        string
	CollaboratorTimeout time.Duration

	DefaultFeeRate  decimal.Decimal
	LockTimeout     time.Duration
	ConflictRetries int

	AutoReleaseEnabled       bool
	AutoReleaseDelay         time.Duration
	AutoReleaseTimers        bool
	AutoReleaseSweepInterval time.Duration
	ReconcileInterval        time.Duration
	PendingDepositStaleAfter time.Duration
	PendingDepositExpiry     time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int

	MoneyRatePerSecond float64
	MoneyBurst         int
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Storage struct {
		Driver      string `yaml:"driver"`
		PostgresURL string `yaml:"postgres_url"`
		SQLiteDSN   string `yaml:"sqlite_dsn"`
	} `yaml:"storage"`
	Dependencies struct {
		RedisURL           string   `yaml:"redis_url"`
		KafkaBrokers       []string `yaml:"kafka_brokers"`
		ContractServiceURL string   `yaml:"contract_service_url"`
		ProfileServiceURL  string   `yaml:"profile_service_url"`
	} `yaml:"dependencies"`
	Kafka struct {
		ConsumerGroup     string   `yaml:"consumer_group"`
		InputTopics       []string `yaml:"input_topics"`
		EscrowTopic       string   `yaml:"escrow_topic"`
		NotificationTopic string   `yaml:"notification_topic"`
	} `yaml:"kafka"`
	Gateway struct {
		Mode    string `yaml:"mode"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"gateway"`
	Ledger struct {
		DefaultFeeRate string `yaml:"default_fee_rate"`
		AutoRelease    struct {
			Enabled   *bool `yaml:"enabled"`
			DelayDays int   `yaml:"delay_days"`
		} `yaml:"auto_release"`
	} `yaml:"ledger"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:                "Escrow-Ledger-Service",
		HTTPPort:                 8080,
		GRPCPort:                 9090,
		StorageDriver:            StorageDriverSQLite,
		SQLiteDSN:                "file:escrow-ledger?mode=memory&cache=shared",
		MaxDBConns:               20,
		LockLease:                30 * time.Second,
		KafkaConsumerGroup:       "escrow-ledger-service",
		KafkaInputTopics:         []string{"contract.accepted"},
		KafkaEscrowTopic:         "escrow.events",
		KafkaNotificationTopic:   "notification.requested",
		GatewayMode:              GatewayModeSandbox,
		GatewayMaxRetries:        3,
		WebhookTolerance:         5 * time.Minute,
		CollaboratorTimeout:      5 * time.Second,
		DefaultFeeRate:           decimal.NewFromInt(5),
		LockTimeout:              5 * time.Second,
		ConflictRetries:          3,
		AutoReleaseEnabled:       true,
		AutoReleaseDelay:         14 * 24 * time.Hour,
		AutoReleaseTimers:        true,
		AutoReleaseSweepInterval: time.Minute,
		ReconcileInterval:        5 * time.Minute,
		PendingDepositStaleAfter: 15 * time.Minute,
		PendingDepositExpiry:     24 * time.Hour,
		OutboxPollInterval:       2 * time.Second,
		OutboxBatchSize:          100,
		OutboxClaimTTL:           30 * time.Second,
		OutboxMaxRetries:         5,
		MoneyRatePerSecond:       5,
		MoneyBurst:               10,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if err := applyFile(&cfg, f); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.SQLiteDSN = envOrDefault("SQLITE_DSN", cfg.SQLiteDSN)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.LockLease = envSeconds("ACCOUNT_LOCK_LEASE_SECONDS", cfg.LockLease)

	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaInputTopics = envCSV("KAFKA_INPUT_TOPICS", cfg.KafkaInputTopics)
	cfg.KafkaEscrowTopic = envOrDefault("KAFKA_ESCROW_TOPIC", cfg.KafkaEscrowTopic)
	cfg.KafkaNotificationTopic = envOrDefault("KAFKA_NOTIFICATION_TOPIC", cfg.KafkaNotificationTopic)

	cfg.GatewayMode = strings.ToLower(strings.TrimSpace(envOrDefault("GATEWAY_MODE", cfg.GatewayMode)))
	cfg.GatewayBaseURL = envOrDefault("GATEWAY_BASE_URL", cfg.GatewayBaseURL)
	cfg.GatewaySecretKey = envOrDefault("GATEWAY_SECRET_KEY", cfg.GatewaySecretKey)
	cfg.GatewayMaxRetries = envInt("GATEWAY_MAX_RETRIES", cfg.GatewayMaxRetries)
	cfg.WebhookSecret = envOrDefault("GATEWAY_WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.WebhookTolerance = envSeconds("GATEWAY_WEBHOOK_TOLERANCE_SECONDS", cfg.WebhookTolerance)

	cfg.ContractServiceURL = envOrDefault("CONTRACT_SERVICE_URL", cfg.ContractServiceURL)
	cfg.ProfileServiceURL = envOrDefault("PROFILE_SERVICE_URL", cfg.ProfileServiceURL)
	cfg.ServiceToken = envOrDefault("INTERNAL_SERVICE_TOKEN", cfg.ServiceToken)
	cfg.CollaboratorTimeout = envSeconds("COLLABORATOR_TIMEOUT_SECONDS", cfg.CollaboratorTimeout)

	if raw := os.Getenv("DEFAULT_FEE_RATE"); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse DEFAULT_FEE_RATE: %w", err)
		}
		cfg.DefaultFeeRate = rate
	}
	cfg.LockTimeout = envSeconds("LOCK_TIMEOUT_SECONDS", cfg.LockTimeout)
	cfg.ConflictRetries = envInt("CONFLICT_RETRIES", cfg.ConflictRetries)

	cfg.AutoReleaseEnabled = envBool("AUTO_RELEASE_ENABLED", cfg.AutoReleaseEnabled)
	cfg.AutoReleaseDelay = time.Duration(envInt("AUTO_RELEASE_DELAY_DAYS", int(cfg.AutoReleaseDelay.Hours()/24))) * 24 * time.Hour
	cfg.AutoReleaseTimers = envBool("AUTO_RELEASE_TIMERS", cfg.AutoReleaseTimers)
	cfg.AutoReleaseSweepInterval = envSeconds("AUTO_RELEASE_SWEEP_SECONDS", cfg.AutoReleaseSweepInterval)
	cfg.ReconcileInterval = envSeconds("RECONCILE_INTERVAL_SECONDS", cfg.ReconcileInterval)
	cfg.PendingDepositStaleAfter = envSeconds("PENDING_DEPOSIT_STALE_SECONDS", cfg.PendingDepositStaleAfter)
	cfg.PendingDepositExpiry = envSeconds("PENDING_DEPOSIT_EXPIRY_SECONDS", cfg.PendingDepositExpiry)

	cfg.OutboxPollInterval = envSeconds("OUTBOX_POLL_SECONDS", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = envSeconds("OUTBOX_CLAIM_TTL_SECONDS", cfg.OutboxClaimTTL)
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	cfg.MoneyRatePerSecond = envFloat("MONEY_RATE_PER_SECOND", cfg.MoneyRatePerSecond)
	cfg.MoneyBurst = envInt("MONEY_RATE_BURST", cfg.MoneyBurst)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) error {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Storage.Driver != "" {
		cfg.StorageDriver = strings.ToLower(f.Storage.Driver)
	}
	if f.Storage.PostgresURL != "" {
		cfg.DatabaseURL = f.Storage.PostgresURL
	}
	if f.Storage.SQLiteDSN != "" {
		cfg.SQLiteDSN = f.Storage.SQLiteDSN
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.ContractServiceURL != "" {
		cfg.ContractServiceURL = f.Dependencies.ContractServiceURL
	}
	if f.Dependencies.ProfileServiceURL != "" {
		cfg.ProfileServiceURL = f.Dependencies.ProfileServiceURL
	}
	if f.Kafka.ConsumerGroup != "" {
		cfg.KafkaConsumerGroup = f.Kafka.ConsumerGroup
	}
	if len(f.Kafka.InputTopics) > 0 {
		cfg.KafkaInputTopics = f.Kafka.InputTopics
	}
	if f.Kafka.EscrowTopic != "" {
		cfg.KafkaEscrowTopic = f.Kafka.EscrowTopic
	}
	if f.Kafka.NotificationTopic != "" {
		cfg.KafkaNotificationTopic = f.Kafka.NotificationTopic
	}
	if f.Gateway.Mode != "" {
		cfg.GatewayMode = strings.ToLower(f.Gateway.Mode)
	}
	if f.Gateway.BaseURL != "" {
		cfg.GatewayBaseURL = f.Gateway.BaseURL
	}
	if f.Ledger.DefaultFeeRate != "" {
		rate, err := decimal.NewFromString(f.Ledger.DefaultFeeRate)
		if err != nil {
			return fmt.Errorf("parse ledger.default_fee_rate: %w", err)
		}
		cfg.DefaultFeeRate = rate
	}
	if f.Ledger.AutoRelease.Enabled != nil {
		cfg.AutoReleaseEnabled = *f.Ledger.AutoRelease.Enabled
	}
	if f.Ledger.AutoRelease.DelayDays > 0 {
		cfg.AutoReleaseDelay = time.Duration(f.Ledger.AutoRelease.DelayDays) * 24 * time.Hour
	}
	return nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/POSTGRES_URL for postgres storage")
		}
	case StorageDriverSQLite:
		if c.SQLiteDSN == "" {
			return fmt.Errorf("missing SQLITE_DSN for sqlite storage")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.GatewayMode {
	case GatewayModeSandbox:
	case GatewayModeHTTP:
		if c.GatewayBaseURL == "" || c.GatewaySecretKey == "" {
			return fmt.Errorf("missing GATEWAY_BASE_URL or GATEWAY_SECRET_KEY for http gateway")
		}
		if c.WebhookSecret == "" {
			return fmt.Errorf("missing GATEWAY_WEBHOOK_SECRET for http gateway")
		}
	default:
		return fmt.Errorf("unsupported GATEWAY_MODE %q", c.GatewayMode)
	}
	if c.DefaultFeeRate.IsNegative() || c.DefaultFeeRate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("DEFAULT_FEE_RATE must be between 0 and 100")
	}
	return nil
}

// topicByEvent routes escrow lifecycle events to the escrow topic and
// notification requests to their own topic.
func (c Config) topicByEvent(eventTypes []string, notificationEvent string) map[string]string {
	out := make(map[string]string, len(eventTypes)+1)
	for _, eventType := range eventTypes {
		out[eventType] = c.KafkaEscrowTopic
	}
	out[notificationEvent] = c.KafkaNotificationTopic
	return out
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envSeconds(name string, fallback time.Duration) time.Duration {
	return time.Duration(envInt(name, int(fallback.Seconds()))) * time.Second
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
