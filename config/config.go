package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	Storage      StorageConfig      `yaml:"storage"`
	ShipBox      ShipBoxConfig      `yaml:"shipbox"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	ShipmentChangedTopicName string `yaml:"shipment_changed_topic_name"`
	ClosureReportTopicName   string `yaml:"closure_report_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig points at an S3-compatible bucket for delivery photos.
// Empty Bucket disables uploads; images are then accepted by ref only.
type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type ShipBoxConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// Driver: "postgres" (default) | "memory"
	Driver                   string `yaml:"driver"`
	OperatingTimezone        string `yaml:"operating_timezone"`
	KafkaConsumerGroup       string `yaml:"kafka_consumer_group"`
	PublicTrackingTTLSeconds int    `yaml:"public_tracking_ttl_seconds"`
	WebhookTimeoutSeconds    int    `yaml:"webhook_timeout_seconds"`
	StrictDedup              bool   `yaml:"strict_dedup"`

	WorkerPollIntervalSeconds    int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize              int `yaml:"worker_batch_size"`
	WorkerConcurrency            int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds           int `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute     int `yaml:"worker_rate_limit_per_minute"`
	WorkerRateLimitFlexPerMinute int `yaml:"worker_rate_limit_flex_per_minute"`
	FetchTimeoutSeconds          int `yaml:"fetch_timeout_seconds"`
	PollGraceSeconds             int `yaml:"poll_grace_seconds"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`
	// ClosureCron: robfig/cron spec of the closure report, e.g. "0 22 * * *".
	ClosureCron string `yaml:"closure_cron"`

	// Poll scheduling (optional). Defaults: in transit and pending 1 minute,
	// backoff 5/15/30/60 minutes.
	WorkerNextCheckInTransitMinSeconds int `yaml:"worker_next_check_in_transit_min_seconds"`
	WorkerNextCheckInTransitMaxSeconds int `yaml:"worker_next_check_in_transit_max_seconds"`
	WorkerNextCheckPendingSeconds      int `yaml:"worker_next_check_pending_seconds"`
	WorkerBackoff1Seconds              int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds              int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds              int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds              int `yaml:"worker_backoff_4_seconds"`
}

type IntegrationsConfig struct {
	EmulatorBaseURL string        `yaml:"emulator_base_url"`
	Tokens          []TokenConfig `yaml:"tokens"`
	// WebhookUsers links a platform account to a customer.
	WebhookUsers []WebhookUserConfig `yaml:"webhook_users"`
}

type TokenConfig struct {
	CustomerID  uint64 `yaml:"customer_id"`
	Origin      string `yaml:"origin"`
	AccessToken string `yaml:"access_token"`
	StoreID     string `yaml:"store_id"`
}

type WebhookUserConfig struct {
	Origin       string `yaml:"origin"`
	OriginUserID string `yaml:"origin_user_id"`
	CustomerID   uint64 `yaml:"customer_id"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
