package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Payment  PaymentConfig  `yaml:"payment"`
	Booking  BookingConfig  `yaml:"booking"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
	Checkout CheckoutConfig `yaml:"checkout"`
}

type HTTPConfig struct {
	Address        string  `yaml:"address"`
	PublicURL      string  `yaml:"public_url"`
	AllowedOrigin  string  `yaml:"allowed_origin"`
	RequestsPerSec float64 `yaml:"requests_per_second"`
	Burst          int     `yaml:"burst"`
}

// GRPCConfig addresses the health-check server; "-" disables it.
type GRPCConfig struct {
	Address string `yaml:"address"`
}

func (g GRPCConfig) Enabled() bool {
	return g.Address != "-"
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// Enabled is false when no host is configured; the in-memory dataset is used instead.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	PaymentEventsTopic string   `yaml:"payment_events_topic"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	GroupID            string   `yaml:"group_id"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type PaymentConfig struct {
	// SuccessURL and CancelURL may contain {CHECKOUT_SESSION_ID}.
	SuccessURL           string  `yaml:"success_url"`
	CancelURL            string  `yaml:"cancel_url"`
	Currency             string  `yaml:"currency"`
	SessionsPerSecond    float64 `yaml:"sessions_per_second"`
	SessionBurst         int     `yaml:"session_burst"`
	SessionTTLMinutes    int     `yaml:"session_ttl_minutes"`
	HeartbeatSeconds     int     `yaml:"heartbeat_seconds"`
	SubscriberBufferSize int     `yaml:"subscriber_buffer_size"`
}

type BookingConfig struct {
	SearchCacheTTL     int `yaml:"search_cache_ttl_seconds"`
	PaymentTTLMinutes  int `yaml:"payment_ttl_minutes"`
	FinalizeLockSecond int `yaml:"finalize_lock_seconds"`
	DefaultPageSize    int `yaml:"default_page_size"`
}

type WorkerConfig struct {
	ExpirationSweepMinutes int `yaml:"expiration_sweep_minutes"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CheckoutConfig is read by the command-line front end.
type CheckoutConfig struct {
	BackendURL     string `yaml:"backend_url"`
	ReturnURL      string `yaml:"return_url"`
	SessionStore   string `yaml:"session_store"`
	RequestTimeout int    `yaml:"request_timeout_seconds"`
	WaitSeconds    int    `yaml:"wait_seconds"`
}

func (c CheckoutConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.PublicURL == "" {
		c.HTTP.PublicURL = "http://localhost:8080"
	}
	if c.HTTP.AllowedOrigin == "" {
		c.HTTP.AllowedOrigin = "http://localhost:5173"
	}
	if c.HTTP.RequestsPerSec == 0 {
		c.HTTP.RequestsPerSec = 20
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = 40
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = ":9090"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Kafka.PaymentEventsTopic == "" {
		c.Kafka.PaymentEventsTopic = "payment-events"
	}
	if c.Kafka.BookingEventsTopic == "" {
		c.Kafka.BookingEventsTopic = "booking-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "aimtravel-worker"
	}
	if c.Payment.SuccessURL == "" {
		c.Payment.SuccessURL = "http://localhost:5173/payment-success?session_id={CHECKOUT_SESSION_ID}"
	}
	if c.Payment.CancelURL == "" {
		c.Payment.CancelURL = "http://localhost:5173/payment-cancelled?session_id={CHECKOUT_SESSION_ID}"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "usd"
	}
	if c.Payment.SessionsPerSecond == 0 {
		c.Payment.SessionsPerSecond = 10
	}
	if c.Payment.SessionBurst == 0 {
		c.Payment.SessionBurst = 20
	}
	if c.Payment.SessionTTLMinutes == 0 {
		c.Payment.SessionTTLMinutes = 30
	}
	if c.Payment.HeartbeatSeconds == 0 {
		c.Payment.HeartbeatSeconds = 15
	}
	if c.Payment.SubscriberBufferSize == 0 {
		c.Payment.SubscriberBufferSize = 16
	}
	if c.Booking.SearchCacheTTL == 0 {
		c.Booking.SearchCacheTTL = 60
	}
	if c.Booking.PaymentTTLMinutes == 0 {
		c.Booking.PaymentTTLMinutes = 30
	}
	if c.Booking.FinalizeLockSecond == 0 {
		c.Booking.FinalizeLockSecond = 30
	}
	if c.Booking.DefaultPageSize == 0 {
		c.Booking.DefaultPageSize = 10
	}
	if c.Worker.ExpirationSweepMinutes == 0 {
		c.Worker.ExpirationSweepMinutes = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Checkout.BackendURL == "" {
		c.Checkout.BackendURL = "http://localhost:8080"
	}
	if c.Checkout.ReturnURL == "" {
		c.Checkout.ReturnURL = "http://localhost:5173/payment-success?session_id={CHECKOUT_SESSION_ID}"
	}
	if c.Checkout.SessionStore == "" {
		c.Checkout.SessionStore = "checkout.db"
	}
	if c.Checkout.RequestTimeout == 0 {
		c.Checkout.RequestTimeout = 10
	}
	if c.Checkout.WaitSeconds == 0 {
		c.Checkout.WaitSeconds = 120
	}
}
