package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"labreserve-backend/internal/calendar"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
	Reservation ReservationConfig `yaml:"reservation"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Calendar    calendar.Config   `yaml:"calendar"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// ReservationConfig bounds the reservation windows the admission engine
// accepts.
type ReservationConfig struct {
	MinDurationMinutes int `yaml:"min_duration_minutes"`
	MaxDurationMinutes int `yaml:"max_duration_minutes"`
	GranularityMinutes int `yaml:"granularity_minutes"`

	MinDuration time.Duration `yaml:"-"`
	MaxDuration time.Duration `yaml:"-"`
	Granularity time.Duration `yaml:"-"`
}

// SweepConfig holds the expiry sweep configuration.
type SweepConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Sweep.IntervalSeconds <= 0 {
		cfg.Sweep.IntervalSeconds = 60
	}
	cfg.Sweep.Interval = time.Duration(cfg.Sweep.IntervalSeconds) * time.Second

	if cfg.Reservation.MinDurationMinutes <= 0 {
		cfg.Reservation.MinDurationMinutes = 60
	}
	if cfg.Reservation.MaxDurationMinutes <= 0 {
		cfg.Reservation.MaxDurationMinutes = 480
	}
	if cfg.Reservation.GranularityMinutes <= 0 {
		cfg.Reservation.GranularityMinutes = 30
	}
	cfg.Reservation.MinDuration = time.Duration(cfg.Reservation.MinDurationMinutes) * time.Minute
	cfg.Reservation.MaxDuration = time.Duration(cfg.Reservation.MaxDurationMinutes) * time.Minute
	cfg.Reservation.Granularity = time.Duration(cfg.Reservation.GranularityMinutes) * time.Minute

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
