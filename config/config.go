// Package config loads voicepipe configuration from the environment.
//
// All components read their settings from here; none of them touch the
// environment directly. Each component owns the clients it builds from these
// values and is responsible for tearing them down.
package config

import (
	"time"

	"github.com/voicepipe/voicepipe/errors"
)

// Config is the root configuration shared by all voicepipe commands.
type Config struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	DNS      DNSConfig      `mapstructure:"dns"`
}

// RedisConfig configures the shared key-value store (queues, progress
// records, rate-limit counters).
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"` // key prefix for rate-limit keys
}

// BlobConfig configures the S3-compatible object store.
type BlobConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DatabaseConfig configures the relational job store.
type DatabaseConfig struct {
	// URL is the SQLite DSN (a file path, optionally with query parameters).
	URL string `mapstructure:"url"`
}

// ServerConfig configures the rate limiter HTTP service.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DispatchConfig configures the worker runtime and recovery sweeper.
type DispatchConfig struct {
	Workers    int           `mapstructure:"workers"`     // concurrent workers per process
	PopTimeout time.Duration `mapstructure:"pop_timeout"` // blocking-pop timeout per scan
	SweepLease time.Duration `mapstructure:"sweep_lease"` // RUNNING age before a job counts as stranded
}

// DNSConfig configures the DNS reconciler.
type DNSConfig struct {
	Token           string `mapstructure:"token"`       // Cloudflare API token
	BaseDomain      string `mapstructure:"base_domain"` // managed zone, e.g. "example.org"
	TraefikConfig   string `mapstructure:"traefik_config"`
	FingerprintPath string `mapstructure:"fingerprint_path"`
	HealthFilePath  string `mapstructure:"health_file_path"`
}

// ValidateRedis checks the settings every redis-backed command requires.
// Missing values are fatal boot errors: the process must exit non-zero
// before accepting work.
func (c *Config) ValidateRedis() error {
	if c.Redis.Host == "" {
		return errors.New("REDIS_HOST environment variable is required")
	}
	if c.Redis.Password == "" {
		return errors.New("REDIS_PASSWORD environment variable is required")
	}
	return nil
}

// ValidateWorker checks the settings the worker runtime requires on top of
// redis: the job database and the blob store.
func (c *Config) ValidateWorker() error {
	if err := c.ValidateRedis(); err != nil {
		return err
	}
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if c.Blob.Endpoint == "" {
		return errors.New("MINIO_ENDPOINT environment variable is required")
	}
	if c.Blob.AccessKey == "" || c.Blob.SecretKey == "" {
		return errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY environment variables are required")
	}
	return nil
}

// ValidateDNS checks the settings the reconciler requires.
func (c *Config) ValidateDNS() error {
	if c.DNS.Token == "" {
		return errors.New("CLOUDFLARE_API_TOKEN environment variable is required")
	}
	if c.DNS.BaseDomain == "" {
		return errors.New("DOMAIN_BASE environment variable is required")
	}
	return nil
}
