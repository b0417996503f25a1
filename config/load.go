package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/voicepipe/voicepipe/errors"
)

// Load reads configuration from the environment. The recognized variable
// names match the deployment contract (REDIS_HOST, MINIO_ENDPOINT, ...)
// rather than a viper-derived prefix, so existing deployments keep working.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// LoadWithViper loads configuration from a caller-provided viper instance.
// Useful for tests that want to inject values without touching the
// environment.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.namespace", "ratelimit:")
	v.SetDefault("blob.bucket", "voice-episodes")
	v.SetDefault("blob.use_ssl", false)
	v.SetDefault("server.port", 8000)
	v.SetDefault("dispatch.workers", 1)
	v.SetDefault("dispatch.pop_timeout", time.Second)
	v.SetDefault("dispatch.sweep_lease", 2*time.Hour)
	v.SetDefault("dns.traefik_config", "/etc/traefik/config.yml")
	v.SetDefault("dns.fingerprint_path", "/tmp/traefik_config_checksum")
	v.SetDefault("dns.health_file_path", "/tmp/cloudflare_sync_health")
}

// bindEnvVars wires each config key to its deployment environment variable.
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.namespace", "NAMESPACE_PREFIX")
	v.BindEnv("blob.endpoint", "MINIO_ENDPOINT")
	v.BindEnv("blob.access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("blob.secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("blob.bucket", "MINIO_BUCKET")
	v.BindEnv("blob.use_ssl", "MINIO_USE_SSL")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("dispatch.workers", "DISPATCH_WORKERS")
	v.BindEnv("dispatch.sweep_lease", "SWEEP_LEASE")
	v.BindEnv("dns.token", "CLOUDFLARE_API_TOKEN")
	v.BindEnv("dns.base_domain", "DOMAIN_BASE")
	v.BindEnv("dns.traefik_config", "TRAEFIK_CONFIG_PATH")
	v.BindEnv("dns.fingerprint_path", "FINGERPRINT_PATH")
	v.BindEnv("dns.health_file_path", "HEALTH_FILE_PATH")
}
