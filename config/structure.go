package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the root configuration for the backend data platform.
type Config struct {
	App      AppConfig      `koanf:"app"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`

	// k holds the underlying Koanf instance for flexible access to custom configurations
	k *koanf.Koanf `json:"-" yaml:"-" mapstructure:"-"`
}

type AppConfig struct {
	Name    string `koanf:"name" validate:"required"`
	Env     string `koanf:"env" validate:"oneof=development staging production"`
	Version string `koanf:"version"`
}

type DatabaseConfig struct {
	Host            string        `koanf:"host" validate:"required_without=ConnectionString"`
	Port            int           `koanf:"port" validate:"gte=0,lte=65535"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxConns        int           `koanf:"max_conns" validate:"gt=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"gte=0"`

	// Connection string override (if needed)
	ConnectionString string `koanf:"connection_string"`

	Lifecycle LifecycleConfig `koanf:"lifecycle"`
}

// LifecycleConfig tunes the RLS connection-lifecycle subsystem.
type LifecycleConfig struct {
	// AcquireTimeout bounds pool checkout for one acquisition.
	AcquireTimeout time.Duration `koanf:"acquire_timeout" validate:"gt=0"`
	// ReleaseTimeout bounds the context clear performed on explicit release
	// and on the defensive clear of the acquisition failure path.
	ReleaseTimeout time.Duration `koanf:"release_timeout" validate:"gt=0"`
	// DropCleanupTimeout bounds the detached context clear spawned when a
	// guard is discarded without release.
	DropCleanupTimeout time.Duration `koanf:"drop_cleanup_timeout" validate:"gt=0"`
	// DegradedThreshold is the number of consecutive context set/clear
	// failures after which new tenant-scoped acquisitions are rejected.
	// Zero disables the gate.
	DegradedThreshold int `koanf:"degraded_threshold" validate:"gte=0"`
	// AcquirePerSecond rate-limits acquisitions before they hit the pool.
	// Zero disables the pre-guard.
	AcquirePerSecond float64 `koanf:"acquire_per_second" validate:"gte=0"`
	// AcquireBurst is the burst size for the acquisition pre-guard.
	AcquireBurst int `koanf:"acquire_burst" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// Koanf exposes the underlying instance for keys outside the typed structure.
func (c *Config) Koanf() *koanf.Koanf {
	return c.k
}
