// Package config loads the small, flat set of environment variables the
// ingest, worker, and reconciler binaries share.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every setting read from the environment. All three
// binaries (server, worker, reconciler) load the same struct so that
// they agree on queue/store addresses without duplicating parsing.
type Config struct {
	DBDSN             string
	KVURL             string
	SearchURL         string
	Port              string
	WorkerConcurrency int
	ReconcileInterval time.Duration
	CounterSampleSize int
	Env               string
}

// Load reads configuration from the environment, applying the defaults
// documented in SPEC_FULL.md §6.
func Load() Config {
	return Config{
		DBDSN:             env("DB_DSN", ""),
		KVURL:             env("KV_URL", "redis://localhost:6379/0"),
		SearchURL:         env("SEARCH_URL", "http://localhost:9200"),
		Port:              env("PORT", "8080"),
		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 10),
		ReconcileInterval: envDuration("RECONCILE_INTERVAL", 30*time.Second),
		CounterSampleSize: envInt("COUNTER_SAMPLE_SIZE", 50),
		Env:               env("ENV", ""),
	}
}

// IsDev reports whether pretty console logging should be used.
func (c Config) IsDev() bool {
	return c.Env == "dev"
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
