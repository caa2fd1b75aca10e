package config

import (
	"strconv"
	"strings"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// WorkersEnvVar bounds concurrent builder executions per task category.
// Accepted forms: "8" (global bound) or "codegen=2,compile=4" (per-category
// bounds). The engine never reads it ambiently; the CLI parses it into a
// RuntimeConfig handed to the scheduler at construction.
const WorkersEnvVar = "KILN_WORKERS"

// DefaultWorkerCount is the per-pool bound when nothing is configured.
const DefaultWorkerCount = 4

// RuntimeConfig sizes the scheduler's worker pools.
type RuntimeConfig struct {
	// DefaultWorkers bounds pools for categories without an explicit entry.
	DefaultWorkers int

	// Workers bounds pools per task category.
	Workers map[string]int

	// LowResources clamps every pool to a single worker.
	LowResources bool
}

// DefaultRuntimeConfig returns the runtime config used when the
// environment specifies nothing.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{DefaultWorkers: DefaultWorkerCount}
}

// PoolSize returns the worker bound for a task category.
func (c RuntimeConfig) PoolSize(category string) int {
	if c.LowResources {
		return 1
	}
	if n, ok := c.Workers[category]; ok && n > 0 {
		return n
	}
	if c.DefaultWorkers > 0 {
		return c.DefaultWorkers
	}
	return DefaultWorkerCount
}

// RuntimeConfigFromEnv parses WorkersEnvVar via the supplied lookup
// function (tests pass a fake; the CLI passes os.Getenv after godotenv).
func RuntimeConfigFromEnv(getenv func(string) string) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()

	raw := strings.TrimSpace(getenv(WorkersEnvVar))
	if raw == "" {
		return cfg, nil
	}

	if n, err := strconv.Atoi(raw); err == nil {
		if n < 1 {
			return cfg, domain.NewConfigErrorf("%s must be positive, got %d", WorkersEnvVar, n)
		}
		cfg.DefaultWorkers = n
		return cfg, nil
	}

	cfg.Workers = make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		category, count, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || category == "" {
			return cfg, domain.NewConfigErrorf("%s: invalid entry %q (want category=count)", WorkersEnvVar, pair)
		}
		n, err := strconv.Atoi(count)
		if err != nil || n < 1 {
			return cfg, domain.NewConfigErrorf("%s: invalid worker count %q for category %s", WorkersEnvVar, count, category)
		}
		cfg.Workers[category] = n
	}
	return cfg, nil
}
