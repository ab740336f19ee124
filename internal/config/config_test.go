package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("SCHEDULER_INTERVAL", "")

	cfg := LoadConfig()

	assert.Equal(t, 5, cfg.WorkerConcurrency)
	assert.Equal(t, time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, 3, cfg.JobMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.JobBackoff)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("SCHEDULER_INTERVAL", "30s")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg := LoadConfig()

	assert.Equal(t, 12, cfg.WorkerConcurrency)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, "sqlite", cfg.DBDriver)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{Timezone: "Not/AZone"}
	assert.Equal(t, time.UTC, cfg.Location())
}
