package app

import (
	"time"

	"github.com/nexevent/participation-backend/internal/platform/envutil"
)

type Config struct {
	MetricsAddr       string
	FanoutConcurrency int
	DebounceWindow    time.Duration
	SchedulerInterval time.Duration
	LocalReadTTL      time.Duration
}

func LoadConfig() Config {
	return Config{
		MetricsAddr:       envutil.String("METRICS_ADDR", ""),
		FanoutConcurrency: envutil.Int("FANOUT_CONCURRENCY", 8),
		DebounceWindow:    envutil.Duration("FANOUT_DEBOUNCE_WINDOW", 2*time.Second),
		SchedulerInterval: envutil.Duration("SCHEDULER_INTERVAL", 15*time.Minute),
		LocalReadTTL:      envutil.Duration("READ_LOCAL_TTL", 30*time.Second),
	}
}
