package data

import (
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig controls exponential backoff for SQLITE_BUSY style failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64 // e.g. 0.25 for 25% jitter
}

// DefaultRetryConfig: 5 retries, 20ms base, 25% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  20 * time.Millisecond,
		JitterPct:  0.25,
	}
}

// RetryOnDBLock retries fn while it fails with "database is locked".
func RetryOnDBLock(fn func() error) error {
	return retryOnDBLock(DefaultRetryConfig(), fn, time.Sleep)
}

func retryOnDBLock(cfg RetryConfig, fn func() error, sleepFn func(time.Duration)) error {
	err := fn()
	for attempt := 1; err != nil && isDBLocked(err) && attempt <= cfg.MaxRetries; attempt++ {
		delay := cfg.BaseDelay * (1 << (attempt - 1))
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
		sleepFn(delay + jitter)
		err = fn()
	}
	return err
}

func isDBLocked(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
