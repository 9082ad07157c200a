package kernel

import (
	"time"
)

// CleanupConfig holds configurable cleanup parameters.
type CleanupConfig struct {
	// Interval is how often to run cleanup (default: 5 minutes).
	Interval time.Duration
}

// DefaultCleanupConfig returns default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{Interval: 5 * time.Minute}
}

// StartCleanupLoop periodically drops rate limit windows that no longer
// hold events, so requesters seen once do not accumulate forever.
// Returns a stop function that should be called to stop the loop.
func (r *RateLimiter) StartCleanupLoop(cfg CleanupConfig, logger Logger) func() {
	if cfg.Interval <= 0 {
		cfg = DefaultCleanupConfig()
	}

	ticker := time.NewTicker(cfg.Interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				r.runCleanupCycle(logger)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// runCleanupCycle performs a single cleanup cycle with panic recovery.
func (r *RateLimiter) runCleanupCycle(logger Logger) {
	_ = SafeExecute(logger, "rate_limiter_cleanup", func() error {
		removed := r.CleanupExpired()
		if logger != nil {
			logger.Debug("cleanup_cycle_completed",
				"windows_removed", removed,
				"requesters_tracked", r.TrackedRequesters(),
			)
		}
		return nil
	})
}
