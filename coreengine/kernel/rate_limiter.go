package kernel

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Rate Limit Config & Result
// =============================================================================

// RateLimitConfig bounds how many runs one requester may submit.
// A zero limit disables that window.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour" yaml:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day" yaml:"requests_per_day"`
}

// DefaultRateLimitConfig returns the limits applied to submission surfaces.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 30,
		RequestsPerHour:   500,
		RequestsPerDay:    0,
	}
}

// RateLimitResult is the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	LimitType  string        `json:"limit_type,omitempty"` // "minute", "hour", "day"
	Current    int           `json:"current"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// =============================================================================
// Sliding Window
// =============================================================================

// SlidingWindow counts events over a trailing window using sub-buckets.
// Callers serialize access through RateLimiter.
type SlidingWindow struct {
	window  time.Duration
	bucket  time.Duration
	buckets map[int64]int
}

// NewSlidingWindow creates a window split into ten buckets.
func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window:  window,
		bucket:  window / 10,
		buckets: make(map[int64]int),
	}
}

func (w *SlidingWindow) index(now time.Time) int64 {
	return now.UnixNano() / int64(w.bucket)
}

func (w *SlidingWindow) prune(now time.Time) {
	oldest := w.index(now) - 9
	for b := range w.buckets {
		if b < oldest {
			delete(w.buckets, b)
		}
	}
}

// Record counts one event at now.
func (w *SlidingWindow) Record(now time.Time) {
	w.prune(now)
	w.buckets[w.index(now)]++
}

// Count returns the number of events inside the window ending at now.
func (w *SlidingWindow) Count(now time.Time) int {
	w.prune(now)
	total := 0
	for _, c := range w.buckets {
		total += c
	}
	return total
}

// RetryAfter returns how long until the count drops below limit.
func (w *SlidingWindow) RetryAfter(now time.Time, limit int) time.Duration {
	current := w.Count(now)
	if current < limit {
		return 0
	}

	keys := make([]int64, 0, len(w.buckets))
	for b := range w.buckets {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	excess := current - limit + 1
	expired := 0
	for _, b := range keys {
		expired += w.buckets[b]
		if expired >= excess {
			freeAt := time.Unix(0, (b+10)*int64(w.bucket))
			if d := freeAt.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return w.window
}

// =============================================================================
// Rate Limiter
// =============================================================================

type windowKey struct {
	requester  string
	windowType string
}

// RateLimiter applies per-requester sliding window limits to run submissions.
// Safe for concurrent use.
type RateLimiter struct {
	config  RateLimitConfig
	windows map[windowKey]*SlidingWindow
	now     func() time.Time
	mu      sync.Mutex
}

// NewRateLimiter creates a limiter. A nil config uses DefaultRateLimitConfig.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  *config,
		windows: make(map[windowKey]*SlidingWindow),
		now:     time.Now,
	}
}

// WithClock replaces the limiter's time source.
func (r *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

// Allow checks every configured window for requester and, when all pass,
// records the submission. Remaining is -1 when no window is configured.
func (r *RateLimiter) Allow(requester string) *RateLimitResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	checks := []struct {
		windowType string
		window     time.Duration
		limit      int
	}{
		{"minute", time.Minute, r.config.RequestsPerMinute},
		{"hour", time.Hour, r.config.RequestsPerHour},
		{"day", 24 * time.Hour, r.config.RequestsPerDay},
	}

	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		w := r.window(requester, c.windowType, c.window)
		if current := w.Count(now); current >= c.limit {
			return &RateLimitResult{
				Allowed:    false,
				LimitType:  c.windowType,
				Current:    current,
				Limit:      c.limit,
				RetryAfter: w.RetryAfter(now, c.limit),
			}
		}
	}

	result := &RateLimitResult{Allowed: true, Remaining: -1}
	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		w := r.window(requester, c.windowType, c.window)
		w.Record(now)
		if remaining := c.limit - w.Count(now); result.Remaining < 0 || remaining < result.Remaining {
			result.Remaining = remaining
		}
	}
	return result
}

// Reset forgets all windows for requester.
func (r *RateLimiter) Reset(requester string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.windows {
		if key.requester == requester {
			delete(r.windows, key)
		}
	}
}

// AnonymousRequester keys submissions that carry no requester.
const AnonymousRequester = "anonymous"

// RequesterKey normalizes a requester name into a limiter key.
func RequesterKey(requester string) string {
	key := strings.ToLower(strings.TrimSpace(requester))
	if key == "" {
		return AnonymousRequester
	}
	return key
}

func (r *RateLimiter) window(requester, windowType string, d time.Duration) *SlidingWindow {
	key := windowKey{requester, windowType}
	w, ok := r.windows[key]
	if !ok {
		w = NewSlidingWindow(d)
		r.windows[key] = w
	}
	return w
}

// CleanupExpired drops windows with no events left in them and returns how
// many were removed.
func (r *RateLimiter) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for key, w := range r.windows {
		if w.Count(now) == 0 {
			delete(r.windows, key)
			removed++
		}
	}
	return removed
}

// TrackedRequesters returns how many requesters currently hold windows.
func (r *RateLimiter) TrackedRequesters() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	for key := range r.windows {
		seen[key.requester] = struct{}{}
	}
	return len(seen)
}
