// Package ratelimit throttles build requests per client on the HTTP and
// WebSocket front-ends with token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// RequestsPerSecond is the sustained number of builds allowed per client.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	// BurstSize is the maximum number of builds allowed in a burst.
	BurstSize int `yaml:"burst_size" json:"burst_size"`
	// MaxClients bounds how many client buckets are tracked at once.
	MaxClients int `yaml:"max_clients" json:"max_clients"`
}

// DefaultConfig returns the default rate limit configuration. Limiting is
// off unless enabled explicitly; admission control already bounds load.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		RequestsPerSecond: 50,
		BurstSize:         100,
		MaxClients:        10000,
	}
}

// normalized fills unset rates from the defaults.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.BurstSize <= 0 {
		c.BurstSize = max(1, int(c.RequestsPerSecond*2))
	}
	if c.MaxClients <= 0 {
		c.MaxClients = def.MaxClients
	}
	return c
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until one more request would be allowed.
	// Zero when Allowed.
	RetryAfter time.Duration
}

// bucket is a token bucket. Callers hold the Limiter lock.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter keeps one token bucket per client key. It is safe for
// concurrent use; a nil or disabled Limiter allows everything.
type Limiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	return newLimiter(config, time.Now)
}

func newLimiter(config Config, now func() time.Time) *Limiter {
	return &Limiter{
		config:  config.normalized(),
		now:     now,
		buckets: make(map[string]*bucket),
	}
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.Enabled
}

// Check consumes a token for key when one is available and otherwise
// reports how long the client should back off.
func (l *Limiter) Check(key string) Decision {
	if !l.Enabled() {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.refilled(key, now)
	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true}
	}
	wait := (1 - b.tokens) / l.config.RequestsPerSecond
	return Decision{RetryAfter: time.Duration(wait * float64(time.Second))}
}

// Allow is Check without the back-off hint.
func (l *Limiter) Allow(key string) bool {
	return l.Check(key).Allowed
}

// Reset forgets the bucket for a client.
func (l *Limiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// refilled returns the bucket for key topped up to now, creating a full
// one for a new client.
func (l *Limiter) refilled(key string, now time.Time) *bucket {
	burst := float64(l.config.BurstSize)
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.config.MaxClients {
			l.evict(now)
		}
		b = &bucket{tokens: burst, lastSeen: now}
		l.buckets[key] = b
		return b
	}
	if elapsed := now.Sub(b.lastSeen).Seconds(); elapsed > 0 {
		b.tokens = min(burst, b.tokens+elapsed*l.config.RequestsPerSecond)
	}
	b.lastSeen = now
	return b
}

// evict drops clients idle long enough to have refilled completely. When
// none qualify the least recently seen client goes, so the map never
// exceeds MaxClients.
func (l *Limiter) evict(now time.Time) {
	full := time.Duration(float64(l.config.BurstSize) / l.config.RequestsPerSecond * float64(time.Second))

	var oldestKey string
	var oldest time.Time
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= full {
			delete(l.buckets, key)
			continue
		}
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey, oldest = key, b.lastSeen
		}
	}
	if len(l.buckets) >= l.config.MaxClients && oldestKey != "" {
		delete(l.buckets, oldestKey)
	}
}
