// Package ratelimit throttles state-changing requests per client and locks
// out repeated failed logins.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Limiter allows at most Limit unsafe requests per client within any
// sliding Window.
type Limiter struct {
	mu       sync.Mutex
	clients  map[string]*history
	limit    int
	window   time.Duration
	interval time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// history is a ring of the most recent request times of one client.
type history struct {
	times []time.Time
	next  int
	last  time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerMinute int
	Window            time.Duration
	CleanupInterval   time.Duration
}

// DefaultConfig allows a burst of uploads while stopping scripted hammering.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		Window:            time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

// NewLimiter creates a limiter and starts its cleanup goroutine. Call Stop to
// release it.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	rl := &Limiter{
		clients:  make(map[string]*history),
		limit:    cfg.RequestsPerMinute,
		window:   cfg.Window,
		interval: cfg.CleanupInterval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow records a request from key. When the budget is spent it reports how
// long until the oldest request in the window expires.
func (rl *Limiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	h, ok := rl.clients[key]
	if !ok {
		h = &history{times: make([]time.Time, rl.limit)}
		rl.clients[key] = h
	}
	h.last = now

	// times[next] is the oldest slot once the ring is full
	oldest := h.times[h.next]
	if !oldest.IsZero() && now.Sub(oldest) < rl.window {
		return false, rl.window - now.Sub(oldest)
	}
	h.times[h.next] = now
	h.next = (h.next + 1) % len(h.times)
	return true, 0
}

func (rl *Limiter) cleanupLoop() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.prune()
		case <-rl.stop:
			return
		}
	}
}

// prune forgets clients whose last request left the window.
func (rl *Limiter) prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	n := 0
	for key, h := range rl.clients {
		if h.last.Before(cutoff) {
			delete(rl.clients, key)
			n++
		}
	}
	return n
}

// ActiveClients returns the number of tracked clients.
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// RetryAfterSeconds formats d for a Retry-After header, rounding up.
func RetryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	return strconv.Itoa(max(secs, 1))
}

// Middleware limits unsafe methods only; page loads and asset fetches pass through.
func (rl *Limiter) Middleware(clientKey func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request, time.Duration)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			ok, retry := rl.Allow(clientKey(r))
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			if onLimit != nil {
				onLimit(w, r, retry)
				return
			}
			w.Header().Set("Retry-After", RetryAfterSeconds(retry))
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		})
	}
}
