package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, perMinute int) (*Limiter, *fakeClock) {
	t.Helper()
	rl := NewLimiter(Config{RequestsPerMinute: perMinute, CleanupInterval: time.Hour})
	t.Cleanup(rl.Stop)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	rl.now = clock.now
	return rl, clock
}

func TestLimiterSlidingWindow(t *testing.T) {
	rl, clock := newTestLimiter(t, 3)

	for i := range 3 {
		ok, _ := rl.Allow("1.2.3.4")
		require.True(t, ok, "request %d", i+1)
		clock.advance(10 * time.Second)
	}

	ok, retry := rl.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retry, "oldest request leaves the window 30s later")

	ok, _ = rl.Allow("5.6.7.8")
	assert.True(t, ok, "other clients have their own budget")

	clock.advance(30 * time.Second)
	ok, _ = rl.Allow("1.2.3.4")
	assert.True(t, ok, "one slot freed")
	ok, _ = rl.Allow("1.2.3.4")
	assert.False(t, ok, "the next slot frees 10s later")

	assert.Equal(t, 2, rl.ActiveClients())
}

func TestLimiterPrune(t *testing.T) {
	rl, clock := newTestLimiter(t, 3)
	rl.Allow("a")
	clock.advance(30 * time.Second)
	rl.Allow("b")
	clock.advance(45 * time.Second)

	assert.Equal(t, 1, rl.prune())
	assert.Equal(t, 1, rl.ActiveClients())
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", RetryAfterSeconds(0))
	assert.Equal(t, "1", RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "2", RetryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, "60", RetryAfterSeconds(time.Minute))
}

func TestMiddlewareOnlyLimitsUnsafeMethods(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)

	h := rl.Middleware(func(*http.Request) string { return "ip" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, "GET is never limited")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestMiddlewareCallsOnLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)

	var got time.Duration
	h := rl.Middleware(func(*http.Request) string { return "ip" }, func(w http.ResponseWriter, r *http.Request, retry time.Duration) {
		got = retry
		w.WriteHeader(http.StatusTeapot)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, time.Minute, got)
}

func TestLockout(t *testing.T) {
	l := NewLockout(3, time.Minute)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l.now = clock.now

	l.Fail("alice|ip")
	l.Fail("alice|ip")
	locked, _ := l.Locked("alice|ip")
	assert.False(t, locked, "two failures do not lock")

	l.Fail("alice|ip")
	locked, remaining := l.Locked("alice|ip")
	assert.True(t, locked)
	assert.Equal(t, time.Minute, remaining)

	locked, _ = l.Locked("bob|ip")
	assert.False(t, locked, "other keys unaffected")

	clock.advance(time.Minute + time.Second)
	locked, _ = l.Locked("alice|ip")
	assert.False(t, locked, "lock expires")
}

func TestLockoutForgetsOldFailures(t *testing.T) {
	l := NewLockout(2, time.Minute)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l.now = clock.now

	l.Fail("k")
	clock.advance(2 * time.Minute)
	l.Fail("k")
	locked, _ := l.Locked("k")
	assert.False(t, locked)
}

func TestLockoutSuccessResets(t *testing.T) {
	l := NewLockout(2, time.Minute)
	l.Fail("k")
	l.Succeed("k")
	l.Fail("k")
	locked, _ := l.Locked("k")
	assert.False(t, locked)
}

func TestLockoutDisabled(t *testing.T) {
	l := NewLockout(0, time.Minute)
	for range 10 {
		l.Fail("k")
	}
	locked, _ := l.Locked("k")
	assert.False(t, locked)
}

func TestLockoutPrune(t *testing.T) {
	l := NewLockout(5, time.Minute)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l.now = clock.now
	l.Fail("k")
	clock.advance(2 * time.Minute)
	assert.Equal(t, 1, l.Prune())
}
