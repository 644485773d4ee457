package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"forum-core/internal/testutil"
)

func limitedHandler(rl *RateLimiter) http.Handler {
	return rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func requestFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()
	handler := limitedHandler(rl)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("203.0.113.5:1234"))
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.5:1234"))
	testutil.AssertJSONError(t, w, http.StatusTooManyRequests, "Rate limit exceeded")
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRateLimiter_KeyIgnoresPort(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	defer rl.Stop()
	handler := limitedHandler(rl)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.5:1111"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.5:2222"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("[::ffff:203.0.113.5]:3333"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "mapped IPv4 shares the bucket")

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.7:1111"))
	assert.Equal(t, http.StatusOK, w.Code, "other clients are independent")
}

func TestRateLimiter_CleanupDropsIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	rl.getLimiter("idle")
	rl.getLimiter("active")
	rl.mu.Lock()
	rl.limiters["idle"].lastAccess = time.Now().Add(-2 * limiterTTL)
	rl.mu.Unlock()

	rl.cleanup(time.Now())

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.limiters, "idle")
	assert.Contains(t, rl.limiters, "active")
}

func TestRateLimiter_CleanupEvictsOldestOverCapacity(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	now := time.Now()
	rl.mu.Lock()
	for i := 0; i < maxLimiters+10; i++ {
		rl.limiters[fmt.Sprintf("ip-%d", i)] = &limiterEntry{lastAccess: now.Add(time.Duration(i) * time.Millisecond)}
	}
	rl.mu.Unlock()

	rl.cleanup(now)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.limiters, maxLimiters/2)
	assert.NotContains(t, rl.limiters, "ip-0")
	assert.Contains(t, rl.limiters, fmt.Sprintf("ip-%d", maxLimiters+9))
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}
