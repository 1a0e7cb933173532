package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Now()
	assert.True(t, rl.Allow("a", now))
	assert.True(t, rl.Allow("a", now))
	assert.False(t, rl.Allow("a", now))
	assert.True(t, rl.Allow("b", now), "limits are per ip")
	assert.True(t, rl.Allow("a", now.Add(2*time.Second)), "tokens refilled")
	assert.True(t, rl.Allow("a", now.Add(2*time.Second)))
	assert.False(t, rl.Allow("a", now.Add(2*time.Second)), "burst capped at limit")

	// 令牌按窗口匀速补充：半个窗口补一个
	assert.True(t, rl.Allow("a", now.Add(2500*time.Millisecond)))
	assert.False(t, rl.Allow("a", now.Add(2500*time.Millisecond)))

	assert.Equal(t, 2, rl.Visitors())
	rl.evictIdle(now.Add(4 * time.Second))
	assert.Equal(t, 1, rl.Visitors(), "idle ip evicted")
	rl.evictIdle(now.Add(time.Minute))
	assert.Zero(t, rl.Visitors())
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Second)
	now := time.Now()
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("a", now))
	}
	assert.Zero(t, rl.Visitors())
}

func TestMiddlewareChain(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	h := rl.Middleware(MaxBody(4)(echo))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long body")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
