package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/firstgrade/hms/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestLimiterAllow(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		if !limiter.Allow("test-ip") {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}
	if limiter.Allow("test-ip") {
		t.Error("Request after burst should be denied")
	}

	// 60/min refills one token per second.
	time.Sleep(1100 * time.Millisecond)
	if !limiter.Allow("test-ip") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 60, BurstSize: 3})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}
	assert.False(t, limiter.Allow("client-a"))
	assert.True(t, limiter.Allow("client-b"))
}

func TestLimiterEvictIdle(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 60, BurstSize: 1})
	defer limiter.Stop()

	limiter.Allow("old")
	limiter.evictIdle(time.Now().Add(time.Second))

	limiter.mu.Lock()
	n := len(limiter.clients)
	limiter.mu.Unlock()
	assert.Equal(t, 0, n)

	// A forgotten client starts with a full bucket again.
	assert.True(t, limiter.Allow("old"))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := New(Config{RequestsPerMinute: 1, BurstSize: 2})
	defer limiter.Stop()

	r := gin.New()
	r.Use(auth.Middleware(nil, true), limiter.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	call := func(tenant string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tenant != "" {
			req.Header.Set(auth.HeaderRole, string(auth.RoleStaff))
			req.Header.Set(auth.HeaderTenantID, tenant)
		}
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, call("").Code)
	assert.Equal(t, http.StatusNoContent, call("").Code)
	w := call("")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Identified callers have their own bucket.
	assert.Equal(t, http.StatusNoContent, call("TEN-001").Code)
}
