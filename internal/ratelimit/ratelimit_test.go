package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/stretchr/testify/assert"
)

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Public:    config.BucketConfig{WindowMS: 1000, Limit: 2},
		Admin:     config.BucketConfig{WindowMS: 1000, Limit: 1},
		Auth:      config.BucketConfig{WindowMS: 1000, Limit: 5},
		Inference: config.BucketConfig{WindowMS: 1000, Limit: 3},
	}
}

func TestAllowWithinLimit(t *testing.T) {
	l := New(testConfig())
	d1 := l.Allow(BucketPublic, "1.2.3.4")
	assert.True(t, d1.Allowed)
	d2 := l.Allow(BucketPublic, "1.2.3.4")
	assert.True(t, d2.Allowed)
}

func TestAllowExceedsLimit(t *testing.T) {
	l := New(testConfig())
	l.Allow(BucketAdmin, "1.2.3.4")
	d := l.Allow(BucketAdmin, "1.2.3.4")
	assert.False(t, d.Allowed)
}

func TestBucketsAreIndependent(t *testing.T) {
	l := New(testConfig())
	l.Allow(BucketAdmin, "1.2.3.4")
	d := l.Allow(BucketPublic, "1.2.3.4")
	assert.True(t, d.Allowed, "exhausting the admin bucket must not affect the public bucket")
}

func TestClientsAreIndependent(t *testing.T) {
	l := New(testConfig())
	l.Allow(BucketAdmin, "1.2.3.4")
	d := l.Allow(BucketAdmin, "5.6.7.8")
	assert.True(t, d.Allowed, "each client IP gets its own bucket instance")
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	r.RemoteAddr = "127.0.0.1:5555"
	assert.Equal(t, "9.9.9.9", ClientIP(r))
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:5555"
	assert.Equal(t, "127.0.0.1", ClientIP(r))
}

func TestWriteHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHeaders(rec, Decision{Allowed: true, Limit: 60, Remaining: 59, Policy: "60;w=60"})
	assert.Equal(t, "60;w=60", rec.Header().Get("RateLimit-Policy"))
	assert.Equal(t, "60", rec.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "59", rec.Header().Get("RateLimit-Remaining"))
}
