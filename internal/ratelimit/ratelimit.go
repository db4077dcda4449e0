// Package ratelimit implements the Rate Limiter: four
// independent per-client-IP buckets — public, admin, auth, inference — each
// configured with a {windowMs, limit} pair from platform config. Each
// bucket multiplexes one golang.org/x/time/rate token bucket per client IP.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/intrafind/ihub-apps-sub002/internal/config"
)

// Bucket names the four independent rate-limit buckets.
type Bucket string

const (
	BucketPublic    Bucket = "public"
	BucketAdmin     Bucket = "admin"
	BucketAuth      Bucket = "auth"
	BucketInference Bucket = "inference"
)

// Decision is the outcome of a Limiter.Allow call, carrying everything
// needed to populate the standard rate-limit response headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	Policy    string
}

// Limiter enforces the four-bucket scheme across all client IPs. Each
// (bucket, ip) pair gets its own token-bucket limiter, created lazily and
// never evicted, which is acceptable for single-instance in-memory
// deployments; a long-running multi-tenant deployment with unbounded
// distinct IPs would need an eviction policy this package does not provide.
type Limiter struct {
	mu       sync.Mutex
	cfg      config.RateLimitConfig
	limiters map[Bucket]map[string]*entry
}

type entry struct {
	limiter *rate.Limiter
	limit   int
	window  time.Duration
}

// New constructs a Limiter from platform rate-limit config.
func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg: cfg,
		limiters: map[Bucket]map[string]*entry{
			BucketPublic:    {},
			BucketAdmin:     {},
			BucketAuth:      {},
			BucketInference: {},
		},
	}
}

// Allow consumes one token from the (bucket, clientIP) limiter, creating it
// on first use from the bucket's configured {windowMs, limit}.
func (l *Limiter) Allow(bucket Bucket, clientIP string) Decision {
	e := l.entryFor(bucket, clientIP)
	now := time.Now()
	reservation := e.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Allowed: false, Limit: e.limit, Remaining: 0, ResetAt: now.Add(e.window), Policy: policyString(e.limit, e.window)}
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.Cancel()
		return Decision{Allowed: false, Limit: e.limit, Remaining: 0, ResetAt: now.Add(delay), Policy: policyString(e.limit, e.window)}
	}
	remaining := int(e.limiter.TokensAt(now))
	return Decision{Allowed: true, Limit: e.limit, Remaining: remaining, ResetAt: now.Add(e.window), Policy: policyString(e.limit, e.window)}
}

func (l *Limiter) entryFor(bucket Bucket, clientIP string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucketMap := l.limiters[bucket]
	if bucketMap == nil {
		bucketMap = map[string]*entry{}
		l.limiters[bucket] = bucketMap
	}
	e, ok := bucketMap[clientIP]
	if ok {
		return e
	}
	bc := l.bucketConfig(bucket)
	window := time.Duration(bc.WindowMS) * time.Millisecond
	e = &entry{
		limiter: rate.NewLimiter(rate.Limit(float64(bc.Limit)/window.Seconds()), bc.Limit),
		limit:   bc.Limit,
		window:  window,
	}
	bucketMap[clientIP] = e
	return e
}

func (l *Limiter) bucketConfig(bucket Bucket) config.BucketConfig {
	switch bucket {
	case BucketAdmin:
		return l.cfg.Admin
	case BucketAuth:
		return l.cfg.Auth
	case BucketInference:
		return l.cfg.Inference
	default:
		return l.cfg.Public
	}
}

func policyString(limit int, window time.Duration) string {
	return strconv.Itoa(limit) + ";w=" + strconv.Itoa(int(window.Seconds()))
}

// WriteHeaders attaches the standard RateLimit-* response headers:
// RateLimit-Policy, RateLimit-Limit, RateLimit-Remaining,
// RateLimit-Reset.
func WriteHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("RateLimit-Policy", d.Policy)
	w.Header().Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("RateLimit-Reset", strconv.FormatInt(int64(time.Until(d.ResetAt).Seconds()), 10))
}

// ClientIP extracts the request's client IP the same way a reverse-proxy-
// unaware deployment would: X-Forwarded-For's first hop, falling back to
// RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := indexByte(fwd, ','); idx >= 0 {
			return fwd[:idx]
		}
		return fwd
	}
	host := r.RemoteAddr
	if idx := lastIndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}
