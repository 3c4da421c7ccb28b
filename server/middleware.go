package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/clip-tender/config"
)

// authConfig holds the admin credentials. With none configured the admin routes are open.
type authConfig struct {
	token    string
	user     string
	password string
}

func loadAuthConfig(cfg *config.Config) *authConfig {
	a := &authConfig{token: cfg.AdminToken, user: cfg.AdminUser, password: cfg.AdminPass}
	if !a.configured() {
		slog.Warn("admin endpoints are open: set ADMIN_TOKEN or ADMIN_USERNAME and ADMIN_PASSWORD")
	}
	return a
}

func (a *authConfig) configured() bool {
	return a.token != "" || (a.user != "" && a.password != "")
}

func equalConst(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// authorize accepts a matching X-Admin-Token or Basic credentials.
func (a *authConfig) authorize(r *http.Request) bool {
	if !a.configured() {
		return true
	}
	if tok := r.Header.Get("X-Admin-Token"); a.token != "" && tok != "" && equalConst(tok, a.token) {
		return true
	}
	if a.user == "" || a.password == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	// evaluate both comparisons so timing does not reveal which part mismatched
	userOK, passOK := equalConst(user, a.user), equalConst(pass, a.password)
	return ok && userOK && passOK
}

// adminAuth rejects requests that fail authorize with 401 and a Basic challenge.
func adminAuth(next http.Handler, cfg *authConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.authorize(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="clip-tender admin"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		slog.Warn("admin request rejected",
			slog.String("path", r.URL.Path),
			slog.String("ip", clientIP(r)))
	})
}

// rateLimiterConfig holds rate limiting configuration
type rateLimiterConfig struct {
	enabled       bool
	backend       string        // memory or redis
	requestsPerIP int           // max requests per IP per window
	window        time.Duration // time window for rate limiting
}

func loadRateLimiterConfig() *rateLimiterConfig {
	cfg := &rateLimiterConfig{
		enabled:       os.Getenv("RATE_LIMIT_ENABLED") != "0",
		backend:       strings.ToLower(os.Getenv("RATE_LIMIT_BACKEND")),
		requestsPerIP: 10,
		window:        time.Minute,
	}
	if cfg.backend == "" {
		cfg.backend = "memory"
	}
	if n := parseInt(os.Getenv("RATE_LIMIT_REQUESTS_PER_IP"), 0); n > 0 {
		cfg.requestsPerIP = n
	}
	if n := parseInt(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"), 0); n > 0 {
		cfg.window = time.Duration(n) * time.Second
	}
	return cfg
}

// RateLimiter decides whether a client may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, ip string) bool
}

// ipRateLimiter is a per-process sliding window limiter
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	cfg      *rateLimiterConfig
}

type visitor struct {
	requests  []time.Time
	lastClean time.Time
}

func newIPRateLimiter(ctx context.Context, cfg *rateLimiterConfig) *ipRateLimiter {
	limiter := &ipRateLimiter{
		visitors: make(map[string]*visitor),
		cfg:      cfg,
	}
	go limiter.cleanupLoop(ctx)
	return limiter
}

func (rl *ipRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup drops visitors idle for two windows
func (rl *ipRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for ip, v := range rl.visitors {
		if now.Sub(v.lastClean) > rl.cfg.window*2 {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *ipRateLimiter) Allow(_ context.Context, ip string) bool {
	if !rl.cfg.enabled {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{requests: []time.Time{now}, lastClean: now}
		return true
	}

	cutoff := now.Add(-rl.cfg.window)
	filtered := v.requests[:0]
	for _, t := range v.requests {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	v.requests = filtered
	v.lastClean = now

	if len(v.requests) >= rl.cfg.requestsPerIP {
		return false
	}
	v.requests = append(v.requests, now)
	return true
}

// redisRateLimiter shares a fixed window counter between replicas.
type redisRateLimiter struct {
	client redis.UniversalClient
	cfg    *rateLimiterConfig
}

func newRedisRateLimiter(client redis.UniversalClient, cfg *rateLimiterConfig) *redisRateLimiter {
	return &redisRateLimiter{client: client, cfg: cfg}
}

func (rl *redisRateLimiter) Allow(ctx context.Context, ip string) bool {
	if !rl.cfg.enabled {
		return true
	}
	bucket := time.Now().UnixNano() / int64(rl.cfg.window)
	key := fmt.Sprintf("clip-tender:ratelimit:%s:%d", ip, bucket)
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.cfg.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		// fail open: admin endpoints stay reachable while redis is down
		slog.Warn("rate limiter unavailable", slog.Any("err", err))
		return true
	}
	return incr.Val() <= int64(rl.cfg.requestsPerIP)
}

// clientIP prefers the first X-Forwarded-For hop and strips the port.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// rateLimitMiddleware answers 429 with Retry-After set to the limiter window.
func rateLimitMiddleware(next http.Handler, limiter RateLimiter, window time.Duration) http.Handler {
	retryAfter := strconv.Itoa(max(1, int(window.Seconds())))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.Allow(r.Context(), ip) {
			w.Header().Set("Retry-After", retryAfter)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			slog.Warn("admin rate limit hit", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseInt returns def when s is empty or not an integer
func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// corsConfig holds CORS configuration
type corsConfig struct {
	allowedOrigins []string
	permissive     bool // dev mode allows all origins
}

func loadCORSConfig(cfg *config.Config) *corsConfig {
	mode := strings.ToLower(os.Getenv("ENV"))
	permissive := mode == "" || mode == "dev" || mode == "development"
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		permissive = v == "1" || v == "true"
	}
	if len(cfg.CORSOrigins) > 0 && os.Getenv("CORS_PERMISSIVE") == "" {
		permissive = false
	}
	if !permissive && len(cfg.CORSOrigins) == 0 {
		slog.Warn("CORS restricted mode enabled but no CORS_ORIGINS configured - all CORS requests will be blocked")
	}
	return &corsConfig{allowedOrigins: cfg.CORSOrigins, permissive: permissive}
}

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID"
)

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or "" to send no
// CORS headers. Credentials are only allowed for an explicitly listed origin.
func (c *corsConfig) allowOrigin(origin string) (value string, credentials bool) {
	switch {
	case c.permissive:
		return "*", false
	case origin != "" && isOriginAllowed(origin, c.allowedOrigins):
		return origin, true
	}
	return "", false
}

func withCORSConfig(next http.Handler, cfg *corsConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allow, creds := cfg.allowOrigin(r.Header.Get("Origin")); allow != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			if creds {
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed supports exact origins and "*.example.com" wildcards.
// Browser extension origins (chrome-extension://<id>) are matched exactly.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			domain := allowed[2:]
			if strings.HasSuffix(origin, "."+domain) || origin == "https://"+domain || origin == "http://"+domain {
				return true
			}
		}
	}
	return false
}
