package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mmeshcher/marketplace-notifier/internal/metrics"
)

const defaultLimiterIdle = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает частоту запросов с одного IP-адреса.
// Ограничители адресов, не обращавшихся дольше idle, удаляются.
type RateLimiter struct {
	limiters  map[string]*limiterEntry
	mu        sync.Mutex
	r         rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter создаёт ограничитель: r запросов в секунду с запасом burst.
// idle <= 0 означает срок простоя по умолчанию.
func NewRateLimiter(r rate.Limit, burst int, idle time.Duration) *RateLimiter {
	if idle <= 0 {
		idle = defaultLimiterIdle
	}
	return &RateLimiter{
		limiters:  make(map[string]*limiterEntry),
		r:         r,
		burst:     burst,
		idle:      idle,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idle {
		rl.sweep(now)
	}

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// sweep удаляет простаивающие ограничители. Вызывается под rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, e := range rl.limiters {
		if now.Sub(e.lastSeen) > rl.idle {
			delete(rl.limiters, key)
		}
	}
	rl.lastSweep = now
}

// Size возвращает число отслеживаемых адресов.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Middleware отвечает 429, если лимит для адреса клиента исчерпан.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(clientIP(r)).Allow() {
			metrics.HTTPRateLimitRejectionsTotal.Inc()
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
