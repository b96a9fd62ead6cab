package api

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	ingestRefillPerSec = 5
	ingestBurst        = 10

	limiterSweepEvery = time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// ipLimiter is a token-bucket rate limiter keyed by remote address. Buckets
// refill continuously; a background loop sweeps idle entries.
type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   float64
	stop    chan struct{}
}

func newIPLimiter(ratePerSec, burst float64) *ipLimiter {
	l := &ipLimiter{
		buckets: make(map[string]*bucket),
		rate:    ratePerSec,
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *ipLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst}
		l.buckets[key] = b
	} else {
		b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *ipLimiter) sweep() {
	t := time.NewTicker(limiterSweepEvery)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-t.C:
			l.mu.Lock()
			for key, b := range l.buckets {
				if now.Sub(b.lastSeen) > limiterIdleAfter {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *ipLimiter) close() {
	close(l.stop)
}

// Middleware rejects callers whose bucket is empty with a 429.
func (l *ipLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r), time.Now()) {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":               "rate limit exceeded",
				"retry_after_seconds": 1,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
