package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/kbase-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained requests per second allowed per
	// client on the ingest and ask routes.
	defaultRateLimit = 10

	// defaultRateBurst is the per-client burst on the same routes.
	defaultRateBurst = 20

	// bucketIdleTTL is how long an unused client bucket is kept.
	bucketIdleTTL = 5 * time.Minute
)

// clientBucket is one client's token bucket.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles requests per client IP. Ingest and ask each embed
// text, so one client flooding them would starve the model backends.
type rateLimiter struct {
	// mu guards buckets.
	mu sync.Mutex
	// buckets maps client IP to its token bucket.
	buckets map[string]*clientBucket
	// rps and burst parameterise every new bucket.
	rps   rate.Limit
	burst int
	// rejected counts 429 responses. May be nil.
	rejected prometheus.Counter
}

// newRateLimiter constructs a rateLimiter and starts the goroutine that
// drops idle buckets. Call the returned function to stop it.
func newRateLimiter(rps float64, burst int, rejected prometheus.Counter) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:  make(map[string]*clientBucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		rejected: rejected,
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				rl.sweep(now)
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// bucket returns the limiter for ip, creating it on first use.
func (rl *rateLimiter) bucket(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

// sweep drops buckets idle for longer than bucketIdleTTL and returns how
// many were dropped.
func (rl *rateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	dropped := 0
	for ip, b := range rl.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(rl.buckets, ip)
			dropped++
		}
	}
	return dropped
}

// middleware rejects requests over the client's budget with 429, a JSON
// error body and a Retry-After header giving the wait in whole seconds.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		ip := clientIP(r)

		res := rl.bucket(ip, now).ReserveN(now, 1)
		wait := res.DelayFrom(now)
		if res.OK() && wait == 0 {
			next.ServeHTTP(w, r)
			return
		}
		res.CancelAt(now)

		retry := 1
		if res.OK() {
			retry = max(1, int(math.Ceil(wait.Seconds())))
		}
		if rl.rejected != nil {
			rl.rejected.Inc()
		}
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
			slog.Int("retry_after_s", retry),
		)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Kind: "rate_limited"})
	})
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored
// because the server binds to localhost by default.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
