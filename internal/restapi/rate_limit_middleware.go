package restapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const anonymousSubject = "__anonymous__"

// RateLimitMiddleware limits position reports per authenticated subject.
type RateLimitMiddleware struct {
	limiters    map[string]*limiterEntry
	mu          sync.Mutex
	rateLimit   rate.Limit
	burstSize   int
	idleTimeout time.Duration
	cleanupTick *time.Ticker
	stopOnce    sync.Once
	done        chan struct{}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimitMiddleware allows ratePerSecond requests per interval for each subject,
// with bursts of the same size. A non-positive rate disables limiting.
func NewRateLimitMiddleware(ratePerSecond int, interval time.Duration) *RateLimitMiddleware {
	rateLimit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		rateLimit = rate.Every(interval / time.Duration(ratePerSecond))
		burst = ratePerSecond
	}

	rl := &RateLimitMiddleware{
		limiters:    make(map[string]*limiterEntry),
		rateLimit:   rateLimit,
		burstSize:   burst,
		idleTimeout: 5 * time.Minute,
		cleanupTick: time.NewTicker(5 * time.Minute),
		done:        make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimitMiddleware) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rateLimit, rl.burstSize)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Handler must run after requireIdentity so the subject is known.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := anonymousSubject
		if identity, ok := identityFromContext(r.Context()); ok {
			key = identity.SubjectID
		}

		if !rl.getLimiter(key).Allow() {
			rl.sendRateLimitExceeded(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) sendRateLimitExceeded(w http.ResponseWriter) {
	retryAfter := time.Second
	if rl.rateLimit != rate.Inf && rl.rateLimit > 0 {
		if d := time.Duration(float64(time.Second) / float64(rl.rateLimit)); d > retryAfter {
			retryAfter = d
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burstSize))
	w.Header().Set("X-RateLimit-Remaining", "0")
	_ = writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}

// cleanup periodically drops limiters of subjects that went quiet.
func (rl *RateLimitMiddleware) cleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.evictIdle(time.Now())
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimitMiddleware) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.idleTimeout {
			delete(rl.limiters, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTick.Stop()
		close(rl.done)
	})
}
