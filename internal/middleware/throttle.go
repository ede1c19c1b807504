package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/web8kameleon-hub/tokengate/internal/httputil"
)

// Throttle applies a per-client token bucket to API requests.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewThrottle allows requestsPerSecond per client with the given burst.
func NewThrottle(requestsPerSecond float64, burst int) *Throttle {
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(t.rate, t.burst)
		t.limiters[key] = l
	}
	return l
}

// Handler wraps next with the throttle.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !t.limiter(key).Allow() {
			slog.Warn("API throttle exceeded", slog.String("client", key), slog.String("path", r.URL.Path))
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Reset drops all per-client limiters once the map grows beyond max.
func (t *Throttle) Reset(max int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.limiters) > max {
		t.limiters = make(map[string]*rate.Limiter)
	}
}

func clientKey(r *http.Request) string {
	if claims := GetClaims(r.Context()); claims != nil {
		return claims.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
