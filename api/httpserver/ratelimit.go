package httpserver

import (
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 10_000

// clientLimiter keeps one token bucket per client address. Least recently
// seen clients are evicted past maxTrackedClients.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *lru.Cache
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst <= 0 {
		burst = max(1, int(limit+0.999))
	}
	cache, _ := lru.New(maxTrackedClients)
	return &clientLimiter{limit: limit, burst: burst, limiters: cache}
}

func (l *clientLimiter) allow(client string) bool {
	l.mu.Lock()
	v, ok := l.limiters.Get(client)
	if !ok {
		v = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(client, v)
	}
	l.mu.Unlock()
	return v.(*rate.Limiter).Allow()
}

// middleware answers 429 once a client exhausts its bucket. RealIP runs
// earlier, so RemoteAddr already reflects forwarding headers.
func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}
		if !l.allow(client) {
			w.Header().Set("Retry-After", "1")
			writeStatus(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
