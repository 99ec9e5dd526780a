package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/stock-portfolio/internal/errors"
)

// idleLimiterTTL is how long an unused client limiter is kept
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-client token buckets
type RateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex

	limit     rate.Limit
	burstSize int
	lastSweep time.Time

	// X-Forwarded-For is only read on connections from these ranges
	trustedProxies []netip.Prefix

	now func() time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// client with bursts of up to burst requests. Clients are keyed by remote
// address unless the connection comes from one of trustedProxies.
func NewRateLimiter(rps, burst int, trustedProxies ...netip.Prefix) *RateLimiter {
	if burst < rps {
		burst = rps
	}
	return &RateLimiter{
		limiters:       make(map[string]*clientLimiter),
		limit:          rate.Limit(rps),
		burstSize:      burst,
		trustedProxies: trustedProxies,
		now:            time.Now,
	}
}

// Allow reports whether the client may make a request now
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	now := rl.now()
	rl.sweep(now)

	cl, exists := rl.limiters[clientID]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burstSize)}
		rl.limiters[clientID] = cl
	}
	cl.lastSeen = now
	rl.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

// sweep drops limiters idle longer than idleLimiterTTL. Callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < idleLimiterTTL {
		return
	}
	rl.lastSweep = now
	for id, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > idleLimiterTTL {
			delete(rl.limiters, id)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// clientID identifies the caller by its remote host. When that host is a
// trusted proxy, the right-most X-Forwarded-For hop that is not itself a
// trusted proxy is used instead.
func (rl *RateLimiter) clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if len(rl.trustedProxies) == 0 {
		return host
	}
	if addr, err := netip.ParseAddr(host); err != nil || !rl.trusted(addr) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !rl.trusted(addr) {
			return addr.Unmap().String()
		}
	}
	return host
}

func (rl *RateLimiter) trusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range rl.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(rl.clientID(r)) {
				w.Header().Set("Retry-After", "1")
				respondError(w, r, apperrors.NewRateLimitError(1))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
