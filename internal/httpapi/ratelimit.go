package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	IPPerMinute int
	IPBurst     int
	// TrustedProxies are addresses or CIDRs whose X-Forwarded-For header is
	// believed. Requests from anywhere else are keyed by RemoteAddr.
	TrustedProxies []string
}

// RateLimiter keeps one token bucket per client IP. Idle buckets are evicted
// after idleTTL.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*visitor
	proxies []netip.Prefix
	idleTTL time.Duration
	now     func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter fails only on a malformed TrustedProxies entry.
func NewRateLimiter(cfg RateLimitConfig) (*RateLimiter, error) {
	if cfg.IPPerMinute <= 0 {
		cfg.IPPerMinute = 60
	}
	if cfg.IPBurst <= 0 {
		cfg.IPBurst = 20
	}
	proxies, err := parseProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(cfg.IPPerMinute) / 60.0),
		burst:   cfg.IPBurst,
		clients: make(map[string]*visitor),
		proxies: proxies,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}, nil
}

func parseProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, value := range values {
		if strings.Contains(value, "/") {
			prefix, err := netip.ParsePrefix(value)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", value, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", value, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := l.clientIP(r)
		if ip != "" && !l.allow(ip) {
			writeError(w, r.Header.Get(requestIDHeader), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.clients[key]
	if !ok {
		if len(l.clients) > 1024 {
			l.evictLocked(now)
		}
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *RateLimiter) evictLocked(now time.Time) {
	for key, v := range l.clients {
		if now.Sub(v.lastSeen) > l.idleTTL {
			delete(l.clients, key)
		}
	}
}

// clientIP walks X-Forwarded-For from the right while hops are trusted
// proxies, so a client cannot pick its own bucket by sending the header.
func (l *RateLimiter) clientIP(r *http.Request) string {
	ip := remoteHost(r)
	if !l.trusted(ip) {
		return ip
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		ip = hop
		if !l.trusted(hop) {
			break
		}
	}
	return ip
}

func (l *RateLimiter) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range l.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
