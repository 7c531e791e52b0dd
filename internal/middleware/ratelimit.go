package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// RateLimiter applies a sliding-window limit per client IP.
type RateLimiter struct {
	max     int
	window  time.Duration
	now     func() time.Time
	trusted []*net.IPNet

	mu        sync.Mutex
	requests  map[string][]time.Time
	lastSweep time.Time
}

// NewRateLimiter allows at most max requests per window for each client.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:      max,
		window:   window,
		now:      time.Now,
		requests: make(map[string][]time.Time),
	}
}

// TrustProxies makes the limiter honour X-Forwarded-For and X-Real-IP on
// requests arriving from the given addresses or CIDR ranges. Headers from
// any other peer are ignored.
func (l *RateLimiter) TrustProxies(proxies []string) error {
	nets := make([]*net.IPNet, 0, len(proxies))
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return fmt.Errorf("invalid trusted proxy %q", p)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(p)
		if err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
		nets = append(nets, n)
	}
	l.trusted = nets
	return nil
}

// Allow records a request from client and reports whether it is within the
// limit.
func (l *RateLimiter) Allow(client string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	recent := l.requests[client][:0]
	for _, ts := range l.requests[client] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= l.max {
		l.requests[client] = recent
		return false
	}
	l.requests[client] = append(recent, now)
	return true
}

// sweep drops clients with no request inside the window.
func (l *RateLimiter) sweep(cutoff time.Time) {
	for client, ts := range l.requests {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(l.requests, client)
		}
	}
}

// Clients returns the number of clients currently tracked.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := l.ClientIP(r)
		if !l.Allow(client) {
			log.WithFields(log.Fields{"client": client, "path": r.URL.Path}).Warn("Rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the address the limiter charges for r. Proxy headers are
// only read when the direct peer is a trusted proxy; the client is then the
// rightmost X-Forwarded-For hop that is not itself trusted.
func (l *RateLimiter) ClientIP(r *http.Request) string {
	remote := RemoteIP(r)
	if !l.isTrusted(remote) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !l.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return remote
}

func (l *RateLimiter) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range l.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// RemoteIP returns the host part of the connection's peer address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
