// Copyright 2025 The Zen Pipeline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientEntry holds a client's limiter and its last-seen timestamp
type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter limits requests per client IP. Forwarded headers are
// honored only for requests arriving from a trusted proxy.
type ClientRateLimiter struct {
	mu                sync.Mutex
	clients           map[string]*clientEntry
	perSecond         rate.Limit
	burst             int
	entryTTL          time.Duration
	trustedProxyCIDRs []*net.IPNet
}

// NewClientRateLimiter creates a per-IP limiter allowing perSecond requests
// with the given burst
func NewClientRateLimiter(perSecond float64, burst int, trustedProxyCIDRs []*net.IPNet) *ClientRateLimiter {
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst < 1 {
		burst = int(perSecond) * 2
	}
	return &ClientRateLimiter{
		clients:           make(map[string]*clientEntry),
		perSecond:         rate.Limit(perSecond),
		burst:             burst,
		entryTTL:          time.Hour,
		trustedProxyCIDRs: trustedProxyCIDRs,
	}
}

// Allow reports whether a request from the client should be served
func (rl *ClientRateLimiter) Allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	ent, ok := rl.clients[key]
	if !ok {
		ent = &clientEntry{limiter: rate.NewLimiter(rl.perSecond, rl.burst)}
		rl.clients[key] = ent
	}
	ent.lastSeen = now
	return ent.limiter.AllowN(now, 1)
}

// Prune removes clients idle past the TTL and returns how many were dropped
func (rl *ClientRateLimiter) Prune(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	dropped := 0
	for key, ent := range rl.clients {
		if now.Sub(ent.lastSeen) > rl.entryTTL {
			delete(rl.clients, key)
			dropped++
		}
	}
	return dropped
}

// Middleware rejects over-limit clients with 429
func (rl *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientKey(r), time.Now()) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey extracts the client IP, trusting X-Forwarded-For only from
// configured proxy ranges
func (rl *ClientRateLimiter) clientKey(r *http.Request) string {
	remoteIP := remoteAddrIP(r.RemoteAddr)

	if len(rl.trustedProxyCIDRs) > 0 && rl.isTrustedProxy(remoteIP) {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			// First hop is the original client
			parts := strings.Split(fwd, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	return remoteIP
}

func (rl *ClientRateLimiter) isTrustedProxy(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range rl.trustedProxyCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func remoteAddrIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// ParseTrustedProxyCIDRs parses a comma-separated CIDR list, skipping
// entries that do not parse
func ParseTrustedProxyCIDRs(raw string) []*net.IPNet {
	var out []*net.IPNet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, cidr, err := net.ParseCIDR(part); err == nil {
			out = append(out, cidr)
		}
	}
	return out
}
