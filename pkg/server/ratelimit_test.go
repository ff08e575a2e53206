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
	"net/http/httptest"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestClientRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewClientRateLimiter(1, 3, nil)

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("10.0.0.1", t0) {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed %d at burst 3, want 3", allowed)
	}

	// One token refills after a second
	if !rl.Allow("10.0.0.1", t0.Add(time.Second)) {
		t.Error("expected a refilled token after 1s")
	}
}

func TestClientRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewClientRateLimiter(1, 1, nil)

	if !rl.Allow("10.0.0.1", t0) {
		t.Fatal("first client's first request should pass")
	}
	if rl.Allow("10.0.0.1", t0) {
		t.Error("first client should be exhausted")
	}
	if !rl.Allow("10.0.0.2", t0) {
		t.Error("a different client must have its own bucket")
	}
}

func TestClientRateLimiter_PruneIdleClients(t *testing.T) {
	rl := NewClientRateLimiter(1, 1, nil)
	rl.Allow("10.0.0.1", t0)
	rl.Allow("10.0.0.2", t0.Add(50*time.Minute))

	if n := rl.Prune(t0.Add(90 * time.Minute)); n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
}

func TestClientKey_ForwardedOnlyFromTrustedProxy(t *testing.T) {
	trusted := ParseTrustedProxyCIDRs("10.0.0.0/8")
	rl := NewClientRateLimiter(50, 100, trusted)

	req := httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "10.0.0.5:9000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.5")
	if key := rl.clientKey(req); key != "203.0.113.7" {
		t.Errorf("trusted proxy: key = %q, want forwarded client", key)
	}

	req.RemoteAddr = "198.51.100.9:9000"
	if key := rl.clientKey(req); key != "198.51.100.9" {
		t.Errorf("untrusted peer: key = %q, want the peer itself", key)
	}
}

func TestParseTrustedProxyCIDRs(t *testing.T) {
	cidrs := ParseTrustedProxyCIDRs("10.0.0.0/8, bogus, 192.168.0.0/16,")
	if len(cidrs) != 2 {
		t.Errorf("parsed %d CIDRs, want 2", len(cidrs))
	}
}
