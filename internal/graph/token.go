// Copyright (c) 2026 John Earle
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

package graph

import (
	"sync"
	"time"
)

// tokenSkew is how long before expiry a cached token stops being handed out.
const tokenSkew = 60 * time.Second

// Credentials authenticate one tenant against the remote API.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// CacheKey identifies the credential for token caching. The secret is not
// part of the key.
func (c Credentials) CacheKey() string {
	return c.TenantID + ":" + c.ClientID
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// TokenCache holds access tokens keyed by credential identity. Concurrent
// runs may race to refill an entry; the loser's token simply replaces the
// winner's.
type TokenCache struct {
	mu      sync.Mutex
	entries map[string]cachedToken
}

// NewTokenCache creates an empty token cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{entries: make(map[string]cachedToken)}
}

// Get returns a cached token that is still usable at now.
func (c *TokenCache) Get(key string, now time.Time) (string, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()

	if !ok || !tokenUsable(now, entry.expiresAt) {
		return "", false
	}
	return entry.accessToken, true
}

// Put stores a token until expiresAt.
func (c *TokenCache) Put(key, accessToken string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedToken{accessToken: accessToken, expiresAt: expiresAt}
}

// Evict drops the token for key.
func (c *TokenCache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func tokenUsable(now, expiresAt time.Time) bool {
	return now.Before(expiresAt.Add(-tokenSkew))
}
