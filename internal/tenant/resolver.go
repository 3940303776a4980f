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

package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bcem/docintake/internal/graph"
	"github.com/bcem/docintake/internal/models"
)

// DefaultCredentialTTL is how long resolved credentials are reused.
const DefaultCredentialTTL = 5 * time.Minute

// CredentialResolver supplies the remote API credentials for a tenant.
type CredentialResolver interface {
	ResolveCredentials(ctx context.Context, t *models.Tenant) (graph.Credentials, error)
}

type cachedCredentials struct {
	creds     graph.Credentials
	expiresAt time.Time
}

// EnvResolver resolves client secrets from environment variables named by
// the tenant's secret reference ("env:NAME" or plain "NAME"), falling back
// to the secret stored inline in the directory.
type EnvResolver struct {
	store  Store
	lookup func(string) (string, bool)
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedCredentials
}

// NewEnvResolver creates a resolver that reads inline secrets from store.
func NewEnvResolver(store Store, ttl time.Duration) *EnvResolver {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &EnvResolver{
		store:  store,
		lookup: os.LookupEnv,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedCredentials),
	}
}

// ResolveCredentials returns the tenant's credentials, cached for the TTL.
func (r *EnvResolver) ResolveCredentials(ctx context.Context, t *models.Tenant) (graph.Credentials, error) {
	if t == nil {
		return graph.Credentials{}, ErrNotFound
	}

	r.mu.Lock()
	entry, ok := r.cache[t.TenantID]
	r.mu.Unlock()
	if ok && r.now().Before(entry.expiresAt) {
		return entry.creds, nil
	}

	secret, err := r.resolveSecret(ctx, t)
	if err != nil {
		return graph.Credentials{}, err
	}
	creds := graph.Credentials{
		TenantID:     t.DirectoryTenantID,
		ClientID:     t.ClientID,
		ClientSecret: secret,
	}

	r.mu.Lock()
	r.cache[t.TenantID] = cachedCredentials{creds: creds, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return creds, nil
}

// DeleteSecret drops cached credentials for the tenant. Environment-held
// secrets are owned by the deployment, so the reference is only logged.
func (r *EnvResolver) DeleteSecret(_ context.Context, tenantID, ref string) error {
	r.mu.Lock()
	delete(r.cache, tenantID)
	r.mu.Unlock()

	if ref != "" {
		slog.Info("tenant secret reference released",
			"tenant", tenantID,
			"secret_ref", ref,
		)
	}
	return nil
}

func (r *EnvResolver) resolveSecret(ctx context.Context, t *models.Tenant) (string, error) {
	if ref := strings.TrimSpace(t.SecretRef); ref != "" {
		name := strings.TrimPrefix(ref, "env:")
		value, ok := r.lookup(name)
		if !ok || value == "" {
			return "", fmt.Errorf("tenant %s: secret reference %q is not set", t.TenantID, ref)
		}
		return value, nil
	}

	if t.ClientSecret != "" {
		return t.ClientSecret, nil
	}
	stored, err := r.store.Get(ctx, t.TenantID)
	if err != nil {
		return "", fmt.Errorf("load tenant %s credentials: %w", t.TenantID, err)
	}
	if stored == nil {
		return "", fmt.Errorf("load tenant %s credentials: %w", t.TenantID, ErrNotFound)
	}
	if stored.ClientSecret == "" {
		return "", fmt.Errorf("tenant %s has no client secret configured", t.TenantID)
	}
	return stored.ClientSecret, nil
}
