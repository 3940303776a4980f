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

// Package tenant resolves tenants from their receiving address, enforces
// tenant status and supplies per-tenant remote API credentials.
package tenant

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/bcem/docintake/internal/models"
)

var (
	ErrNotFound   = errors.New("tenant not found")
	ErrEmailTaken = errors.New("receiving email already assigned to another tenant")
	ErrInactive   = errors.New("tenant is inactive")
)

// Store persists tenant records. Lookups return nil, nil when the tenant
// does not exist. Receiving emails are stored normalized.
type Store interface {
	Get(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetByReceivingEmail(ctx context.Context, email string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	Create(ctx context.Context, t models.Tenant) error
	Update(ctx context.Context, t models.Tenant) error
	Delete(ctx context.Context, tenantID string) error
}

// NormalizeEmail is the routing-key form of an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]models.Tenant
	byEmail map[string]string
}

// NewMemoryStore creates an empty in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]models.Tenant),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) Get(_ context.Context, tenantID string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryStore) GetByReceivingEmail(_ context.Context, email string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	t := m.tenants[id]
	return &t, nil
}

func (m *MemoryStore) List(_ context.Context) ([]models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyName < out[j].CompanyName })
	return out, nil
}

func (m *MemoryStore) Create(_ context.Context, t models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := NormalizeEmail(t.ReceivingEmail)
	if _, taken := m.byEmail[email]; taken {
		return ErrEmailTaken
	}
	t.ReceivingEmail = email
	m.tenants[t.TenantID] = t
	m.byEmail[email] = t.TenantID
	return nil
}

func (m *MemoryStore) Update(_ context.Context, t models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.tenants[t.TenantID]
	if !ok {
		return ErrNotFound
	}
	email := NormalizeEmail(t.ReceivingEmail)
	if owner, taken := m.byEmail[email]; taken && owner != t.TenantID {
		return ErrEmailTaken
	}
	delete(m.byEmail, prev.ReceivingEmail)
	t.ReceivingEmail = email
	m.tenants[t.TenantID] = t
	m.byEmail[email] = t.TenantID
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	delete(m.byEmail, t.ReceivingEmail)
	delete(m.tenants, tenantID)
	return nil
}
