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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/docintake/internal/models"
)

// SecretStore releases credential material held outside the directory. An
// empty ref only invalidates whatever the store has cached for the tenant.
type SecretStore interface {
	DeleteSecret(ctx context.Context, tenantID, ref string) error
}

// Directory is the tenant lookup and administration surface. Tenants it
// returns never carry an inline client secret; callers that need to
// authenticate go through a CredentialResolver.
type Directory struct {
	store   Store
	secrets SecretStore
	now     func() time.Time
}

// NewDirectory creates a tenant directory. secrets may be nil.
func NewDirectory(store Store, secrets SecretStore) *Directory {
	return &Directory{store: store, secrets: secrets, now: time.Now}
}

// ResolveByReceivingEmail returns the tenant routed to email, or nil when no
// tenant claims it. Matching ignores case and surrounding whitespace.
func (d *Directory) ResolveByReceivingEmail(ctx context.Context, email string) (*models.Tenant, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	t, err := d.store.GetByReceivingEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup tenant by %s: %w", email, err)
	}
	return redact(t), nil
}

// AssertActive fails unless t may process new submissions.
func (d *Directory) AssertActive(t *models.Tenant) error {
	if t == nil {
		return ErrNotFound
	}
	if !t.IsActive() {
		return fmt.Errorf("%w: %s (%s)", ErrInactive, t.TenantID, t.CompanyName)
	}
	return nil
}

// Get returns a tenant by ID.
func (d *Directory) Get(ctx context.Context, tenantID string) (*models.Tenant, error) {
	t, err := d.store.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	if t == nil {
		return nil, ErrNotFound
	}
	return redact(t), nil
}

// List returns every tenant.
func (d *Directory) List(ctx context.Context) ([]models.Tenant, error) {
	tenants, err := d.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	for i := range tenants {
		tenants[i].ClientSecret = ""
	}
	return tenants, nil
}

// Create registers a new tenant, assigning its ID and timestamps.
func (d *Directory) Create(ctx context.Context, t models.Tenant) (*models.Tenant, error) {
	if err := validate(t); err != nil {
		return nil, err
	}
	if existing, err := d.store.GetByReceivingEmail(ctx, t.ReceivingEmail); err != nil {
		return nil, fmt.Errorf("check receiving email: %w", err)
	} else if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrEmailTaken, NormalizeEmail(t.ReceivingEmail))
	}

	now := d.now().UTC()
	if t.TenantID == "" {
		t.TenantID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TenantActive
	}
	t.ReceivingEmail = NormalizeEmail(t.ReceivingEmail)
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := d.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}

	slog.Info("tenant created",
		"tenant", t.TenantID,
		"company", t.CompanyName,
		"receiving_email", t.ReceivingEmail,
	)
	return redact(&t), nil
}

// Update replaces a tenant's mutable fields. Uniqueness of the receiving
// email is re-checked when it changes. An empty ClientSecret keeps the
// stored one.
func (d *Directory) Update(ctx context.Context, t models.Tenant) (*models.Tenant, error) {
	if err := validate(t); err != nil {
		return nil, err
	}
	prev, err := d.store.Get(ctx, t.TenantID)
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", t.TenantID, err)
	}
	if prev == nil {
		return nil, ErrNotFound
	}

	if NormalizeEmail(t.ReceivingEmail) != prev.ReceivingEmail {
		owner, err := d.store.GetByReceivingEmail(ctx, t.ReceivingEmail)
		if err != nil {
			return nil, fmt.Errorf("check receiving email: %w", err)
		}
		if owner != nil && owner.TenantID != t.TenantID {
			return nil, fmt.Errorf("%w: %s", ErrEmailTaken, NormalizeEmail(t.ReceivingEmail))
		}
	}

	if t.ClientSecret == "" {
		t.ClientSecret = prev.ClientSecret
	}
	if t.Status == "" {
		t.Status = prev.Status
	}
	t.ReceivingEmail = NormalizeEmail(t.ReceivingEmail)
	t.CreatedAt = prev.CreatedAt
	t.UpdatedAt = d.now().UTC()

	if err := d.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update tenant %s: %w", t.TenantID, err)
	}
	d.releaseSecret(ctx, prev.TenantID, prev.SecretRef, t.SecretRef)

	slog.Info("tenant updated", "tenant", t.TenantID, "status", t.Status)
	return redact(&t), nil
}

// Delete removes a tenant and releases its secret reference.
func (d *Directory) Delete(ctx context.Context, tenantID string) error {
	prev, err := d.store.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	if prev == nil {
		return ErrNotFound
	}
	if err := d.store.Delete(ctx, tenantID); err != nil {
		return fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}
	d.releaseSecret(ctx, tenantID, prev.SecretRef, "")

	slog.Info("tenant deleted", "tenant", tenantID)
	return nil
}

// Seed applies a list of tenants, creating those whose receiving email is
// unknown and updating the rest.
func (d *Directory) Seed(ctx context.Context, tenants []models.Tenant) error {
	for _, t := range tenants {
		existing, err := d.store.GetByReceivingEmail(ctx, t.ReceivingEmail)
		if err != nil {
			return fmt.Errorf("seed %s: %w", t.ReceivingEmail, err)
		}
		if existing == nil {
			if _, err := d.Create(ctx, t); err != nil {
				return fmt.Errorf("seed %s: %w", t.ReceivingEmail, err)
			}
			continue
		}
		t.TenantID = existing.TenantID
		if _, err := d.Update(ctx, t); err != nil {
			return fmt.Errorf("seed %s: %w", t.ReceivingEmail, err)
		}
	}
	return nil
}

// releaseSecret tells the secret store a tenant's credentials changed. The
// previous reference is passed only when it is no longer in use.
func (d *Directory) releaseSecret(ctx context.Context, tenantID, prevRef, nextRef string) {
	if d.secrets == nil {
		return
	}
	ref := ""
	if prevRef != nextRef {
		ref = prevRef
	}
	if err := d.secrets.DeleteSecret(ctx, tenantID, ref); err != nil {
		slog.Warn("failed to release tenant secret",
			"tenant", tenantID,
			"secret_ref", ref,
			"error", err,
		)
	}
}

func validate(t models.Tenant) error {
	var missing []string
	if strings.TrimSpace(t.CompanyName) == "" {
		missing = append(missing, "company_name")
	}
	if NormalizeEmail(t.ReceivingEmail) == "" {
		missing = append(missing, "receiving_email")
	}
	if strings.TrimSpace(t.ReviewerEmail) == "" {
		missing = append(missing, "reviewer_email")
	}
	if strings.TrimSpace(t.RootFolderName) == "" {
		missing = append(missing, "root_folder_name")
	}
	if t.DirectoryTenantID == "" || t.ClientID == "" {
		missing = append(missing, "credentials")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid tenant: missing %s", strings.Join(missing, ", "))
	}
	switch t.Status {
	case "", models.TenantActive, models.TenantInactive:
	default:
		return errors.New("invalid tenant: status must be active or inactive")
	}
	return nil
}

func redact(t *models.Tenant) *models.Tenant {
	if t == nil {
		return nil
	}
	out := *t
	out.ClientSecret = ""
	return &out
}
