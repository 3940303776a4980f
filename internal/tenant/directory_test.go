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
	"testing"
	"time"

	"github.com/bcem/docintake/internal/models"
)

func sampleTenant(email string) models.Tenant {
	return models.Tenant{
		CompanyName:       "Acme Ltd",
		ReceivingEmail:    email,
		ReviewerEmail:     "hr@acme.example",
		ReviewerUserID:    "reviewer-1",
		RootFolderName:    "Employee Documents",
		DirectoryTenantID: "dir-acme",
		ClientID:          "app-acme",
		ClientSecret:      "inline-secret",
	}
}

type recordingSecrets struct {
	calls []string
}

func (r *recordingSecrets) DeleteSecret(_ context.Context, tenantID, ref string) error {
	r.calls = append(r.calls, tenantID+"|"+ref)
	return nil
}

// TestDirectory_CreateAndResolve verifies case-insensitive routing and
// secret redaction.
func TestDirectory_CreateAndResolve(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(NewMemoryStore(), nil)

	created, err := d.Create(ctx, sampleTenant("Intake@Acme.Example "))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.TenantID == "" || created.CreatedAt.IsZero() {
		t.Errorf("expected assigned ID and timestamps, got %+v", created)
	}
	if created.Status != models.TenantActive {
		t.Errorf("status = %q, want active", created.Status)
	}

	got, err := d.ResolveByReceivingEmail(ctx, "  INTAKE@acme.example")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got == nil || got.TenantID != created.TenantID {
		t.Fatalf("resolved %+v, want %s", got, created.TenantID)
	}
	if got.ClientSecret != "" {
		t.Error("resolved tenant must not carry the client secret")
	}

	missing, err := d.ResolveByReceivingEmail(ctx, "nobody@acme.example")
	if err != nil || missing != nil {
		t.Errorf("unknown email = %+v, %v; want nil, nil", missing, err)
	}
}

// TestDirectory_UniqueReceivingEmail verifies uniqueness on create and update.
func TestDirectory_UniqueReceivingEmail(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(NewMemoryStore(), nil)

	a, err := d.Create(ctx, sampleTenant("a@intake.example"))
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, err := d.Create(ctx, sampleTenant("A@intake.example")); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate create err = %v, want ErrEmailTaken", err)
	}

	if _, err := d.Create(ctx, sampleTenant("b@intake.example")); err != nil {
		t.Fatalf("Create b: %v", err)
	}

	upd := sampleTenant("b@intake.example")
	upd.TenantID = a.TenantID
	if _, err := d.Update(ctx, upd); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("update to taken email err = %v, want ErrEmailTaken", err)
	}

	upd.ReceivingEmail = "c@intake.example"
	updated, err := d.Update(ctx, upd)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.CreatedAt.Equal(a.CreatedAt) {
		t.Error("update must preserve CreatedAt")
	}
	if old, _ := d.ResolveByReceivingEmail(ctx, "a@intake.example"); old != nil {
		t.Error("old receiving email should no longer resolve")
	}
}

// TestDirectory_AssertActive verifies status gating.
func TestDirectory_AssertActive(t *testing.T) {
	d := NewDirectory(NewMemoryStore(), nil)

	active := &models.Tenant{TenantID: "t1", Status: models.TenantActive}
	if err := d.AssertActive(active); err != nil {
		t.Errorf("active tenant: %v", err)
	}

	inactive := &models.Tenant{TenantID: "t2", Status: models.TenantInactive}
	if err := d.AssertActive(inactive); !errors.Is(err, ErrInactive) {
		t.Errorf("inactive err = %v, want ErrInactive", err)
	}
	if err := d.AssertActive(nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("nil err = %v, want ErrNotFound", err)
	}
}

// TestDirectory_DeleteReleasesSecret verifies the secret store is told.
func TestDirectory_DeleteReleasesSecret(t *testing.T) {
	ctx := context.Background()
	secrets := &recordingSecrets{}
	d := NewDirectory(NewMemoryStore(), secrets)

	in := sampleTenant("x@intake.example")
	in.SecretRef = "env:ACME_SECRET"
	created, err := d.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := d.Delete(ctx, created.TenantID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(secrets.calls) != 1 || secrets.calls[0] != created.TenantID+"|env:ACME_SECRET" {
		t.Errorf("secret calls = %v", secrets.calls)
	}
	if err := d.Delete(ctx, created.TenantID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

// TestDirectory_Seed verifies seeding is idempotent by receiving email.
func TestDirectory_Seed(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(NewMemoryStore(), nil)

	seed := []models.Tenant{sampleTenant("seed@intake.example")}
	if err := d.Seed(ctx, seed); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	seed[0].CompanyName = "Acme Renamed"
	if err := d.Seed(ctx, seed); err != nil {
		t.Fatalf("re-Seed: %v", err)
	}

	all, _ := d.List(ctx)
	if len(all) != 1 {
		t.Fatalf("tenants = %d, want 1", len(all))
	}
	if all[0].CompanyName != "Acme Renamed" {
		t.Errorf("company = %q", all[0].CompanyName)
	}
}

// TestDirectory_CreateValidates verifies required fields.
func TestDirectory_CreateValidates(t *testing.T) {
	d := NewDirectory(NewMemoryStore(), nil)
	if _, err := d.Create(context.Background(), models.Tenant{ReceivingEmail: "x@y"}); err == nil {
		t.Error("expected validation error")
	}
}

// TestEnvResolver verifies secret lookup order and caching.
func TestEnvResolver(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	d := NewDirectory(store, nil)

	inline, _ := d.Create(ctx, sampleTenant("inline@intake.example"))
	refIn := sampleTenant("ref@intake.example")
	refIn.SecretRef = "env:REF_SECRET"
	ref, _ := d.Create(ctx, refIn)

	r := NewEnvResolver(store, time.Minute)
	env := map[string]string{"REF_SECRET": "from-env"}
	r.lookup = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	creds, err := r.ResolveCredentials(ctx, inline)
	if err != nil {
		t.Fatalf("inline: %v", err)
	}
	if creds.ClientSecret != "inline-secret" || creds.TenantID != "dir-acme" || creds.ClientID != "app-acme" {
		t.Errorf("inline creds = %+v", creds)
	}

	creds, err = r.ResolveCredentials(ctx, ref)
	if err != nil {
		t.Fatalf("ref: %v", err)
	}
	if creds.ClientSecret != "from-env" {
		t.Errorf("ref secret = %q", creds.ClientSecret)
	}

	// Cached until invalidated.
	env["REF_SECRET"] = "rotated"
	creds, _ = r.ResolveCredentials(ctx, ref)
	if creds.ClientSecret != "from-env" {
		t.Errorf("expected cached secret, got %q", creds.ClientSecret)
	}
	r.DeleteSecret(ctx, ref.TenantID, "")
	creds, _ = r.ResolveCredentials(ctx, ref)
	if creds.ClientSecret != "rotated" {
		t.Errorf("expected refreshed secret, got %q", creds.ClientSecret)
	}

	delete(env, "REF_SECRET")
	r.DeleteSecret(ctx, ref.TenantID, "")
	if _, err := r.ResolveCredentials(ctx, ref); err == nil {
		t.Error("expected error for unset secret reference")
	}
}
