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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/docintake/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// receivingEmailConstraint matches Postgres's default name for the UNIQUE on
// tenants.receiving_email, so tables created before it was named agree.
const receivingEmailConstraint = "tenants_receiving_email_key"

const tenantColumns = `
	tenant_id, company_name, receiving_email, reviewer_email, reviewer_user_id,
	root_folder_name, notify_from_address, status, directory_tenant_id,
	client_id, client_secret, secret_ref, created_at, updated_at`

// PostgresStore keeps the tenant directory in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a tenant store backed by the given pool and
// ensures the tenants table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure tenant schema: %w", err)
	}
	slog.Info("tenant store initialised")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			tenant_id           TEXT PRIMARY KEY,
			company_name        TEXT NOT NULL,
			receiving_email     TEXT NOT NULL CONSTRAINT tenants_receiving_email_key UNIQUE,
			reviewer_email      TEXT NOT NULL,
			reviewer_user_id    TEXT DEFAULT '',
			root_folder_name    TEXT NOT NULL,
			notify_from_address TEXT DEFAULT '',
			status              TEXT NOT NULL DEFAULT 'active',
			directory_tenant_id TEXT NOT NULL,
			client_id           TEXT NOT NULL,
			client_secret       TEXT DEFAULT '',
			secret_ref          TEXT DEFAULT '',
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, tenantID string) (*models.Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE tenant_id = $1`, tenantID)
	return scanTenant(row)
}

func (s *PostgresStore) GetByReceivingEmail(ctx context.Context, email string) (*models.Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE receiving_email = $1`,
		NormalizeEmail(email))
	return scanTenant(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY company_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, t models.Tenant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, t.TenantID, t.CompanyName, NormalizeEmail(t.ReceivingEmail), t.ReviewerEmail, t.ReviewerUserID,
		t.RootFolderName, t.NotifyFromAddress, string(t.Status), t.DirectoryTenantID,
		t.ClientID, t.ClientSecret, t.SecretRef, t.CreatedAt, t.UpdatedAt)
	return mapWriteError(err)
}

func (s *PostgresStore) Update(ctx context.Context, t models.Tenant) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenants SET
			company_name        = $2,
			receiving_email     = $3,
			reviewer_email      = $4,
			reviewer_user_id    = $5,
			root_folder_name    = $6,
			notify_from_address = $7,
			status              = $8,
			directory_tenant_id = $9,
			client_id           = $10,
			client_secret       = $11,
			secret_ref          = $12,
			updated_at          = $13
		WHERE tenant_id = $1
	`, t.TenantID, t.CompanyName, NormalizeEmail(t.ReceivingEmail), t.ReviewerEmail, t.ReviewerUserID,
		t.RootFolderName, t.NotifyFromAddress, string(t.Status), t.DirectoryTenantID,
		t.ClientID, t.ClientSecret, t.SecretRef, t.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == receivingEmailConstraint {
		return ErrEmailTaken
	}
	return err
}

// scanTenant scans a single row into a Tenant.
func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	var status string
	err := row.Scan(
		&t.TenantID, &t.CompanyName, &t.ReceivingEmail, &t.ReviewerEmail, &t.ReviewerUserID,
		&t.RootFolderName, &t.NotifyFromAddress, &status, &t.DirectoryTenantID,
		&t.ClientID, &t.ClientSecret, &t.SecretRef, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Status = models.TenantStatus(status)
	return &t, nil
}
