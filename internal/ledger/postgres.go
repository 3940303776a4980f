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

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/docintake/internal/models"
)

// upsertUnlessProcessed inserts a record or replaces a non-processed one in a
// single statement. Zero affected rows means a processed record is present.
const upsertUnlessProcessed = `
	INSERT INTO tracking_records
		(message_id, tenant_id, employee_name, employee_email, folder_url,
		 documents_uploaded, processed_at, status, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (message_id) DO UPDATE SET
		tenant_id          = EXCLUDED.tenant_id,
		employee_name      = EXCLUDED.employee_name,
		employee_email     = EXCLUDED.employee_email,
		folder_url         = EXCLUDED.folder_url,
		documents_uploaded = EXCLUDED.documents_uploaded,
		processed_at       = EXCLUDED.processed_at,
		status             = EXCLUDED.status,
		error              = EXCLUDED.error
	WHERE tracking_records.status <> 'processed'`

// PostgresStore keeps the ledger in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a ledger store and ensures its table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	slog.Info("ledger store initialised", "backend", "postgres")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tracking_records (
			message_id         TEXT PRIMARY KEY,
			tenant_id          TEXT NOT NULL,
			employee_name      TEXT NOT NULL DEFAULT '',
			employee_email     TEXT NOT NULL DEFAULT '',
			folder_url         TEXT NOT NULL DEFAULT '',
			documents_uploaded TEXT[] NOT NULL DEFAULT '{}',
			processed_at       TIMESTAMPTZ NOT NULL,
			status             TEXT NOT NULL,
			error              TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_tracking_tenant ON tracking_records(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_tracking_status ON tracking_records(status);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, messageID string) (*models.TrackingRecord, error) {
	var r models.TrackingRecord
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT message_id, tenant_id, employee_name, employee_email, folder_url,
		       documents_uploaded, processed_at, status, error
		FROM tracking_records
		WHERE message_id = $1
	`, messageID).Scan(
		&r.MessageID, &r.TenantID, &r.EmployeeName, &r.EmployeeEmail, &r.FolderURL,
		&r.DocumentsUploaded, &r.ProcessedAt, &status, &r.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.TrackingStatus(status)
	return &r, nil
}

func (s *PostgresStore) PutConditional(ctx context.Context, rec models.TrackingRecord) error {
	tag, err := s.pool.Exec(ctx, upsertUnlessProcessed,
		rec.MessageID, rec.TenantID, rec.EmployeeName, rec.EmployeeEmail, rec.FolderURL,
		rec.DocumentsUploaded, rec.ProcessedAt, string(rec.Status), rec.Error,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}
