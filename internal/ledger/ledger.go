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

// Package ledger records processing outcomes keyed by message identity.
// A processed record is never overwritten; a failed one may be replaced by
// a later attempt.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/docintake/internal/metrics"
	"github.com/bcem/docintake/internal/models"
)

// ErrAlreadyProcessed is returned by a conditional write that would replace
// a processed record.
var ErrAlreadyProcessed = errors.New("message already processed")

// UnknownTenant is recorded when a run fails before tenant resolution.
const UnknownTenant = "unknown"

// Store is a backend offering an atomic write-if-absent-or-failed.
// Get returns nil, nil when no record exists.
type Store interface {
	Get(ctx context.Context, messageID string) (*models.TrackingRecord, error)
	PutConditional(ctx context.Context, rec models.TrackingRecord) error
}

// Ledger applies tenant scoping and failure bookkeeping on top of a Store.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a ledger over store.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// IsAlreadyProcessed reports whether messageID was processed for tenantID.
// A processed record owned by a different tenant is reported as not
// processed and logged as a cross-tenant check.
func (l *Ledger) IsAlreadyProcessed(ctx context.Context, messageID, tenantID string) (bool, error) {
	rec, err := l.store.Get(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("get tracking record %s: %w", messageID, err)
	}
	if rec == nil || rec.Status != models.StatusProcessed {
		return false, nil
	}
	if rec.TenantID != tenantID {
		metrics.CrossTenantChecks.Inc()
		slog.Warn("duplicate check for message owned by another tenant",
			"event", "cross_tenant_duplicate_check",
			"message_id", messageID,
			"requesting_tenant", tenantID,
			"owning_tenant", rec.TenantID,
		)
		return false, nil
	}
	return true, nil
}

// Save writes rec unless a processed record already exists for its message.
func (l *Ledger) Save(ctx context.Context, rec models.TrackingRecord) error {
	if rec.MessageID == "" {
		return errors.New("tracking record requires a message ID")
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = l.now().UTC()
	}
	if rec.DocumentsUploaded == nil {
		rec.DocumentsUploaded = []string{}
	}
	if err := l.store.PutConditional(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return err
		}
		return fmt.Errorf("save tracking record %s: %w", rec.MessageID, err)
	}
	return nil
}

// RecordFailure writes a failed record. Write errors are logged, not
// returned, so the caller's original failure is what surfaces.
func (l *Ledger) RecordFailure(ctx context.Context, tenantID, messageID, employeeName, employeeEmail, reason string) {
	if messageID == "" {
		slog.Warn("cannot record failure without message ID", "tenant", tenantID, "error", reason)
		return
	}
	if tenantID == "" {
		tenantID = UnknownTenant
	}

	err := l.Save(ctx, models.TrackingRecord{
		TenantID:      tenantID,
		MessageID:     messageID,
		EmployeeName:  employeeName,
		EmployeeEmail: employeeEmail,
		Status:        models.StatusFailed,
		Error:         reason,
	})
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		slog.Info("failure not recorded; message already processed",
			"tenant", tenantID,
			"message_id", messageID,
		)
	case err != nil:
		slog.Error("failed to record processing failure",
			"tenant", tenantID,
			"message_id", messageID,
			"error", err,
		)
	}
}
