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
	"slices"
	"sync"

	"github.com/bcem/docintake/internal/models"
)

// MemoryStore keeps tracking records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.TrackingRecord
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.TrackingRecord)}
}

func (m *MemoryStore) Get(_ context.Context, messageID string) (*models.TrackingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[messageID]
	if !ok {
		return nil, nil
	}
	rec.DocumentsUploaded = slices.Clone(rec.DocumentsUploaded)
	return &rec, nil
}

func (m *MemoryStore) PutConditional(_ context.Context, rec models.TrackingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.records[rec.MessageID]; ok && prev.Status == models.StatusProcessed {
		return ErrAlreadyProcessed
	}
	rec.DocumentsUploaded = slices.Clone(rec.DocumentsUploaded)
	m.records[rec.MessageID] = rec
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
