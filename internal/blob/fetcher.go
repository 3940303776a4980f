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

// Package blob retrieves the raw MIME bytes of inbound messages deposited by
// the mail-receiving service.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/bcem/docintake/internal/graph"
)

// ErrNotFound is returned when the referenced object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Fetcher returns the bytes stored under bucket/key.
type Fetcher interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// GraphMailFetcher downloads raw messages from an intake mailbox through the
// Graph API. The bucket is the mailbox (user ID or UPN) and the key is the
// Graph message ID. Transient failures are retried by the graph client.
type GraphMailFetcher struct {
	client         *graph.Client
	creds          graph.Credentials
	defaultMailbox string
}

// NewGraphMailFetcher creates a fetcher that authenticates with the service's
// own credentials. defaultMailbox is used when a reference omits the bucket.
func NewGraphMailFetcher(client *graph.Client, creds graph.Credentials, defaultMailbox string) *GraphMailFetcher {
	return &GraphMailFetcher{
		client:         client,
		creds:          creds,
		defaultMailbox: defaultMailbox,
	}
}

// GetObject returns the message's MIME content.
func (f *GraphMailFetcher) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" {
		bucket = f.defaultMailbox
	}
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("blob: mailbox and message key are required")
	}

	path := fmt.Sprintf("/users/%s/messages/%s/$value", url.PathEscape(bucket), url.PathEscape(key))
	raw, err := f.client.Download(ctx, f.creds, path)
	if graph.IsStatus(err, http.StatusNotFound) {
		slog.Warn("inbound message not found (may have been deleted)",
			"mailbox", bucket,
			"key", key,
		)
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", key, err)
	}
	return raw, nil
}

// MemoryFetcher serves objects from memory.
type MemoryFetcher struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryFetcher creates an empty in-memory fetcher.
func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{objects: make(map[string][]byte)}
}

// Put stores data under bucket/key.
func (m *MemoryFetcher) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
}

// GetObject returns the stored bytes or ErrNotFound.
func (m *MemoryFetcher) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	return data, nil
}
