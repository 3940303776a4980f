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

package blob

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bcem/docintake/internal/graph"
	"github.com/bcem/docintake/internal/retry"
)

func newGraphServer(t *testing.T, api http.HandlerFunc) *graph.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/users/", api)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return graph.NewClient(graph.ClientConfig{
		BaseURL:  srv.URL,
		TokenURL: srv.URL + "/token",
		Retry:    retry.Options{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
}

// TestGraphMailFetcher_GetObject verifies the raw MIME download path.
func TestGraphMailFetcher_GetObject(t *testing.T) {
	client := newGraphServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/intake@example.com/messages/AAMk1/$value" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte("From: a@example.com\r\n\r\nbody"))
	})

	f := NewGraphMailFetcher(client, graph.Credentials{TenantID: "t", ClientID: "c"}, "intake@example.com")
	raw, err := f.GetObject(context.Background(), "", "AAMk1")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if string(raw) != "From: a@example.com\r\n\r\nbody" {
		t.Errorf("raw = %q", raw)
	}
}

// TestGraphMailFetcher_NotFound verifies a 404 maps to ErrNotFound.
func TestGraphMailFetcher_NotFound(t *testing.T) {
	client := newGraphServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	f := NewGraphMailFetcher(client, graph.Credentials{TenantID: "t", ClientID: "c"}, "")
	_, err := f.GetObject(context.Background(), "box", "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// TestGraphMailFetcher_RequiresMailbox verifies missing references are rejected.
func TestGraphMailFetcher_RequiresMailbox(t *testing.T) {
	f := NewGraphMailFetcher(nil, graph.Credentials{}, "")
	if _, err := f.GetObject(context.Background(), "", "k"); err == nil {
		t.Error("expected error without mailbox")
	}
}

func TestMemoryFetcher(t *testing.T) {
	m := NewMemoryFetcher()
	m.Put("b", "k", []byte("x"))

	got, err := m.GetObject(context.Background(), "b", "k")
	if err != nil || string(got) != "x" {
		t.Errorf("GetObject = %q, %v", got, err)
	}
	if _, err := m.GetObject(context.Background(), "b", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
