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

package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/bcem/docintake/internal/graph"
	"github.com/bcem/docintake/internal/models"
)

// fakeAPI records calls and serves canned responses keyed by method+path
// prefix.
type fakeAPI struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]any
	errs      map[string]error
	uploads   map[string][]byte
	failNames map[string]bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		responses: make(map[string]any),
		errs:      make(map[string]error),
		uploads:   make(map[string][]byte),
		failNames: make(map[string]bool),
	}
}

func (f *fakeAPI) Call(_ context.Context, _ graph.Credentials, method, path string, body, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + " " + path
	f.calls = append(f.calls, key)
	for prefix, err := range f.errs {
		if strings.HasPrefix(key, prefix) {
			return err
		}
	}
	for prefix, resp := range f.responses {
		if strings.HasPrefix(key, prefix) {
			raw, _ := json.Marshal(resp)
			return json.Unmarshal(raw, out)
		}
	}
	return fmt.Errorf("no canned response for %s", key)
}

func (f *fakeAPI) Upload(_ context.Context, _ graph.Credentials, path string, data []byte, _ string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "PUT "+path)
	for name := range f.failNames {
		if strings.Contains(path, name) {
			return &graph.APIError{Op: "PUT", StatusCode: http.StatusInsufficientStorage}
		}
	}
	f.uploads[path] = data
	return nil
}

var tenantA = &models.Tenant{
	TenantID:       "acme",
	ReviewerUserID: "reviewer-1",
	RootFolderName: "Employee Documents",
}

// TestEnsureFolder_FindsExisting verifies an existing folder is reused.
func TestEnsureFolder_FindsExisting(t *testing.T) {
	api := newFakeAPI()
	api.responses["GET /users/reviewer-1/drive/root/children"] = map[string]any{
		"value": []map[string]any{
			{"id": "file-1", "name": "Employee Documents"},
			{"id": "fold-1", "name": "Employee Documents", "webUrl": "https://d/1", "folder": map[string]any{"childCount": 2}},
		},
	}

	d := New(api, 2)
	folder, err := d.EnsureFolder(context.Background(), tenantA, graph.Credentials{}, RootParent, "Employee Documents")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}
	if folder.ID != "fold-1" {
		t.Errorf("folder = %+v, want fold-1 (file with same name must be skipped)", folder)
	}
	for _, c := range api.calls {
		if strings.HasPrefix(c, "POST") {
			t.Errorf("unexpected create call %s", c)
		}
	}
}

// TestEnsureFolder_LookupErrorCreates verifies lookup failures fall through
// to creation.
func TestEnsureFolder_LookupErrorCreates(t *testing.T) {
	api := newFakeAPI()
	api.errs["GET "] = errors.New("lookup exploded")
	api.responses["POST /users/reviewer-1/drive/items/parent-9/children"] = map[string]any{
		"id": "new-1", "name": "Jane Doe", "webUrl": "https://d/new-1",
	}

	d := New(api, 2)
	folder, err := d.EnsureFolder(context.Background(), tenantA, graph.Credentials{}, "parent-9", "Jane Doe")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}
	if folder.ID != "new-1" || folder.WebURL != "https://d/new-1" {
		t.Errorf("folder = %+v", folder)
	}
}

// TestEnsureFolder_CreateFailure verifies creation errors propagate.
func TestEnsureFolder_CreateFailure(t *testing.T) {
	api := newFakeAPI()
	api.responses["GET "] = map[string]any{"value": []any{}}
	api.errs["POST "] = &graph.APIError{Op: "POST", StatusCode: http.StatusForbidden}

	d := New(api, 2)
	_, err := d.EnsureFolder(context.Background(), tenantA, graph.Credentials{}, RootParent, "X")
	if !graph.IsStatus(err, http.StatusForbidden) {
		t.Errorf("err = %v, want 403", err)
	}
}

// TestCreateEmployeeFolder verifies the two-level folder chain.
func TestCreateEmployeeFolder(t *testing.T) {
	api := newFakeAPI()
	api.responses["GET /users/reviewer-1/drive/root/children"] = map[string]any{
		"value": []map[string]any{{"id": "root-f", "name": "Employee Documents", "folder": map[string]any{}}},
	}
	api.responses["GET /users/reviewer-1/drive/items/root-f/children"] = map[string]any{"value": []any{}}
	api.responses["POST /users/reviewer-1/drive/items/root-f/children"] = map[string]any{
		"id": "emp-f", "name": "Jane Doe", "webUrl": "https://d/emp-f",
	}

	d := New(api, 2)
	folder, err := d.CreateEmployeeFolder(context.Background(), tenantA, graph.Credentials{}, "Jane: Doe?")
	if err != nil {
		t.Fatalf("CreateEmployeeFolder: %v", err)
	}
	if folder.ID != "emp-f" {
		t.Errorf("folder = %+v", folder)
	}
}

// TestUploadAll_PartialFailure verifies per-document aggregation.
func TestUploadAll_PartialFailure(t *testing.T) {
	api := newFakeAPI()
	api.failNames["bad.pdf"] = true

	docs := []models.DocumentAttachment{
		{NormalizedName: "a.pdf", Content: []byte("A")},
		{NormalizedName: "bad.pdf", Content: []byte("B")},
		{NormalizedName: "c.pdf", Content: []byte("C")},
	}

	d := New(api, 2)
	uploaded, failed := d.UploadAll(context.Background(), tenantA, graph.Credentials{}, "folder-1", docs)

	if len(uploaded) != 2 || uploaded[0] != "a.pdf" || uploaded[1] != "c.pdf" {
		t.Errorf("uploaded = %v", uploaded)
	}
	if len(failed) != 1 || failed[0].Name != "bad.pdf" || failed[0].Error == "" {
		t.Errorf("failed = %+v", failed)
	}
	if got := string(api.uploads["/users/reviewer-1/drive/items/folder-1:/a.pdf:/content"]); got != "A" {
		t.Errorf("upload body = %q", got)
	}
}

// TestCreateSharingLink verifies the link request and response handling.
func TestCreateSharingLink(t *testing.T) {
	api := newFakeAPI()
	api.responses["POST /users/reviewer-1/drive/items/emp-f/createLink"] = map[string]any{
		"link": map[string]any{"webUrl": "https://share/abc"},
	}

	d := New(api, 2)
	link, err := d.CreateSharingLink(context.Background(), tenantA, graph.Credentials{}, "emp-f")
	if err != nil || link != "https://share/abc" {
		t.Errorf("link = %q, %v", link, err)
	}

	empty := newFakeAPI()
	empty.responses["POST "] = map[string]any{}
	if _, err := New(empty, 1).CreateSharingLink(context.Background(), tenantA, graph.Credentials{}, "x"); err == nil {
		t.Error("expected error for empty link")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Jane Doe", "Jane Doe"},
		{"Jane: Doe?", "Jane Doe"},
		{"  a/b\\c  ", "abc"},
		{"trailing...", "trailing"},
		{"***", "Unknown Employee"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
