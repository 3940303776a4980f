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

// Package drive manages per-tenant folders and uploads on the reviewer's
// OneDrive through the Graph API.
package drive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bcem/docintake/internal/graph"
	"github.com/bcem/docintake/internal/metrics"
	"github.com/bcem/docintake/internal/models"
	"github.com/bcem/docintake/internal/workpool"
)

// DefaultUploadConcurrency is the upload fan-out width.
const DefaultUploadConcurrency = 3

// RootParent addresses the top of the drive.
const RootParent = "root"

// API is the subset of the graph client the drive operations need.
type API interface {
	Call(ctx context.Context, creds graph.Credentials, method, path string, body, out any) error
	Upload(ctx context.Context, creds graph.Credentials, path string, data []byte, contentType string, out any) error
}

// Folder is a drive folder.
type Folder struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"webUrl"`
}

// driveItem is the Graph driveItem shape; Folder is non-nil for folders.
type driveItem struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	WebURL string    `json:"webUrl"`
	Folder *struct{} `json:"folder,omitempty"`
}

type childrenPage struct {
	Value []driveItem `json:"value"`
}

// Drive performs folder, upload and sharing operations.
type Drive struct {
	api         API
	concurrency int
}

// New creates drive operations over api. Uploads run with at most
// concurrency requests in flight.
func New(api API, concurrency int) *Drive {
	if concurrency <= 0 {
		concurrency = DefaultUploadConcurrency
	}
	return &Drive{api: api, concurrency: concurrency}
}

// EnsureFolder returns the folder called name under parentID, creating it if
// absent. Lookup failures fall through to creation, which renames on
// conflict rather than failing.
func (d *Drive) EnsureFolder(ctx context.Context, t *models.Tenant, creds graph.Credentials, parentID, name string) (*Folder, error) {
	base := itemPath(t, parentID)

	filter := url.QueryEscape(fmt.Sprintf("name eq '%s'", strings.ReplaceAll(name, "'", "''")))
	var page childrenPage
	err := d.api.Call(ctx, creds, http.MethodGet, base+"/children?$filter="+filter, nil, &page)
	if err != nil {
		slog.Warn("folder lookup failed, creating instead",
			"tenant", t.TenantID,
			"parent", parentID,
			"folder", name,
			"error", err,
		)
	} else {
		for _, item := range page.Value {
			if item.Name == name && item.Folder != nil {
				return &Folder{ID: item.ID, Name: item.Name, WebURL: item.WebURL}, nil
			}
		}
	}

	body := map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "rename",
	}
	var created driveItem
	if err := d.api.Call(ctx, creds, http.MethodPost, base+"/children", body, &created); err != nil {
		return nil, fmt.Errorf("create folder %q: %w", name, err)
	}

	slog.Info("created drive folder",
		"tenant", t.TenantID,
		"folder", created.Name,
		"folder_id", created.ID,
	)
	return &Folder{ID: created.ID, Name: created.Name, WebURL: created.WebURL}, nil
}

// CreateEmployeeFolder ensures the tenant's root folder and the employee's
// subfolder inside it.
func (d *Drive) CreateEmployeeFolder(ctx context.Context, t *models.Tenant, creds graph.Credentials, employeeName string) (*Folder, error) {
	root, err := d.EnsureFolder(ctx, t, creds, RootParent, SanitizeName(t.RootFolderName))
	if err != nil {
		return nil, fmt.Errorf("ensure root folder: %w", err)
	}
	folder, err := d.EnsureFolder(ctx, t, creds, root.ID, SanitizeName(employeeName))
	if err != nil {
		return nil, fmt.Errorf("ensure employee folder: %w", err)
	}
	return folder, nil
}

// UploadAll uploads every document into folderID and reports which names
// succeeded and which failed, in input order.
func (d *Drive) UploadAll(ctx context.Context, t *models.Tenant, creds graph.Credentials, folderID string, docs []models.DocumentAttachment) ([]string, []models.FailedDocument) {
	results := workpool.Map(ctx, docs, d.concurrency, func(ctx context.Context, doc models.DocumentAttachment, _ int) (string, error) {
		path := fmt.Sprintf("%s:/%s:/content", itemPath(t, folderID), url.PathEscape(doc.NormalizedName))
		contentType := doc.ContentType
		if contentType == "" {
			contentType = "application/pdf"
		}
		var item driveItem
		if err := d.api.Upload(ctx, creds, path, doc.Content, contentType, &item); err != nil {
			return "", err
		}
		if item.Name != "" {
			return item.Name, nil
		}
		return doc.NormalizedName, nil
	})

	var uploaded []string
	var failed []models.FailedDocument
	for i, r := range results {
		if r.OK() {
			metrics.UploadsTotal.WithLabelValues("success").Inc()
			uploaded = append(uploaded, r.Value)
			continue
		}
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		slog.Warn("document upload failed",
			"tenant", t.TenantID,
			"document", docs[i].NormalizedName,
			"original", docs[i].OriginalName,
			"error", r.Err,
		)
		failed = append(failed, models.FailedDocument{Name: docs[i].NormalizedName, Error: r.Err.Error()})
	}
	return uploaded, failed
}

// CreateSharingLink mints an organization-scoped view link for itemID.
func (d *Drive) CreateSharingLink(ctx context.Context, t *models.Tenant, creds graph.Credentials, itemID string) (string, error) {
	var resp struct {
		Link struct {
			WebURL string `json:"webUrl"`
		} `json:"link"`
	}
	body := map[string]string{"type": "view", "scope": "organization"}
	if err := d.api.Call(ctx, creds, http.MethodPost, itemPath(t, itemID)+"/createLink", body, &resp); err != nil {
		return "", fmt.Errorf("create sharing link: %w", err)
	}
	if resp.Link.WebURL == "" {
		return "", fmt.Errorf("create sharing link: response had no URL")
	}
	return resp.Link.WebURL, nil
}

// SanitizeName strips characters OneDrive rejects in item names.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '"', '*', ':', '<', '>', '?', '/', '\\', '|':
			return -1
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return "Unknown Employee"
	}
	return name
}

func itemPath(t *models.Tenant, itemID string) string {
	owner := t.ReviewerUserID
	if owner == "" {
		owner = t.ReviewerEmail
	}
	if itemID == RootParent {
		return fmt.Sprintf("/users/%s/drive/root", url.PathEscape(owner))
	}
	return fmt.Sprintf("/users/%s/drive/items/%s", url.PathEscape(owner), url.PathEscape(itemID))
}
