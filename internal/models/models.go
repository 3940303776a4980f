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

// Package models defines the data structures shared across the intake service.
package models

import "time"

// TenantStatus gates whether a tenant accepts new submissions.
type TenantStatus string

const (
	TenantActive   TenantStatus = "active"
	TenantInactive TenantStatus = "inactive"
)

// Tenant is an isolated customer account with its own routing address,
// remote-drive credentials and storage root.
type Tenant struct {
	TenantID          string       `json:"tenant_id"`
	CompanyName       string       `json:"company_name"`
	ReceivingEmail    string       `json:"receiving_email"`
	ReviewerEmail     string       `json:"reviewer_email"`
	ReviewerUserID    string       `json:"reviewer_user_id"`
	RootFolderName    string       `json:"root_folder_name"`
	NotifyFromAddress string       `json:"notify_from_address"`
	Status            TenantStatus `json:"status"`

	// Remote API credentials. ClientSecret is only populated when stored
	// inline; SecretRef points at an external secret otherwise.
	DirectoryTenantID string `json:"directory_tenant_id"`
	ClientID          string `json:"client_id"`
	ClientSecret      string `json:"-"`
	SecretRef         string `json:"secret_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the tenant may process new submissions.
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == TenantActive
}

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// DocumentAttachment is one document of a submission. NormalizedName is
// assigned by the classifier and is unique within a submission.
type DocumentAttachment struct {
	OriginalName   string `json:"original_name"`
	NormalizedName string `json:"normalized_name"`
	ContentType    string `json:"content_type"`
	Size           int    `json:"size"`
	Content        []byte `json:"-"`
}

// Submission is one employee's parsed email plus its document attachments.
type Submission struct {
	MessageID      string               `json:"message_id"`
	RecipientEmail string               `json:"recipient_email"`
	EmployeeName   string               `json:"employee_name"`
	EmployeeEmail  string               `json:"employee_email"`
	Subject        string               `json:"subject"`
	ReceivedAt     time.Time            `json:"received_at"`
	Attachments    []DocumentAttachment `json:"attachments"`
}

// TrackingStatus is the persisted outcome of a run.
type TrackingStatus string

const (
	StatusProcessed TrackingStatus = "processed"
	StatusFailed    TrackingStatus = "failed"
)

// TrackingRecord is the ledger row keyed by MessageID.
type TrackingRecord struct {
	TenantID          string         `json:"tenant_id"`
	MessageID         string         `json:"message_id"`
	EmployeeName      string         `json:"employee_name"`
	EmployeeEmail     string         `json:"employee_email"`
	FolderURL         string         `json:"folder_url"`
	DocumentsUploaded []string       `json:"documents_uploaded"`
	ProcessedAt       time.Time      `json:"processed_at"`
	Status            TrackingStatus `json:"status"`
	Error             string         `json:"error,omitempty"`
}

// FailedDocument names a document that could not be uploaded.
type FailedDocument struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// RunResult is the outcome of one pipeline run, returned to the trigger
// that invoked it.
type RunResult struct {
	Success           bool             `json:"success"`
	MessageID         string           `json:"messageId"`
	TenantID          string           `json:"tenantId,omitempty"`
	EmployeeName      string           `json:"employeeName,omitempty"`
	EmployeeEmail     string           `json:"employeeEmail,omitempty"`
	FolderURL         string           `json:"folderUrl,omitempty"`
	DocumentsUploaded []string         `json:"documentsUploaded,omitempty"`
	DocumentsFailed   []FailedDocument `json:"documentsFailed,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
	Error             string           `json:"error,omitempty"`
	FailedAtStep      string           `json:"failedAtStep,omitempty"`
}

// InboundRef locates a raw message deposited by the mail-receiving service.
type InboundRef struct {
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key"`
}
