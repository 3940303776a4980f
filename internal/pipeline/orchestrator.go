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

// Package pipeline runs one inbound message through parsing, tenant
// resolution, the duplicate check, folder creation, upload, sharing,
// notification and the tracking ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/docintake/internal/blob"
	"github.com/bcem/docintake/internal/classify"
	"github.com/bcem/docintake/internal/drive"
	"github.com/bcem/docintake/internal/graph"
	"github.com/bcem/docintake/internal/ledger"
	"github.com/bcem/docintake/internal/mailparse"
	"github.com/bcem/docintake/internal/metrics"
	"github.com/bcem/docintake/internal/models"
	"github.com/bcem/docintake/internal/notify"
	"github.com/bcem/docintake/internal/tenant"
)

// TenantDirectory resolves and gates tenants.
type TenantDirectory interface {
	ResolveByReceivingEmail(ctx context.Context, email string) (*models.Tenant, error)
	AssertActive(t *models.Tenant) error
}

// Ledger is the tracking ledger as the orchestrator uses it.
type Ledger interface {
	IsAlreadyProcessed(ctx context.Context, messageID, tenantID string) (bool, error)
	Save(ctx context.Context, rec models.TrackingRecord) error
	RecordFailure(ctx context.Context, tenantID, messageID, employeeName, employeeEmail, reason string)
}

// Drive is the set of drive operations a run performs.
type Drive interface {
	CreateEmployeeFolder(ctx context.Context, t *models.Tenant, creds graph.Credentials, employeeName string) (*drive.Folder, error)
	UploadAll(ctx context.Context, t *models.Tenant, creds graph.Credentials, folderID string, docs []models.DocumentAttachment) ([]string, []models.FailedDocument)
	CreateSharingLink(ctx context.Context, t *models.Tenant, creds graph.Credentials, itemID string) (string, error)
}

// Runner processes one inbound message.
type Runner interface {
	Run(ctx context.Context, in models.InboundRef) models.RunResult
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Fetcher     blob.Fetcher
	Tenants     TenantDirectory
	Credentials tenant.CredentialResolver
	Ledger      Ledger
	Drive       Drive
	Sender      notify.Sender
}

// Options tune an Orchestrator.
type Options struct {
	// DefaultBucket is used when an inbound reference names no bucket.
	DefaultBucket string
	// NotificationSubject is a format string; %s is the employee name.
	NotificationSubject string
}

// Orchestrator sequences a run. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}
}

// run carries what is known so far about one message.
type run struct {
	result     models.RunResult
	sub        *models.Submission
	recipients []string
	tenant     *models.Tenant
	creds      graph.Credentials
	duplicate  bool
	warnings   []string
}

func (r *run) warn(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// Run processes one inbound message and reports the outcome. The run is
// detached from ctx cancellation: once started it proceeds to a terminal
// state so the ledger reflects what actually happened remotely.
func (o *Orchestrator) Run(ctx context.Context, in models.InboundRef) models.RunResult {
	ctx = context.WithoutCancel(ctx)
	start := o.now()
	r := &run{result: models.RunResult{MessageID: in.Key}}

	outcome, step := "success", ""
	if err := o.execute(ctx, in, r); err != nil {
		step = FailedStep(err)
		outcome = "failed"
		o.fail(ctx, r, err)
	} else if r.duplicate {
		outcome = "duplicate"
	}

	metrics.RunsTotal.WithLabelValues(outcome, step).Inc()
	metrics.RunDuration.Observe(o.now().Sub(start).Seconds())
	return r.result
}

func (o *Orchestrator) execute(ctx context.Context, in models.InboundRef, r *run) error {
	if err := o.parse(ctx, in, r); err != nil {
		return stepErr(StepParse, err)
	}
	sub := r.sub

	log := slog.With("message_id", sub.MessageID)
	log.Info("processing inbound submission",
		"employee", sub.EmployeeEmail,
		"documents", len(sub.Attachments),
	)

	if err := o.resolveTenant(ctx, sub, r); err != nil {
		return stepErr(StepTenantResolution, err)
	}
	log = log.With("tenant", r.tenant.TenantID)

	done, err := o.deps.Ledger.IsAlreadyProcessed(ctx, sub.MessageID, r.tenant.TenantID)
	if err != nil {
		return stepErr(StepIdempotency, err)
	}
	if done {
		log.Info("message already processed, skipping")
		r.duplicate = true
		r.result.Success = true
		r.result.Warnings = []string{"Message already processed; skipped"}
		return nil
	}

	folder, err := o.deps.Drive.CreateEmployeeFolder(ctx, r.tenant, r.creds, sub.EmployeeName)
	if err != nil {
		return stepErr(StepEnsureFolder, err)
	}

	uploaded, failed := o.deps.Drive.UploadAll(ctx, r.tenant, r.creds, folder.ID, sub.Attachments)
	r.result.DocumentsFailed = failed
	if len(uploaded) == 0 {
		return stepErr(StepUpload, fmt.Errorf("all %d documents failed to upload: %s",
			len(failed), joinFailures(failed)))
	}
	r.result.DocumentsUploaded = uploaded
	for _, f := range failed {
		r.warn("Failed to upload %s: %s", f.Name, f.Error)
	}

	folderURL, err := o.deps.Drive.CreateSharingLink(ctx, r.tenant, r.creds, folder.ID)
	if err != nil {
		log.Warn("sharing link failed, using folder URL", "step", StepShareLink, "error", err)
		folderURL = folderReference(folder)
		r.warn("Could not create sharing link: %v", err)
	}
	r.result.FolderURL = folderURL

	if err := o.notify(ctx, r, uploaded, folderURL); err != nil {
		log.Warn("reviewer notification failed", "step", StepNotify, "error", err)
		r.warn("Failed to notify reviewer: %v", err)
	}

	rec := models.TrackingRecord{
		TenantID:          r.tenant.TenantID,
		MessageID:         sub.MessageID,
		EmployeeName:      sub.EmployeeName,
		EmployeeEmail:     sub.EmployeeEmail,
		FolderURL:         folderURL,
		DocumentsUploaded: uploaded,
		ProcessedAt:       o.now().UTC(),
		Status:            models.StatusProcessed,
		Error:             strings.Join(r.warnings, "; "),
	}
	if err := o.deps.Ledger.Save(ctx, rec); err != nil {
		// Documents are uploaded and the reviewer told; the run stands.
		log.Error("failed to persist tracking record", "step", StepPersist, "error", err)
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			r.warn("Tracking record not written: message already recorded as processed")
		} else {
			r.warn("Failed to persist tracking record: %v", err)
		}
	}

	r.result.Success = true
	r.result.Warnings = r.warnings
	log.Info("submission processed",
		"uploaded", len(uploaded),
		"failed", len(failed),
		"warnings", len(r.warnings),
	)
	return nil
}

// parse fetches and parses the raw message into a submission with
// normalized document names. Identity learned before a failure is kept on
// the run for the failure record.
func (o *Orchestrator) parse(ctx context.Context, in models.InboundRef, r *run) error {
	bucket := in.Bucket
	if bucket == "" {
		bucket = o.opts.DefaultBucket
	}
	if strings.TrimSpace(in.Key) == "" {
		return errors.New("inbound reference has no key")
	}

	raw, err := o.deps.Fetcher.GetObject(ctx, bucket, in.Key)
	if err != nil {
		return fmt.Errorf("fetch message: %w", err)
	}
	parsed, err := mailparse.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse message: %w", err)
	}

	sub := &models.Submission{
		MessageID:     parsed.MessageID,
		EmployeeName:  employeeName(parsed.From),
		EmployeeEmail: parsed.From.Address,
		Subject:       parsed.Subject,
		ReceivedAt:    parsed.Date,
	}
	if len(parsed.To) > 0 {
		sub.RecipientEmail = parsed.To[0].Address
	}
	r.sub = sub
	r.recipients = addresses(parsed.To)
	r.result.MessageID = sub.MessageID
	r.result.EmployeeName = sub.EmployeeName
	r.result.EmployeeEmail = sub.EmployeeEmail

	docs := mailparse.FilterDocuments(parsed.Attachments)
	if len(docs) == 0 {
		return mailparse.ErrNoDocuments
	}

	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.Filename
	}
	for i, n := range classify.NormalizeOrdered(names, sub.EmployeeName) {
		sub.Attachments = append(sub.Attachments, models.DocumentAttachment{
			OriginalName:   docs[i].Filename,
			NormalizedName: n.Name,
			ContentType:    docs[i].ContentType,
			Size:           docs[i].Size,
			Content:        docs[i].Content,
		})
	}
	return nil
}

// resolveTenant finds the first recipient that routes to a tenant, gates
// its status and resolves its credentials.
func (o *Orchestrator) resolveTenant(ctx context.Context, sub *models.Submission, r *run) error {
	for _, addr := range r.recipients {
		t, err := o.deps.Tenants.ResolveByReceivingEmail(ctx, addr)
		if err != nil {
			return err
		}
		if t != nil {
			r.tenant = t
			sub.RecipientEmail = addr
			break
		}
	}
	if r.tenant == nil {
		return fmt.Errorf("no tenant configured for recipient %s: %w", sub.RecipientEmail, tenant.ErrNotFound)
	}
	r.result.TenantID = r.tenant.TenantID

	if err := o.deps.Tenants.AssertActive(r.tenant); err != nil {
		return err
	}

	creds, err := o.deps.Credentials.ResolveCredentials(ctx, r.tenant)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}
	r.creds = creds
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, r *run, uploaded []string, folderURL string) error {
	html, err := notify.RenderReviewerEmail(notify.ReviewerEmail{
		CompanyName:   r.tenant.CompanyName,
		EmployeeName:  r.sub.EmployeeName,
		EmployeeEmail: r.sub.EmployeeEmail,
		Documents:     uploaded,
		FolderURL:     folderURL,
		Warnings:      r.warnings,
	})
	if err != nil {
		return err
	}
	from := r.tenant.NotifyFromAddress
	if from == "" {
		from = r.tenant.ReceivingEmail
	}
	return o.deps.Sender.Send(ctx, r.creds, notify.Message{
		From:    from,
		To:      r.tenant.ReviewerEmail,
		Subject: notify.Subject(o.opts.NotificationSubject, r.sub.EmployeeName),
		HTML:    html,
	})
}

// fail records a fatal outcome on the result and in the ledger.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) {
	r.result.Success = false
	r.result.Error = err.Error()
	r.result.FailedAtStep = FailedStep(err)
	r.result.Warnings = r.warnings

	tenantID := ""
	if r.tenant != nil {
		tenantID = r.tenant.TenantID
	}
	slog.Error("pipeline run failed",
		"message_id", r.result.MessageID,
		"tenant", tenantID,
		"step", r.result.FailedAtStep,
		"error", err,
	)
	o.deps.Ledger.RecordFailure(ctx, tenantID, r.result.MessageID,
		r.result.EmployeeName, r.result.EmployeeEmail, err.Error())
}

// employeeName prefers the display name, falling back to the mailbox local
// part with separators turned into spaces.
func employeeName(from models.EmailAddress) string {
	if name := strings.TrimSpace(from.Name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(from.Address, "@")
	return strings.Join(strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	}), " ")
}

func addresses(list []models.EmailAddress) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

func folderReference(f *drive.Folder) string {
	if f.WebURL != "" {
		return f.WebURL
	}
	return "drive-item:" + f.ID
}

func joinFailures(failed []models.FailedDocument) string {
	parts := make([]string, len(failed))
	for i, f := range failed {
		parts[i] = f.Name + " (" + f.Error + ")"
	}
	return strings.Join(parts, "; ")
}
