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

package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bcem/docintake/internal/blob"
	"github.com/bcem/docintake/internal/drive"
	"github.com/bcem/docintake/internal/graph"
	"github.com/bcem/docintake/internal/ledger"
	"github.com/bcem/docintake/internal/models"
	"github.com/bcem/docintake/internal/notify"
	"github.com/bcem/docintake/internal/tenant"
)

// buildMessage assembles a multipart message with the given attachments.
func buildMessage(messageID, from, to string, filenames ...string) []byte {
	var b strings.Builder
	if messageID != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", messageID)
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: My documents\r\n")
	b.WriteString("Date: Mon, 02 Mar 2026 10:15:00 +0000\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"b1\"\r\n\r\n")
	b.WriteString("--b1\r\nContent-Type: text/plain\r\n\r\nHello\r\n")
	for _, name := range filenames {
		ct := "application/pdf"
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			ct = "image/jpeg"
		}
		fmt.Fprintf(&b, "--b1\r\nContent-Type: %s\r\nContent-Disposition: attachment; filename=\"%s\"\r\n", ct, name)
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 "+name)) + "\r\n")
	}
	b.WriteString("--b1--\r\n")
	return []byte(b.String())
}

type fakeDrive struct {
	mu        sync.Mutex
	folderErr error
	linkErr   error
	failNames map[string]bool
	folders   int
	uploads   []string
	links     int
}

func (f *fakeDrive) CreateEmployeeFolder(_ context.Context, t *models.Tenant, _ graph.Credentials, employee string) (*drive.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders++
	if f.folderErr != nil {
		return nil, f.folderErr
	}
	return &drive.Folder{ID: t.TenantID + "-" + employee, Name: employee, WebURL: "https://drive.example/" + t.TenantID}, nil
}

func (f *fakeDrive) UploadAll(_ context.Context, _ *models.Tenant, _ graph.Credentials, _ string, docs []models.DocumentAttachment) ([]string, []models.FailedDocument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ok []string
	var failed []models.FailedDocument
	for _, d := range docs {
		if f.failNames[d.OriginalName] {
			failed = append(failed, models.FailedDocument{Name: d.NormalizedName, Error: "quota exceeded"})
			continue
		}
		f.uploads = append(f.uploads, d.NormalizedName)
		ok = append(ok, d.NormalizedName)
	}
	return ok, failed
}

func (f *fakeDrive) CreateSharingLink(context.Context, *models.Tenant, graph.Credentials, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links++
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return "https://share.example/link", nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, _ graph.Credentials, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type harness struct {
	orch    *Orchestrator
	fetcher *blob.MemoryFetcher
	store   *ledger.MemoryStore
	drive   *fakeDrive
	sender  *fakeSender
	acme    *models.Tenant
	globex  *models.Tenant
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	tenants := tenant.NewMemoryStore()
	dir := tenant.NewDirectory(tenants, nil)
	mk := func(name, email string, status models.TenantStatus) *models.Tenant {
		created, err := dir.Create(ctx, models.Tenant{
			CompanyName:       name,
			ReceivingEmail:    email,
			ReviewerEmail:     "hr@" + strings.ToLower(name) + ".example",
			RootFolderName:    "Employee Documents",
			NotifyFromAddress: "noreply@" + strings.ToLower(name) + ".example",
			Status:            status,
			DirectoryTenantID: "dir-" + name,
			ClientID:          "app-" + name,
			ClientSecret:      "secret",
		})
		if err != nil {
			t.Fatalf("create tenant: %v", err)
		}
		return created
	}

	h := &harness{
		fetcher: blob.NewMemoryFetcher(),
		store:   ledger.NewMemoryStore(),
		drive:   &fakeDrive{failNames: map[string]bool{}},
		sender:  &fakeSender{},
		acme:    mk("Acme", "intake@acme.example", models.TenantActive),
		globex:  mk("Globex", "intake@globex.example", models.TenantActive),
	}
	mk("Dormant", "intake@dormant.example", models.TenantInactive)

	h.orch = New(Deps{
		Fetcher:     h.fetcher,
		Tenants:     dir,
		Credentials: tenant.NewEnvResolver(tenants, 0),
		Ledger:      ledger.New(h.store),
		Drive:       h.drive,
		Sender:      h.sender,
	}, Options{DefaultBucket: "inbox"})
	return h
}

func (h *harness) put(key string, raw []byte) models.InboundRef {
	h.fetcher.Put("inbox", key, raw)
	return models.InboundRef{Key: key}
}

// TestRun_EndToEndAndIdempotent verifies a first delivery uploads and
// notifies once, and a redelivery does no further work.
func TestRun_EndToEndAndIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.put("k1", buildMessage("m1@mail", "Jane Doe <jane@example.com>", "intake@acme.example",
		"passport.pdf", "P60.pdf"))

	res := h.orch.Run(ctx, in)
	if !res.Success {
		t.Fatalf("first run failed: %+v", res)
	}
	if len(res.DocumentsUploaded) != 2 || res.FolderURL == "" {
		t.Errorf("result = %+v", res)
	}
	if res.TenantID != h.acme.TenantID || res.MessageID != "m1@mail" {
		t.Errorf("identity = %s / %s", res.TenantID, res.MessageID)
	}
	if len(h.sender.sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(h.sender.sent))
	}
	msg := h.sender.sent[0]
	if msg.To != "hr@acme.example" || msg.From != "noreply@acme.example" {
		t.Errorf("notification = %+v", msg)
	}
	if !strings.Contains(msg.HTML, "jane_doe_passport.pdf") {
		t.Error("notification body should list uploaded documents")
	}

	rec, _ := h.store.Get(ctx, "m1@mail")
	if rec == nil || rec.Status != models.StatusProcessed || rec.Error != "" {
		t.Fatalf("record = %+v", rec)
	}

	again := h.orch.Run(ctx, in)
	if !again.Success || len(again.Warnings) != 1 || !strings.Contains(again.Warnings[0], "already processed") {
		t.Errorf("second run = %+v", again)
	}
	if len(h.drive.uploads) != 2 || h.drive.folders != 1 || len(h.sender.sent) != 1 {
		t.Errorf("redelivery did work: uploads=%d folders=%d sends=%d",
			len(h.drive.uploads), h.drive.folders, len(h.sender.sent))
	}
}

// TestRun_CrossTenantIsolation verifies another tenant's record does not
// suppress processing.
func TestRun_CrossTenantIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.orch.Run(ctx, h.put("a", buildMessage("shared@mail", "jane@example.com", "intake@acme.example", "cv.pdf")))
	if !first.Success {
		t.Fatalf("first: %+v", first)
	}

	second := h.orch.Run(ctx, h.put("b", buildMessage("shared@mail", "jane@example.com", "intake@globex.example", "cv.pdf")))
	if second.TenantID != h.globex.TenantID {
		t.Errorf("tenant = %s", second.TenantID)
	}
	for _, w := range second.Warnings {
		if strings.Contains(w, "already processed") {
			t.Fatal("cross-tenant message must not be reported as processed")
		}
	}
	if h.drive.folders != 2 {
		t.Errorf("folders = %d, want 2", h.drive.folders)
	}
}

// TestRun_PartialUpload verifies partial failures become warnings.
func TestRun_PartialUpload(t *testing.T) {
	h := newHarness(t)
	h.drive.failNames["payslip.pdf"] = true

	res := h.orch.Run(context.Background(), h.put("k", buildMessage("m@mail", "Sam <sam@example.com>",
		"intake@acme.example", "passport.pdf", "payslip.pdf", "contract.pdf")))

	if !res.Success {
		t.Fatalf("run failed: %+v", res)
	}
	if len(res.DocumentsUploaded) != 2 || len(res.DocumentsFailed) != 1 {
		t.Errorf("uploaded=%v failed=%v", res.DocumentsUploaded, res.DocumentsFailed)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "sam_payslip.pdf") {
		t.Errorf("warnings = %v", res.Warnings)
	}

	rec, _ := h.store.Get(context.Background(), "m@mail")
	if rec.Status != models.StatusProcessed || !strings.Contains(rec.Error, "sam_payslip.pdf") {
		t.Errorf("record = %+v", rec)
	}
}

// TestRun_AllUploadsFail verifies a total upload failure is fatal.
func TestRun_AllUploadsFail(t *testing.T) {
	h := newHarness(t)
	h.drive.failNames["a.pdf"] = true
	h.drive.failNames["b.pdf"] = true

	res := h.orch.Run(context.Background(), h.put("k", buildMessage("m@mail", "sam@example.com",
		"intake@acme.example", "a.pdf", "b.pdf")))

	if res.Success || res.FailedAtStep != StepUpload {
		t.Fatalf("result = %+v", res)
	}
	if len(res.DocumentsFailed) != 2 {
		t.Errorf("failed = %v", res.DocumentsFailed)
	}
	if len(h.sender.sent) != 0 {
		t.Error("no notification expected")
	}
	rec, _ := h.store.Get(context.Background(), "m@mail")
	if rec == nil || rec.Status != models.StatusFailed || rec.TenantID != h.acme.TenantID {
		t.Errorf("record = %+v", rec)
	}
}

// TestRun_ParseFailures verifies parse-step failures are recorded under the
// unknown tenant.
func TestRun_ParseFailures(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		raw       []byte
		recordKey string
	}{
		{"missing object", "missing-key", nil, "missing-key"},
		{"no pdfs", "k1", buildMessage("nopdf@mail", "a@example.com", "intake@acme.example", "photo.jpg"), "nopdf@mail"},
		{"garbage", "garbage-key", []byte("not a message"), "garbage-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			key := tt.key
			if tt.raw != nil {
				h.fetcher.Put("inbox", key, tt.raw)
			}

			res := h.orch.Run(context.Background(), models.InboundRef{Key: key})
			if res.Success || res.FailedAtStep != StepParse {
				t.Fatalf("result = %+v", res)
			}
			rec, _ := h.store.Get(context.Background(), tt.recordKey)
			if rec == nil || rec.TenantID != ledger.UnknownTenant || rec.Status != models.StatusFailed {
				t.Fatalf("record = %+v", rec)
			}
			if !strings.HasPrefix(rec.Error, "parse: ") {
				t.Errorf("record error = %q", rec.Error)
			}
		})
	}
}

// TestRun_TenantResolutionFailures verifies unknown and inactive tenants.
func TestRun_TenantResolutionFailures(t *testing.T) {
	for _, to := range []string{"nobody@nowhere.example", "intake@dormant.example"} {
		t.Run(to, func(t *testing.T) {
			h := newHarness(t)
			res := h.orch.Run(context.Background(), h.put("k", buildMessage("m@mail", "a@example.com", to, "a.pdf")))
			if res.Success || res.FailedAtStep != StepTenantResolution {
				t.Fatalf("result = %+v", res)
			}
			if h.drive.folders != 0 {
				t.Error("no drive work expected")
			}
		})
	}
}

// TestRun_SecondRecipientRoutes verifies any recipient may be the routing
// address.
func TestRun_SecondRecipientRoutes(t *testing.T) {
	h := newHarness(t)
	res := h.orch.Run(context.Background(), h.put("k", buildMessage("m@mail", "a@example.com",
		"boss@example.com, INTAKE@acme.example", "a.pdf")))
	if !res.Success || res.TenantID != h.acme.TenantID {
		t.Errorf("result = %+v", res)
	}
}

// TestRun_DegradedSteps verifies share-link and notify failures are warnings.
func TestRun_DegradedSteps(t *testing.T) {
	h := newHarness(t)
	h.drive.linkErr = errors.New("sharing disabled")
	h.sender.err = errors.New("mailbox not found")

	res := h.orch.Run(context.Background(), h.put("k", buildMessage("m@mail", "a@example.com", "intake@acme.example", "a.pdf")))
	if !res.Success {
		t.Fatalf("run failed: %+v", res)
	}
	if res.FolderURL != "https://drive.example/"+h.acme.TenantID {
		t.Errorf("folder URL = %q, want raw folder reference", res.FolderURL)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("warnings = %v", res.Warnings)
	}
	rec, _ := h.store.Get(context.Background(), "m@mail")
	if !strings.Contains(rec.Error, "sharing disabled") || !strings.Contains(rec.Error, "mailbox not found") {
		t.Errorf("record error = %q", rec.Error)
	}
}

// TestRun_EnsureFolderFailure verifies folder failures are fatal.
func TestRun_EnsureFolderFailure(t *testing.T) {
	h := newHarness(t)
	h.drive.folderErr = errors.New("forbidden")

	res := h.orch.Run(context.Background(), h.put("k", buildMessage("m@mail", "a@example.com", "intake@acme.example", "a.pdf")))
	if res.Success || res.FailedAtStep != StepEnsureFolder {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Error, "forbidden") {
		t.Errorf("error = %q", res.Error)
	}
}

type failingLedger struct{ Ledger }

func (failingLedger) IsAlreadyProcessed(context.Context, string, string) (bool, error) {
	return false, errors.New("ledger unavailable")
}

func (failingLedger) RecordFailure(context.Context, string, string, string, string, string) {}

// TestRun_IdempotencyCheckError verifies a ledger read failure is fatal.
func TestRun_IdempotencyCheckError(t *testing.T) {
	h := newHarness(t)
	h.orch.deps.Ledger = failingLedger{}

	res := h.orch.Run(context.Background(), h.put("k", buildMessage("m@mail", "a@example.com", "intake@acme.example", "a.pdf")))
	if res.Success || res.FailedAtStep != StepIdempotency {
		t.Fatalf("result = %+v", res)
	}
	if h.drive.folders != 0 {
		t.Error("no drive work expected")
	}
}

// TestRun_DetachedFromCancellation verifies a cancelled caller context does
// not abort the run.
func TestRun_DetachedFromCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.orch.Run(ctx, h.put("k", buildMessage("m@mail", "a@example.com", "intake@acme.example", "a.pdf")))
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
}

func TestEmployeeName(t *testing.T) {
	tests := []struct {
		from models.EmailAddress
		want string
	}{
		{models.EmailAddress{Name: " Jane Doe ", Address: "x@y"}, "Jane Doe"},
		{models.EmailAddress{Address: "jane.doe@example.com"}, "jane doe"},
		{models.EmailAddress{}, ""},
	}
	for _, tt := range tests {
		if got := employeeName(tt.from); got != tt.want {
			t.Errorf("employeeName(%+v) = %q, want %q", tt.from, got, tt.want)
		}
	}
}

func TestStepError(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", stepErr(StepUpload, base))
	if FailedStep(err) != StepUpload {
		t.Errorf("FailedStep = %q", FailedStep(err))
	}
	if !errors.Is(err, base) {
		t.Error("StepError must unwrap")
	}
	if FailedStep(base) != "" {
		t.Error("plain error has no step")
	}
}
