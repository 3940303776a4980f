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

package mailparse

import (
	"strings"
	"testing"
)

const sampleMessage = "Message-ID: <abc123@mail.example.com>\r\n" +
	"From: \"Jane Doe\" <jane@example.com>\r\n" +
	"To: HR Intake <intake@acme.example>\r\n" +
	"Subject: =?UTF-8?Q?Documents_for_Jos=C3=A9?=\r\n" +
	"Date: Mon, 02 Mar 2026 10:15:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please find attached.\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf; name=\"passport.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"passport.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0x\r\n" +
	"LjQK\r\n" +
	"--outer\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=\"C:\\\\scans\\\\P60.PDF\"\r\n" +
	"\r\n" +
	"raw-bytes\r\n" +
	"--outer\r\n" +
	"Content-Type: image/png; name=\"selfie.png\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"iVBORw0K\r\n" +
	"--outer--\r\n"

// TestParse verifies headers and nested attachments are extracted.
func TestParse(t *testing.T) {
	p, err := Parse([]byte(sampleMessage))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.MessageID != "abc123@mail.example.com" {
		t.Errorf("MessageID = %q", p.MessageID)
	}
	if p.From.Address != "jane@example.com" || p.From.Name != "Jane Doe" {
		t.Errorf("From = %+v", p.From)
	}
	if len(p.To) != 1 || p.To[0].Address != "intake@acme.example" {
		t.Errorf("To = %+v", p.To)
	}
	if p.Subject != "Documents for José" {
		t.Errorf("Subject = %q", p.Subject)
	}
	if p.Date.Year() != 2026 || p.Date.Month() != 3 {
		t.Errorf("Date = %v", p.Date)
	}

	if len(p.Attachments) != 3 {
		t.Fatalf("attachments = %d, want 3", len(p.Attachments))
	}
	if got := string(p.Attachments[0].Content); got != "%PDF-1.4\n" {
		t.Errorf("decoded pdf = %q", got)
	}
	if p.Attachments[1].Filename != "P60.PDF" {
		t.Errorf("filename = %q, want directory stripped", p.Attachments[1].Filename)
	}
}

// TestFilterDocuments verifies PDF selection by type or suffix.
func TestFilterDocuments(t *testing.T) {
	p, err := Parse([]byte(sampleMessage))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	docs := FilterDocuments(p.Attachments)
	if len(docs) != 2 {
		t.Fatalf("docs = %d, want 2", len(docs))
	}
	for _, d := range docs {
		if strings.HasSuffix(d.Filename, ".png") {
			t.Errorf("png should be filtered out")
		}
	}
}

// TestParse_MissingMessageID verifies the content digest fallback is stable.
func TestParse_MissingMessageID(t *testing.T) {
	raw := "From: a@example.com\r\nTo: b@example.com\r\nSubject: hi\r\n\r\nbody\r\n"

	p1, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p2, _ := Parse([]byte(raw))

	if !strings.HasPrefix(p1.MessageID, "sha256:") {
		t.Errorf("MessageID = %q", p1.MessageID)
	}
	if p1.MessageID != p2.MessageID {
		t.Error("digest fallback should be deterministic")
	}
	if len(p1.Attachments) != 0 {
		t.Errorf("attachments = %d", len(p1.Attachments))
	}
}

// TestParse_Malformed verifies errors for unreadable input.
func TestParse_Malformed(t *testing.T) {
	tests := []string{
		"",
		"Subject: no sender\r\n\r\nbody",
	}
	for _, raw := range tests {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("Parse(%q) expected error", raw)
		}
	}
}
