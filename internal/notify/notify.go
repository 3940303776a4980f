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

// Package notify tells a tenant's reviewer that new documents have arrived.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/bcem/docintake/internal/graph"
)

// DefaultSubject is the notification subject; %s is the employee name.
const DefaultSubject = "New employee documents received: %s"

// Message is one outbound notification.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers a notification on behalf of a tenant.
type Sender interface {
	Send(ctx context.Context, creds graph.Credentials, msg Message) error
}

// Caller is the subset of the graph client used to send mail.
type Caller interface {
	Call(ctx context.Context, creds graph.Credentials, method, path string, body, out any) error
}

// GraphMailSender sends mail from a tenant mailbox through the Graph API.
type GraphMailSender struct {
	api Caller
}

// NewGraphMailSender creates a sender over api.
func NewGraphMailSender(api Caller) *GraphMailSender {
	return &GraphMailSender{api: api}
}

type recipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type sendMailRequest struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []recipient `json:"toRecipients"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

// Send posts msg to /users/{from}/sendMail.
func (s *GraphMailSender) Send(ctx context.Context, creds graph.Credentials, msg Message) error {
	if msg.From == "" || msg.To == "" {
		return fmt.Errorf("notification requires from and to addresses")
	}

	var req sendMailRequest
	req.Message.Subject = msg.Subject
	req.Message.Body.ContentType = "HTML"
	req.Message.Body.Content = msg.HTML
	var to recipient
	to.EmailAddress.Address = msg.To
	req.Message.ToRecipients = []recipient{to}
	req.SaveToSentItems = false

	path := fmt.Sprintf("/users/%s/sendMail", url.PathEscape(msg.From))
	if err := s.api.Call(ctx, creds, http.MethodPost, path, req, nil); err != nil {
		return fmt.Errorf("send notification to %s: %w", msg.To, err)
	}
	return nil
}

// ReviewerEmail is the data rendered into a reviewer notification.
type ReviewerEmail struct {
	CompanyName   string
	EmployeeName  string
	EmployeeEmail string
	Documents     []string
	FolderURL     string
	Warnings      []string
}

// FolderLinkable reports whether FolderURL can be rendered as a link. Other
// references, such as a bare drive item ID, are shown as text.
func (e ReviewerEmail) FolderLinkable() bool {
	u, err := url.Parse(e.FolderURL)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

var reviewerTemplate = template.Must(template.New("reviewer").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; font-size: 14px;">
<p>New documents have been received for <strong>{{.EmployeeName}}</strong>{{if .EmployeeEmail}} ({{.EmployeeEmail}}){{end}}{{if .CompanyName}} at {{.CompanyName}}{{end}}.</p>
<p>Documents saved:</p>
<ul>
{{- range .Documents}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- if .Warnings}}
<p>Some items need attention:</p>
<ul>
{{- range .Warnings}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- end}}
{{- if .FolderLinkable}}
<p><a href="{{.FolderURL}}">Open the employee folder</a></p>
{{- else if .FolderURL}}
<p>Employee folder reference: {{.FolderURL}}</p>
{{- end}}
</body>
</html>
`))

// RenderReviewerEmail renders the notification body.
func RenderReviewerEmail(data ReviewerEmail) (string, error) {
	var buf bytes.Buffer
	if err := reviewerTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render reviewer email: %w", err)
	}
	return buf.String(), nil
}

// Subject formats a subject template with the employee name.
func Subject(format, employeeName string) string {
	if format == "" {
		format = DefaultSubject
	}
	if !strings.Contains(format, "%s") {
		return format
	}
	return fmt.Sprintf(format, employeeName)
}
