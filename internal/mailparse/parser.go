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

// Package mailparse turns raw RFC 5322 messages into the sender, recipients
// and attachments the intake pipeline needs.
package mailparse

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path"
	"strings"
	"time"

	"github.com/bcem/docintake/internal/models"
)

// ErrNoDocuments is returned when a message carries no eligible attachments.
var ErrNoDocuments = errors.New("no PDF attachments found")

// maxDepth bounds multipart nesting.
const maxDepth = 8

// Attachment is one file part of a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	Size        int
}

// Parsed is the subset of a message the pipeline consumes.
type Parsed struct {
	MessageID   string
	From        models.EmailAddress
	To          []models.EmailAddress
	Subject     string
	Date        time.Time
	Attachments []Attachment
}

var wordDecoder = &mime.WordDecoder{}

// Parse reads a raw message. A missing Message-ID is replaced with a digest
// of the raw bytes so redelivered copies share an identity.
func Parse(raw []byte) (*Parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	p := &Parsed{
		MessageID: strings.Trim(strings.TrimSpace(msg.Header.Get("Message-Id")), "<>"),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
	}
	if p.MessageID == "" {
		sum := sha256.Sum256(raw)
		p.MessageID = "sha256:" + hex.EncodeToString(sum[:])
	}

	if from, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		p.From = models.EmailAddress{Address: from.Address, Name: from.Name}
	} else {
		return nil, fmt.Errorf("parse From header: %w", err)
	}

	for _, field := range []string{"To", "Cc", "Delivered-To"} {
		if msg.Header.Get(field) == "" {
			continue
		}
		list, err := msg.Header.AddressList(field)
		if err != nil {
			continue
		}
		for _, a := range list {
			p.To = append(p.To, models.EmailAddress{Address: a.Address, Name: a.Name})
		}
	}

	if date, err := msg.Header.Date(); err == nil {
		p.Date = date.UTC()
	} else {
		p.Date = time.Now().UTC()
	}

	atts, err := walkPart(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"),
		msg.Header.Get("Content-Disposition"), msg.Body, 0)
	if err != nil {
		return nil, err
	}
	p.Attachments = atts
	return p, nil
}

// FilterDocuments keeps attachments that are PDFs by content type or name.
func FilterDocuments(atts []Attachment) []Attachment {
	var out []Attachment
	for _, a := range atts {
		ct, _, _ := mime.ParseMediaType(a.ContentType)
		if ct == "application/pdf" || strings.HasSuffix(strings.ToLower(a.Filename), ".pdf") {
			out = append(out, a)
		}
	}
	return out
}

func walkPart(contentType, encoding, disposition string, body io.Reader, depth int) ([]Attachment, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("multipart nesting exceeds %d levels", maxDepth)
	}
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "application/octet-stream", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart part without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		var out []Attachment
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read multipart: %w", err)
			}
			atts, err := walkPart(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"),
				part.Header.Get("Content-Disposition"), part, depth+1)
			part.Close()
			if err != nil {
				return nil, err
			}
			out = append(out, atts...)
		}
		return out, nil
	}

	filename := attachmentName(disposition, params)
	if filename == "" {
		return nil, nil
	}

	content, err := io.ReadAll(decodeBody(encoding, body))
	if err != nil {
		return nil, fmt.Errorf("decode attachment %q: %w", filename, err)
	}
	return []Attachment{{
		Filename:    filename,
		ContentType: mediaType,
		Content:     content,
		Size:        len(content),
	}}, nil
}

// attachmentName prefers the Content-Disposition filename over the legacy
// Content-Type name parameter. Directory components are dropped.
func attachmentName(disposition string, ctParams map[string]string) string {
	var name string
	if disposition != "" {
		if _, dp, err := mime.ParseMediaType(disposition); err == nil {
			name = dp["filename"]
		}
	}
	if name == "" {
		name = ctParams["name"]
	}
	name = strings.TrimSpace(decodeHeader(name))
	if name == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(name, `\`, "/"))
}

func decodeBody(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &whitespaceStripper{r: r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// whitespaceStripper drops CR, LF, space and tab so line-wrapped base64
// decodes cleanly.
type whitespaceStripper struct {
	r io.Reader
}

func (w *whitespaceStripper) Read(p []byte) (int, error) {
	for {
		n, err := w.r.Read(p)
		j := 0
		for i := 0; i < n; i++ {
			switch p[i] {
			case '\r', '\n', ' ', '\t':
				continue
			}
			p[j] = p[i]
			j++
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}
