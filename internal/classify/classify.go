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

// Package classify maps submitted filenames to canonical document types and
// produces deterministic, collision-free target filenames for a submission.
package classify

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DocumentType is the canonical category of a submitted document.
type DocumentType string

const (
	TypeDrivingLicence      DocumentType = "driving_licence"
	TypePassport            DocumentType = "passport"
	TypeBirthCertificate    DocumentType = "birth_certificate"
	TypeMarriageCertificate DocumentType = "marriage_certificate"
	TypeRightToWork         DocumentType = "right_to_work"
	TypeNationalInsurance   DocumentType = "national_insurance"
	TypeDBSCheck            DocumentType = "dbs_check"
	TypeProofOfAddress      DocumentType = "proof_of_address"
	TypeBankDetails         DocumentType = "bank_details"
	TypeP45                 DocumentType = "p45"
	TypeP60                 DocumentType = "p60"
	TypePayslip             DocumentType = "payslip"
	TypeContract            DocumentType = "contract"
	TypeCV                  DocumentType = "cv"
	TypeQualification       DocumentType = "qualification"
	TypeMedical             DocumentType = "medical"
	TypeReference           DocumentType = "reference"
	TypeIdentity            DocumentType = "identity"

	// TypeDocument is returned when no pattern matches.
	TypeDocument DocumentType = "document"
)

type pattern struct {
	docType DocumentType
	re      *regexp.Regexp
}

// patterns is evaluated in order; more specific entries come first.
var patterns = []pattern{
	{TypeDrivingLicence, regexp.MustCompile(`driv(ing|ers?)? ?licen[cs]e|\bdl\b`)},
	{TypePassport, regexp.MustCompile(`passport`)},
	{TypeBirthCertificate, regexp.MustCompile(`birth ?cert`)},
	{TypeMarriageCertificate, regexp.MustCompile(`marriage`)},
	{TypeRightToWork, regexp.MustCompile(`right ?to ?work|\brtw\b|\bvisa\b|work ?permit|\bbrp\b|residence ?permit`)},
	{TypeNationalInsurance, regexp.MustCompile(`national ?insurance|\bnino?\b`)},
	{TypeDBSCheck, regexp.MustCompile(`\bdbs\b|background ?check|criminal ?record`)},
	{TypeProofOfAddress, regexp.MustCompile(`proof ?of ?address|utility|council ?tax|bank ?statement|\bpoa\b`)},
	{TypeBankDetails, regexp.MustCompile(`bank ?(details|account)|\biban\b|sort ?code`)},
	{TypeP45, regexp.MustCompile(`\bp ?45\b`)},
	{TypeP60, regexp.MustCompile(`\bp ?60\b`)},
	{TypePayslip, regexp.MustCompile(`pay ?slip|pay ?stub`)},
	{TypeContract, regexp.MustCompile(`contract|offer ?letter|agreement`)},
	{TypeCV, regexp.MustCompile(`\bcv\b|resume|curriculum`)},
	{TypeQualification, regexp.MustCompile(`degree|diploma|certificate|transcript|qualification`)},
	{TypeMedical, regexp.MustCompile(`medical|health|fit ?note`)},
	{TypeReference, regexp.MustCompile(`reference`)},
	{TypeIdentity, regexp.MustCompile(`\bid\b|identity|id ?card`)},
}

var (
	punctuation = regexp.MustCompile(`[^a-z0-9]+`)
	nonSlug     = regexp.MustCompile(`[^a-z0-9\s]+`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// DetectType classifies a filename by its base name, ignoring extension,
// case and punctuation.
func DetectType(filename string) DocumentType {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	cleaned := strings.TrimSpace(punctuation.ReplaceAllString(fold(strings.ToLower(base)), " "))

	for _, p := range patterns {
		if p.re.MatchString(cleaned) {
			return p.docType
		}
	}
	return TypeDocument
}

// ToSlug lower-cases name, folds accents, strips everything that is not a
// letter, digit or space, and joins the remaining words with underscores.
func ToSlug(name string) string {
	s := fold(strings.ToLower(strings.TrimSpace(name)))
	s = nonSlug.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	return whitespace.ReplaceAllString(s, "_")
}

// fold removes combining marks so "José" slugs to "jose" rather than "jos".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalized pairs an original filename with its target name.
type Normalized struct {
	Original string
	Type     DocumentType
	Name     string
}

// NormalizeOrdered assigns a target filename to every input, preserving
// order. Types occurring once get "{employee}_{type}.pdf"; repeated types get
// a 1-based suffix in input order.
func NormalizeOrdered(filenames []string, employeeName string) []Normalized {
	slug := ToSlug(employeeName)
	if slug == "" {
		slug = "employee"
	}

	types := make([]DocumentType, len(filenames))
	counts := make(map[DocumentType]int)
	for i, f := range filenames {
		types[i] = DetectType(f)
		counts[types[i]]++
	}

	seen := make(map[DocumentType]int)
	out := make([]Normalized, len(filenames))
	for i, f := range filenames {
		dt := types[i]
		name := fmt.Sprintf("%s_%s.pdf", slug, dt)
		if counts[dt] > 1 {
			seen[dt]++
			name = fmt.Sprintf("%s_%s_%d.pdf", slug, dt, seen[dt])
		}
		out[i] = Normalized{Original: f, Type: dt, Name: name}
	}
	return out
}

// NormalizeBatch returns original → normalized filename for a submission.
// Callers whose originals may repeat should use NormalizeOrdered.
func NormalizeBatch(filenames []string, employeeName string) map[string]string {
	result := make(map[string]string, len(filenames))
	for _, n := range NormalizeOrdered(filenames, employeeName) {
		result[n.Original] = n.Name
	}
	return result
}
