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

import "errors"

// Step names, in execution order.
const (
	StepParse            = "parse"
	StepTenantResolution = "tenant-resolution"
	StepIdempotency      = "idempotency-check"
	StepEnsureFolder     = "ensure-folder"
	StepUpload           = "upload"
	StepShareLink        = "share-link"
	StepNotify           = "notify"
	StepPersist          = "persist"
)

// StepError attributes a failure to the step it happened in.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step string, err error) *StepError {
	return &StepError{Step: step, Err: err}
}

// FailedStep returns the step a StepError in err's chain names, or "".
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
