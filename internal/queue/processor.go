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

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bcem/docintake/internal/models"
	"github.com/bcem/docintake/internal/pipeline"
	"github.com/bcem/docintake/internal/workpool"
)

// ErrBatchFailed is returned when every message in a non-empty batch failed.
var ErrBatchFailed = errors.New("every message in batch failed")

// BatchProcessor runs a batch of inbound references through the pipeline
// with bounded per-message concurrency.
type BatchProcessor struct {
	runner      pipeline.Runner
	concurrency int
}

// NewBatchProcessor creates a processor. concurrency defaults to 5.
func NewBatchProcessor(runner pipeline.Runner, concurrency int) *BatchProcessor {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &BatchProcessor{runner: runner, concurrency: concurrency}
}

// BatchOutcome holds per-message results in input order and the indices
// that need redelivery.
type BatchOutcome struct {
	Results []models.RunResult
	Failed  []int
}

// Process runs every ref and reports the failed subset. It returns
// ErrBatchFailed (with the outcome still populated) when nothing succeeded.
func (p *BatchProcessor) Process(ctx context.Context, refs []models.InboundRef) (BatchOutcome, error) {
	settled := workpool.Map(ctx, refs, p.concurrency,
		func(ctx context.Context, ref models.InboundRef, _ int) (models.RunResult, error) {
			res := p.runner.Run(ctx, ref)
			if !res.Success {
				return res, runError(res)
			}
			return res, nil
		})

	out := BatchOutcome{Results: make([]models.RunResult, len(refs))}
	for i, s := range settled {
		out.Results[i] = s.Value
		if s.OK() {
			continue
		}
		out.Failed = append(out.Failed, i)
		if out.Results[i].MessageID == "" {
			out.Results[i].MessageID = refs[i].Key
		}
		if out.Results[i].Error == "" {
			out.Results[i].Error = s.Err.Error()
		}
	}

	slog.Info("batch processed",
		"batch_size", len(refs),
		"failed", len(out.Failed),
	)

	if len(refs) > 0 && len(out.Failed) == len(refs) {
		return out, ErrBatchFailed
	}
	return out, nil
}

func runError(res models.RunResult) error {
	if res.FailedAtStep != "" {
		return fmt.Errorf("%s: %s", res.FailedAtStep, res.Error)
	}
	return errors.New(res.Error)
}

// settle splits the failed jobs of a batch into redeliveries and
// dead letters. Jobs that have reached maxDeliveries are dead-lettered.
func settle(jobs []Job, out BatchOutcome, maxDeliveries int) (redeliver, dead []Job) {
	for _, i := range out.Failed {
		if maxDeliveries > 0 && jobs[i].Attempt >= maxDeliveries {
			j := jobs[i]
			j.LastError = out.Results[i].Error
			dead = append(dead, j)
			continue
		}
		redeliver = append(redeliver, jobs[i].next(out.Results[i].Error))
	}
	return redeliver, dead
}

func refsOf(jobs []Job) []models.InboundRef {
	refs := make([]models.InboundRef, len(jobs))
	for i, j := range jobs {
		refs[i] = j.Ref
	}
	return refs
}
