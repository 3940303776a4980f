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
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/docintake/internal/metrics"
	"github.com/bcem/docintake/internal/retry"
)

// ConsumerConfig tunes a Redis list consumer.
type ConsumerConfig struct {
	Queue           string
	DeadLetterQueue string
	BatchSize       int           // default 10
	MaxDeliveries   int           // 0 disables dead-lettering
	PollTimeout     time.Duration // BRPOP block time, default 5s
}

// Consumer pulls jobs from a Redis list in batches and hands each batch to
// a BatchProcessor.
type Consumer struct {
	rdb       *redis.Client
	publisher *Publisher
	processor *BatchProcessor
	cfg       ConsumerConfig
}

// NewConsumer creates a Redis list consumer.
func NewConsumer(rdb *redis.Client, processor *BatchProcessor, cfg ConsumerConfig) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.DeadLetterQueue == "" {
		cfg.DeadLetterQueue = cfg.Queue + ":dead"
	}
	return &Consumer{
		rdb:       rdb,
		publisher: NewPublisher(rdb, cfg.Queue),
		processor: processor,
		cfg:       cfg,
	}
}

// Run consumes batches until ctx is cancelled. A batch in progress is
// finished and settled before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("queue consumer started",
		"queue", c.cfg.Queue,
		"batch_size", c.cfg.BatchSize,
	)

	failures := 0
	for ctx.Err() == nil {
		jobs, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			slog.Error("queue fetch failed", "queue", c.cfg.Queue, "error", err)
			c.backoff(ctx, failures)
			continue
		}
		if len(jobs) == 0 {
			continue
		}

		if err := c.Handle(ctx, jobs); err != nil {
			failures++
			slog.Error("queue batch failed",
				"queue", c.cfg.Queue,
				"batch_size", len(jobs),
				"error", err,
			)
			c.backoff(ctx, failures)
			continue
		}
		failures = 0
	}

	slog.Info("queue consumer stopped", "queue", c.cfg.Queue)
	return nil
}

// Handle processes one batch and settles the failed subset: failed jobs
// are pushed back with an incremented attempt counter, or moved to the
// dead-letter list once they reach MaxDeliveries. It returns ErrBatchFailed
// when every job failed.
func (c *Consumer) Handle(ctx context.Context, jobs []Job) error {
	out, procErr := c.processor.Process(ctx, refsOf(jobs))

	reason := "partial"
	if errors.Is(procErr, ErrBatchFailed) {
		reason = "batch_failed"
	}

	// Settling must survive shutdown or the failed subset is lost.
	ctx = context.WithoutCancel(ctx)
	redeliver, dead := settle(jobs, out, c.cfg.MaxDeliveries)

	if err := c.publisher.push(ctx, c.cfg.Queue, redeliver...); err != nil {
		return fmt.Errorf("redeliver %d jobs: %w", len(redeliver), err)
	}
	metrics.QueueRedeliveries.WithLabelValues("redis", reason).Add(float64(len(redeliver)))

	if len(dead) > 0 {
		if err := c.publisher.push(ctx, c.cfg.DeadLetterQueue, dead...); err != nil {
			return fmt.Errorf("dead-letter %d jobs: %w", len(dead), err)
		}
		metrics.QueueRedeliveries.WithLabelValues("redis", "dead_letter").Add(float64(len(dead)))
		for _, j := range dead {
			slog.Warn("job dead-lettered",
				"job_id", j.ID,
				"key", j.Ref.Key,
				"attempt", j.Attempt,
				"error", j.LastError,
			)
		}
	}

	return procErr
}

// fetch blocks for the first job, then drains up to BatchSize-1 more
// without blocking. Undecodable entries go straight to the dead-letter list.
func (c *Consumer) fetch(ctx context.Context) ([]Job, error) {
	first, err := c.rdb.BRPop(ctx, c.cfg.PollTimeout, c.cfg.Queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis BRPOP: %w", err)
	}
	raw := []string{first[1]}

	if c.cfg.BatchSize > 1 {
		more, err := c.rdb.RPopCount(ctx, c.cfg.Queue, c.cfg.BatchSize-1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			slog.Warn("redis RPOP failed, processing partial batch", "error", err)
		}
		raw = append(raw, more...)
	}

	jobs := make([]Job, 0, len(raw))
	for _, r := range raw {
		job, err := decodeJob([]byte(r))
		if err != nil {
			c.deadLetterRaw(ctx, r, err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (c *Consumer) deadLetterRaw(ctx context.Context, raw string, cause error) {
	slog.Warn("malformed job dead-lettered", "error", cause, "len", len(raw))
	metrics.QueueRedeliveries.WithLabelValues("redis", "malformed").Inc()
	if err := c.rdb.LPush(context.WithoutCancel(ctx), c.cfg.DeadLetterQueue, raw).Err(); err != nil {
		slog.Error("dead-letter malformed job failed", "error", err)
	}
}

func (c *Consumer) backoff(ctx context.Context, failures int) {
	sleepBackoff(ctx, failures, time.Second)
}

// sleepBackoff waits out the exponential delay after consecutive failed
// batches, or until ctx ends.
func sleepBackoff(ctx context.Context, failures int, base time.Duration) {
	delay := retry.Delay(failures, base, 30*time.Second, nil)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
