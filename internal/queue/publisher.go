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

// Package queue is the batch trigger for the intake pipeline. Inbound
// message references arrive on a Redis list (or a Kafka topic), are
// processed in bounded-concurrency batches, and only the failed subset
// is handed back for redelivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/docintake/internal/models"
)

// Job is one queued inbound message reference.
type Job struct {
	ID         string            `json:"id"`
	Ref        models.InboundRef `json:"ref"`
	Attempt    int               `json:"attempt"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	LastError  string            `json:"last_error,omitempty"`
}

// NewJob wraps ref in a first-attempt job.
func NewJob(ref models.InboundRef) Job {
	return Job{
		ID:         uuid.New().String(),
		Ref:        ref,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
}

// next returns the job's redelivery with the attempt counter advanced.
func (j Job) next(lastError string) Job {
	j.Attempt++
	j.EnqueuedAt = time.Now().UTC()
	j.LastError = lastError
	return j
}

func encodeJob(j Job) ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return data, nil
}

func decodeJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if j.Ref.Key == "" {
		return Job{}, fmt.Errorf("job %q has no message key", j.ID)
	}
	if j.Attempt < 1 {
		j.Attempt = 1
	}
	return j, nil
}

// Publisher pushes jobs onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Enqueue publishes a first-attempt job for ref and returns its ID.
func (p *Publisher) Enqueue(ctx context.Context, ref models.InboundRef) (string, error) {
	job := NewJob(ref)
	if err := p.push(ctx, p.queueName, job); err != nil {
		return "", err
	}

	slog.Info("enqueued inbound message",
		"job_id", job.ID,
		"key", ref.Key,
		"bucket", ref.Bucket,
		"queue", p.queueName,
	)
	return job.ID, nil
}

// push LPUSHes so that consumers RPOP in FIFO order.
func (p *Publisher) push(ctx context.Context, queueName string, jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	values := make([]any, 0, len(jobs))
	for _, j := range jobs {
		data, err := encodeJob(j)
		if err != nil {
			return err
		}
		values = append(values, string(data))
	}
	if err := p.rdb.LPush(ctx, queueName, values...).Err(); err != nil {
		return fmt.Errorf("redis LPUSH %s: %w", queueName, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
