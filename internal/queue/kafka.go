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

	"github.com/segmentio/kafka-go"

	"github.com/bcem/docintake/internal/metrics"
	"github.com/bcem/docintake/internal/retry"
)

// KafkaConfig configures a Kafka inbound source.
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	DeadLetterTopic string        // default Topic + ".dead"
	BatchSize       int           // default 10
	BatchWait       time.Duration // how long to wait to fill a batch, default 500ms
	MaxDeliveries   int
	FailureBackoff  time.Duration // base delay after a fully failed batch, default 1s
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource applies a BatchProcessor to a Kafka topic. The failed subset
// of each batch is re-produced to the topic with an incremented attempt
// counter before the batch's offsets are committed.
type KafkaSource struct {
	reader    kafkaReader
	writer    kafkaWriter
	processor *BatchProcessor
	cfg       KafkaConfig
}

// NewKafkaSource creates a consumer-group reader and a writer for cfg.
func NewKafkaSource(cfg KafkaConfig, processor *BatchProcessor) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("incomplete kafka configuration: brokers, topic, group_id are all required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})

	// No Topic on the writer: each message names its own so one writer
	// serves both the inbound and dead-letter topics.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("kafka source created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"group_id", cfg.GroupID,
	)
	return newKafkaSource(reader, writer, processor, cfg), nil
}

func newKafkaSource(r kafkaReader, w kafkaWriter, processor *BatchProcessor, cfg KafkaConfig) *KafkaSource {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 500 * time.Millisecond
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = cfg.Topic + ".dead"
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = time.Second
	}
	return &KafkaSource{reader: r, writer: w, processor: processor, cfg: cfg}
}

// Run consumes batches until ctx is cancelled. It returns an error only
// when a batch cannot be settled; its offsets stay uncommitted so the
// group redelivers it after restart.
func (k *KafkaSource) Run(ctx context.Context) error {
	slog.Info("kafka source started", "topic", k.cfg.Topic)
	failures := 0
	for {
		msgs, err := k.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("kafka source stopped", "topic", k.cfg.Topic)
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		err = k.Handle(ctx, msgs)
		switch {
		case errors.Is(err, ErrBatchFailed):
			// Redeliveries are already on the topic; slow down before
			// consuming them again.
			failures++
			sleepBackoff(ctx, failures, k.cfg.FailureBackoff)
		case err != nil:
			return err
		default:
			failures = 0
		}
	}
}

// Handle processes one batch of fetched messages, re-produces the failed
// subset (or dead-letters it) and commits every offset in the batch.
func (k *KafkaSource) Handle(ctx context.Context, msgs []kafka.Message) error {
	ctx = context.WithoutCancel(ctx)

	var (
		jobs []Job
		out  []kafka.Message
	)
	for _, m := range msgs {
		job, err := decodeJob(m.Value)
		if err != nil {
			slog.Warn("malformed kafka job dead-lettered",
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err,
			)
			metrics.QueueRedeliveries.WithLabelValues("kafka", "malformed").Inc()
			out = append(out, kafka.Message{Topic: k.cfg.DeadLetterTopic, Key: m.Key, Value: m.Value})
			continue
		}
		jobs = append(jobs, job)
	}

	var procErr error
	if len(jobs) > 0 {
		var outcome BatchOutcome
		outcome, procErr = k.processor.Process(ctx, refsOf(jobs))

		reason := "partial"
		if errors.Is(procErr, ErrBatchFailed) {
			reason = "batch_failed"
			slog.Error("kafka batch failed", "batch_size", len(jobs))
		}

		redeliver, dead := settle(jobs, outcome, k.cfg.MaxDeliveries)
		for _, j := range redeliver {
			msg, err := k.message(k.cfg.Topic, j)
			if err != nil {
				return err
			}
			out = append(out, msg)
		}
		for _, j := range dead {
			slog.Warn("job dead-lettered", "job_id", j.ID, "key", j.Ref.Key, "attempt", j.Attempt, "error", j.LastError)
			msg, err := k.message(k.cfg.DeadLetterTopic, j)
			if err != nil {
				return err
			}
			out = append(out, msg)
		}
		metrics.QueueRedeliveries.WithLabelValues("kafka", reason).Add(float64(len(redeliver)))
		metrics.QueueRedeliveries.WithLabelValues("kafka", "dead_letter").Add(float64(len(dead)))
	}

	if len(out) > 0 {
		err := retry.Run(ctx, retry.Options{MaxAttempts: 3}, func(ctx context.Context) error {
			return k.writer.WriteMessages(ctx, out...)
		})
		if err != nil {
			return fmt.Errorf("produce %d redeliveries: %w", len(out), err)
		}
	}

	if err := k.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit %d offsets: %w", len(msgs), err)
	}
	return procErr
}

func (k *KafkaSource) message(topic string, j Job) (kafka.Message, error) {
	data, err := encodeJob(j)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Topic: topic, Key: []byte(j.ID), Value: data}, nil
}

// fetch blocks for the first message, then collects more until the batch
// is full or BatchWait elapses.
func (k *KafkaSource) fetch(ctx context.Context) ([]kafka.Message, error) {
	first, err := k.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}

	fillCtx, cancel := context.WithTimeout(ctx, k.cfg.BatchWait)
	defer cancel()
	for len(msgs) < k.cfg.BatchSize {
		m, err := k.reader.FetchMessage(fillCtx)
		if err != nil {
			break
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Close releases the reader and writer.
func (k *KafkaSource) Close() error {
	return errors.Join(k.reader.Close(), k.writer.Close())
}
