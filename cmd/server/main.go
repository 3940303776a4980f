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

// Document Intake Service
//
// Entry point for the intake service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Seeds the tenant directory from config
//  4. Builds the pipeline (Graph client, drive, notifier, ledger)
//  5. Serves the HTTP trigger and consumes the inbound queue(s)
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/bcem/docintake/internal/blob"
	"github.com/bcem/docintake/internal/config"
	"github.com/bcem/docintake/internal/drive"
	"github.com/bcem/docintake/internal/graph"
	"github.com/bcem/docintake/internal/httpapi"
	"github.com/bcem/docintake/internal/ledger"
	"github.com/bcem/docintake/internal/models"
	"github.com/bcem/docintake/internal/notify"
	"github.com/bcem/docintake/internal/pipeline"
	"github.com/bcem/docintake/internal/queue"
	"github.com/bcem/docintake/internal/retry"
	"github.com/bcem/docintake/internal/tenant"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	slog.Info("starting document intake service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"seed_tenants", len(cfg.Tenants),
		"ledger_backend", cfg.LedgerBackend,
		"upload_concurrency", cfg.UploadConcurrency,
		"batch_concurrency", cfg.BatchConcurrency,
		"kafka", cfg.KafkaEnabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	checks := map[string]httpapi.HealthCheck{}

	// --- Connect to PostgreSQL ---
	var pgPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pgPool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		if err := pgPool.Ping(ctx); err != nil {
			slog.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		checks["postgres"] = pgPool.Ping
		slog.Info("connected to PostgreSQL")
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.InboundQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	checks["redis"] = publisher.Ping
	slog.Info("connected to Redis")

	// --- Tenant Directory ---
	var tenantStore tenant.Store = tenant.NewMemoryStore()
	if pgPool != nil {
		tenantStore, err = tenant.NewPostgresStore(ctx, pgPool)
		if err != nil {
			slog.Error("failed to initialise tenant store", "error", err)
			os.Exit(1)
		}
	}
	resolver := tenant.NewEnvResolver(tenantStore, cfg.CredentialTTL)
	directory := tenant.NewDirectory(tenantStore, resolver)

	seeds := make([]models.Tenant, 0, len(cfg.Tenants))
	for _, tc := range cfg.Tenants {
		seeds = append(seeds, tc.Tenant())
	}
	if err := directory.Seed(ctx, seeds); err != nil {
		slog.Error("failed to seed tenants", "error", err)
		os.Exit(1)
	}

	// --- Tracking Ledger ---
	var ledgerStore ledger.Store
	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		ledgerStore, err = ledger.NewPostgresStore(ctx, pgPool)
		if err != nil {
			slog.Error("failed to initialise ledger store", "error", err)
			os.Exit(1)
		}
	case config.LedgerRedis:
		ledgerStore = ledger.NewRedisStore(rdb, cfg.LedgerRetention)
	default:
		slog.Warn("using in-memory ledger; idempotency does not survive restarts")
		ledgerStore = ledger.NewMemoryStore()
	}

	// --- Graph Client ---
	client := graph.NewClient(graph.ClientConfig{
		BaseURL:  cfg.GraphBaseURL,
		TokenURL: cfg.GraphTokenURL,
		Scopes:   []string{cfg.GraphScope},
		Retry: retry.Options{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	})

	serviceCreds := graph.Credentials{
		TenantID:     cfg.ServiceTenantID,
		ClientID:     cfg.ServiceClientID,
		ClientSecret: cfg.ServiceClientSecret,
	}

	// --- Pipeline ---
	orch := pipeline.New(pipeline.Deps{
		Fetcher:     blob.NewGraphMailFetcher(client, serviceCreds, cfg.IntakeMailbox),
		Tenants:     directory,
		Credentials: resolver,
		Ledger:      ledger.New(ledgerStore),
		Drive:       drive.New(client, cfg.UploadConcurrency),
		Sender:      notify.NewGraphMailSender(client),
	}, pipeline.Options{
		DefaultBucket:       cfg.IntakeMailbox,
		NotificationSubject: cfg.NotificationSubject,
	})

	// --- HTTP Trigger ---
	ready, err := httpapi.Serve(ctx, cfg.Port, httpapi.NewHandler(orch, checks))
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Queue Triggers ---
	processor := queue.NewBatchProcessor(orch, cfg.BatchConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	consumer := queue.NewConsumer(rdb, processor, queue.ConsumerConfig{
		Queue:           cfg.InboundQueue,
		DeadLetterQueue: cfg.DeadLetterQueue,
		BatchSize:       cfg.BatchSize,
		MaxDeliveries:   cfg.MaxDeliveries,
	})
	g.Go(func() error { return consumer.Run(gctx) })

	if cfg.KafkaEnabled() {
		source, err := queue.NewKafkaSource(queue.KafkaConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaTopic,
			GroupID:       cfg.KafkaGroupID,
			BatchSize:     cfg.BatchSize,
			MaxDeliveries: cfg.MaxDeliveries,
		}, processor)
		if err != nil {
			slog.Error("failed to create kafka source", "error", err)
			os.Exit(1)
		}
		defer source.Close()
		g.Go(func() error { return source.Run(gctx) })
	}

	slog.Info("document intake service running", "port", cfg.Port)

	if err := g.Wait(); err != nil {
		slog.Error("queue trigger stopped", "error", err)
		stop()
		os.Exit(1)
	}

	slog.Info("document intake service stopped")
}

func logLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
