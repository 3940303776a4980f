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

// Document Intake: Tenant Admin Command
//
// Standalone CLI for managing the tenant directory and resubmitting
// inbound messages. Reads the same config.yaml as the service.
//
// Usage:
//
//	go run ./cmd/tenantctl/ list
//	go run ./cmd/tenantctl/ create --company Acme --email intake@acme.example --reviewer-email hr@acme.example \
//	    --root-folder "Employee Documents" --directory-tenant <id> --client-id <id> --secret-ref env:ACME_SECRET
//	go run ./cmd/tenantctl/ update --id <tenant-id> --status inactive
//	go run ./cmd/tenantctl/ delete --id <tenant-id>
//	go run ./cmd/tenantctl/ enqueue --key <message-id> [--bucket <mailbox>]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/docintake/internal/config"
	"github.com/bcem/docintake/internal/models"
	"github.com/bcem/docintake/internal/queue"
	"github.com/bcem/docintake/internal/tenant"
)

const usage = `usage: tenantctl <command> [flags]

commands:
  list                  list tenants
  create                register a tenant
  update --id ID        change a tenant's fields
  delete --id ID        remove a tenant and release its secret
  enqueue --key KEY     queue an inbound message for (re)processing
`

func main() {
	// Logs go to stderr so stdout stays machine-readable.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	cmd, args := os.Args[1], os.Args[2:]

	if cmd == "enqueue" {
		err = runEnqueue(ctx, cfg, args)
	} else {
		err = runDirectory(ctx, cfg, cmd, args)
	}
	if err != nil {
		slog.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func runDirectory(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for directory commands")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create Postgres pool: %w", err)
	}
	defer pool.Close()

	store, err := tenant.NewPostgresStore(ctx, pool)
	if err != nil {
		return err
	}
	dir := tenant.NewDirectory(store, tenant.NewEnvResolver(store, cfg.CredentialTTL))

	switch cmd {
	case "list":
		tenants, err := dir.List(ctx)
		if err != nil {
			return err
		}
		for _, t := range tenants {
			if err := printJSON(t); err != nil {
				return err
			}
		}
		return nil

	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		tf := bindTenantFlags(fs)
		fs.Parse(args)

		created, err := dir.Create(ctx, tf.apply(models.Tenant{}))
		if err != nil {
			return err
		}
		return printJSON(created)

	case "update":
		fs := flag.NewFlagSet("update", flag.ExitOnError)
		id := fs.String("id", "", "Tenant ID (required)")
		tf := bindTenantFlags(fs)
		fs.Parse(args)
		if *id == "" {
			return errors.New("--id is required")
		}

		current, err := dir.Get(ctx, *id)
		if err != nil {
			return err
		}
		updated, err := dir.Update(ctx, tf.apply(*current))
		if err != nil {
			return err
		}
		return printJSON(updated)

	case "delete":
		fs := flag.NewFlagSet("delete", flag.ExitOnError)
		id := fs.String("id", "", "Tenant ID (required)")
		fs.Parse(args)
		if *id == "" {
			return errors.New("--id is required")
		}
		return dir.Delete(ctx, *id)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runEnqueue(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	key := fs.String("key", "", "Message key (required)")
	bucket := fs.String("bucket", "", "Mailbox or bucket (optional; default intake mailbox)")
	fs.Parse(args)
	if strings.TrimSpace(*key) == "" {
		return errors.New("--key is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.InboundQueue)
	if err := publisher.Ping(ctx); err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}

	id, err := publisher.Enqueue(ctx, models.InboundRef{Bucket: *bucket, Key: *key})
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"job_id": id, "queue": cfg.InboundQueue})
}

// tenantFlags holds the optional tenant fields shared by create and update.
// Empty flags leave the corresponding field unchanged.
type tenantFlags struct {
	company, email, reviewerEmail, reviewerID string
	rootFolder, from, status                  string
	directoryTenant, clientID                 string
	clientSecret, secretRef                   string
}

func bindTenantFlags(fs *flag.FlagSet) *tenantFlags {
	tf := &tenantFlags{}
	fs.StringVar(&tf.company, "company", "", "Company name")
	fs.StringVar(&tf.email, "email", "", "Receiving email (routing key)")
	fs.StringVar(&tf.reviewerEmail, "reviewer-email", "", "Reviewer email")
	fs.StringVar(&tf.reviewerID, "reviewer-id", "", "Reviewer user ID in the drive tenant")
	fs.StringVar(&tf.rootFolder, "root-folder", "", "Root folder name")
	fs.StringVar(&tf.from, "from", "", "Notification sender address")
	fs.StringVar(&tf.status, "status", "", "active or inactive")
	fs.StringVar(&tf.directoryTenant, "directory-tenant", "", "Directory (Entra) tenant ID")
	fs.StringVar(&tf.clientID, "client-id", "", "App registration client ID")
	fs.StringVar(&tf.clientSecret, "client-secret", "", "Client secret stored inline (prefer --secret-ref)")
	fs.StringVar(&tf.secretRef, "secret-ref", "", "Secret reference, e.g. env:ACME_SECRET")
	return tf
}

func (tf *tenantFlags) apply(t models.Tenant) models.Tenant {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&t.CompanyName, tf.company)
	set(&t.ReceivingEmail, tf.email)
	set(&t.ReviewerEmail, tf.reviewerEmail)
	set(&t.ReviewerUserID, tf.reviewerID)
	set(&t.RootFolderName, tf.rootFolder)
	set(&t.NotifyFromAddress, tf.from)
	set(&t.DirectoryTenantID, tf.directoryTenant)
	set(&t.ClientID, tf.clientID)
	set(&t.ClientSecret, tf.clientSecret)
	set(&t.SecretRef, tf.secretRef)
	if tf.status != "" {
		t.Status = models.TenantStatus(strings.ToLower(tf.status))
	}
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
