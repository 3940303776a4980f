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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bcem/docintake/internal/models"
)

// Ledger backends.
const (
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
	LedgerMemory   = "memory"
)

// TenantConfig seeds one tenant into the directory at startup.
type TenantConfig struct {
	CompanyName       string `yaml:"company_name"`
	ReceivingEmail    string `yaml:"receiving_email"`
	ReviewerEmail     string `yaml:"reviewer_email"`
	ReviewerUserID    string `yaml:"reviewer_user_id"`
	RootFolderName    string `yaml:"root_folder_name"`
	NotifyFromAddress string `yaml:"notify_from_address"`
	Status            string `yaml:"status"`
	TenantID          string `yaml:"tenant_id"` // directory (Entra) tenant
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	SecretRef         string `yaml:"secret_ref"`
}

// Tenant converts the seed entry into a directory record.
func (tc TenantConfig) Tenant() models.Tenant {
	return models.Tenant{
		CompanyName:       tc.CompanyName,
		ReceivingEmail:    tc.ReceivingEmail,
		ReviewerEmail:     tc.ReviewerEmail,
		ReviewerUserID:    tc.ReviewerUserID,
		RootFolderName:    tc.RootFolderName,
		NotifyFromAddress: tc.NotifyFromAddress,
		Status:            models.TenantStatus(tc.Status),
		DirectoryTenantID: tc.TenantID,
		ClientID:          tc.ClientID,
		ClientSecret:      tc.ClientSecret,
		SecretRef:         tc.SecretRef,
	}
}

// Config holds all configuration for the intake service.
type Config struct {
	Tenants []TenantConfig

	// Postgres (tenant directory, ledger)
	DatabaseURL string

	// Redis (inbound queue, optional ledger backend)
	RedisURL        string
	InboundQueue    string
	DeadLetterQueue string

	// Kafka (optional inbound source)
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Graph API
	GraphBaseURL  string
	GraphTokenURL string
	GraphScope    string

	// Service identity used to read the intake mailbox
	IntakeMailbox       string
	ServiceTenantID     string
	ServiceClientID     string
	ServiceClientSecret string

	// Ledger
	LedgerBackend   string
	LedgerRetention time.Duration

	// Pipeline
	UploadConcurrency   int
	BatchConcurrency    int
	BatchSize           int
	MaxDeliveries       int
	RetryAttempts       int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	CredentialTTL       time.Duration
	NotificationSubject string

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Tenants  []TenantConfig `yaml:"tenants"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Inbound    string `yaml:"inbound"`
			DeadLetter string `yaml:"dead_letter"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		GroupID string   `yaml:"group_id"`
	} `yaml:"kafka"`
	Graph struct {
		BaseURL  string `yaml:"base_url"`
		TokenURL string `yaml:"token_url"`
		Scope    string `yaml:"scope"`
	} `yaml:"graph"`
	Intake struct {
		Mailbox      string `yaml:"mailbox"`
		TenantID     string `yaml:"tenant_id"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"intake"`
	Ledger struct {
		Backend   string `yaml:"backend"`
		Retention string `yaml:"retention"`
	} `yaml:"ledger"`
	Pipeline struct {
		UploadConcurrency   int    `yaml:"upload_concurrency"`
		BatchConcurrency    int    `yaml:"batch_concurrency"`
		BatchSize           int    `yaml:"batch_size"`
		MaxDeliveries       int    `yaml:"max_deliveries"`
		RetryAttempts       int    `yaml:"retry_attempts"`
		RetryBaseDelay      string `yaml:"retry_base_delay"`
		RetryMaxDelay       string `yaml:"retry_max_delay"`
		CredentialTTL       string `yaml:"credential_ttl"`
		NotificationSubject string `yaml:"notification_subject"`
	} `yaml:"pipeline"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Load reads configuration from the file named by CONFIG_PATH.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", "/app/config/config.yaml"))
}

// LoadFile reads configuration from path (with env var expansion) and
// environment variables for settings the YAML leaves empty.
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseURL:     firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:        firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		InboundQueue:    firstNonEmpty(raw.Redis.Queues.Inbound, envOrDefault("INBOUND_QUEUE", "docintake:inbound")),
		DeadLetterQueue: firstNonEmpty(raw.Redis.Queues.DeadLetter, envOrDefault("DEAD_LETTER_QUEUE", "docintake:dead")),

		KafkaBrokers: raw.Kafka.Brokers,
		KafkaTopic:   firstNonEmpty(raw.Kafka.Topic, envOrDefault("KAFKA_TOPIC", "")),
		KafkaGroupID: firstNonEmpty(raw.Kafka.GroupID, envOrDefault("KAFKA_GROUP_ID", "docintake")),

		GraphBaseURL:  firstNonEmpty(raw.Graph.BaseURL, envOrDefault("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0")),
		GraphTokenURL: firstNonEmpty(raw.Graph.TokenURL, envOrDefault("GRAPH_TOKEN_URL", "https://login.microsoftonline.com/%s/oauth2/v2.0/token")),
		GraphScope:    firstNonEmpty(raw.Graph.Scope, envOrDefault("GRAPH_SCOPE", "https://graph.microsoft.com/.default")),

		IntakeMailbox:       firstNonEmpty(raw.Intake.Mailbox, envOrDefault("INTAKE_MAILBOX", "")),
		ServiceTenantID:     firstNonEmpty(raw.Intake.TenantID, envOrDefault("INTAKE_TENANT_ID", "")),
		ServiceClientID:     firstNonEmpty(raw.Intake.ClientID, envOrDefault("INTAKE_CLIENT_ID", "")),
		ServiceClientSecret: firstNonEmpty(raw.Intake.ClientSecret, envOrDefault("INTAKE_CLIENT_SECRET", "")),

		LedgerBackend:   strings.ToLower(firstNonEmpty(raw.Ledger.Backend, envOrDefault("LEDGER_BACKEND", LedgerPostgres))),
		LedgerRetention: parseDurationOr(raw.Ledger.Retention, envOrDefaultDuration("LEDGER_RETENTION", 0)),

		UploadConcurrency:   positiveOr(raw.Pipeline.UploadConcurrency, envOrDefaultInt("UPLOAD_CONCURRENCY", 3)),
		BatchConcurrency:    positiveOr(raw.Pipeline.BatchConcurrency, envOrDefaultInt("BATCH_CONCURRENCY", 5)),
		BatchSize:           positiveOr(raw.Pipeline.BatchSize, envOrDefaultInt("BATCH_SIZE", 10)),
		MaxDeliveries:       positiveOr(raw.Pipeline.MaxDeliveries, envOrDefaultInt("MAX_DELIVERIES", 5)),
		RetryAttempts:       positiveOr(raw.Pipeline.RetryAttempts, envOrDefaultInt("RETRY_ATTEMPTS", 3)),
		RetryBaseDelay:      parseDurationOr(raw.Pipeline.RetryBaseDelay, envOrDefaultDuration("RETRY_BASE_DELAY", 500*time.Millisecond)),
		RetryMaxDelay:       parseDurationOr(raw.Pipeline.RetryMaxDelay, envOrDefaultDuration("RETRY_MAX_DELAY", 10*time.Second)),
		CredentialTTL:       parseDurationOr(raw.Pipeline.CredentialTTL, envOrDefaultDuration("CREDENTIAL_TTL", 5*time.Minute)),
		NotificationSubject: firstNonEmpty(raw.Pipeline.NotificationSubject, envOrDefault("NOTIFICATION_SUBJECT", "")),

		Port: positiveOr(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
	}

	if len(cfg.KafkaBrokers) == 0 {
		if v := envOrDefault("KAFKA_BROKERS", ""); v != "" {
			cfg.KafkaBrokers = strings.Split(v, ",")
		}
	}

	// Seed entries with empty credentials are placeholders (commented-out
	// env vars); skip them.
	for _, t := range raw.Tenants {
		if t.ReceivingEmail == "" || t.TenantID == "" || t.ClientID == "" ||
			(t.ClientSecret == "" && t.SecretRef == "") {
			continue
		}
		cfg.Tenants = append(cfg.Tenants, t)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LedgerBackend {
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("ledger backend %q requires database.url", c.LedgerBackend)
		}
	case LedgerRedis, LedgerMemory:
	default:
		return fmt.Errorf("unknown ledger backend %q", c.LedgerBackend)
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry_max_delay (%s) is shorter than retry_base_delay (%s)", c.RetryMaxDelay, c.RetryBaseDelay)
	}
	return nil
}

// KafkaEnabled reports whether a Kafka inbound source is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseDurationOr(v string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
		return d
	}
	return fallback
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
