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

// Package metrics holds the Prometheus collectors for the intake service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline runs by outcome ("success", "failed", "duplicate") and the
	// step a failed run stopped at.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docintake_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"outcome", "step"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docintake_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docintake_uploads_total",
			Help: "Total number of document uploads",
		},
		[]string{"status"},
	)

	RemoteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docintake_remote_api_retries_total",
			Help: "Total number of remote API retries",
		},
		[]string{"operation"},
	)

	TokenAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docintake_token_acquisitions_total",
			Help: "Token lookups by source (cache or exchange)",
		},
		[]string{"source"},
	)

	CrossTenantChecks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docintake_cross_tenant_checks_total",
			Help: "Duplicate checks whose record belonged to another tenant",
		},
	)

	QueueRedeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docintake_queue_redeliveries_total",
			Help: "Messages handed back to the queue for redelivery",
		},
		[]string{"source", "reason"},
	)
)
