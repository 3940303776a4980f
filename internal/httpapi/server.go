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

// Package httpapi is the HTTP trigger for the intake pipeline. The
// mail-receiving service POSTs the location of a deposited raw message
// and gets the run result back synchronously.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcem/docintake/internal/models"
	"github.com/bcem/docintake/internal/pipeline"
)

// maxRequestBody bounds the JSON envelope; the message itself is fetched
// from the blob store, not posted.
const maxRequestBody = 64 << 10

// ProcessRequest is the body of POST /process.
type ProcessRequest struct {
	Key    string `json:"key"`
	Bucket string `json:"bucket,omitempty"`
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves the trigger endpoints.
type Handler struct {
	runner pipeline.Runner
	checks map[string]HealthCheck
}

// NewHandler creates a trigger handler. checks are run by GET /health.
func NewHandler(runner pipeline.Runner, checks map[string]HealthCheck) *Handler {
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	return &Handler{runner: runner, checks: checks}
}

// Routes returns the trigger's HTTP routes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", h.ServeProcess)
	mux.HandleFunc("GET /health", h.ServeHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ServeProcess runs the pipeline for one message.
//
// Business outcomes (including failed runs) are 200 with success=false in
// the body. 400 is reserved for malformed envelopes and 500 for a panic
// that escaped the pipeline.
func (h *Handler) ServeProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.RunResult{Error: "read request body: " + err.Error()})
		return
	}
	if len(body) > maxRequestBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, models.RunResult{Error: "request body too large"})
		return
	}

	var req ProcessRequest
	if err := json.Unmarshal(body, &req); err != nil {
		slog.Info("process request not valid JSON", "body_len", len(body))
		writeJSON(w, http.StatusBadRequest, models.RunResult{Error: "invalid JSON body"})
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		writeJSON(w, http.StatusBadRequest, models.RunResult{Error: "key is required"})
		return
	}

	result, err := h.run(r.Context(), models.InboundRef{Bucket: req.Bucket, Key: req.Key})
	if err != nil {
		slog.Error("pipeline panicked", "key", req.Key, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.RunResult{
			MessageID: req.Key,
			Error:     "internal error",
		})
		return
	}

	slog.Info("process request complete",
		"key", req.Key,
		"message_id", result.MessageID,
		"tenant_id", result.TenantID,
		"success", result.Success,
		"failed_at_step", result.FailedAtStep,
	)
	writeJSON(w, http.StatusOK, result)
}

// run invokes the pipeline and converts a panic into an error.
func (h *Handler) run(ctx context.Context, in models.InboundRef) (result models.RunResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.runner.Run(ctx, in), nil
}

// ServeHealth pings every registered dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	report := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			report[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		report[name] = "ok"
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

// Serve starts the HTTP trigger on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind http port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown", "error", err)
		}
	}()

	go func() {
		slog.Info("http server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	return ready, nil
}
