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

// Package graph is an authenticated client for the Microsoft Graph API. It
// acquires and caches per-tenant client-credential tokens, retries transient
// failures and evicts cached tokens that the API rejects.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/docintake/internal/metrics"
	"github.com/bcem/docintake/internal/retry"
)

const (
	DefaultBaseURL  = "https://graph.microsoft.com/v1.0"
	DefaultTokenURL = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	DefaultScope    = "https://graph.microsoft.com/.default"

	// defaultTokenLifetime applies when the token endpoint omits expires_in.
	defaultTokenLifetime = time.Hour
)

// ClientConfig holds the dependencies for a Client.
type ClientConfig struct {
	BaseURL    string
	TokenURL   string // printf template; %s is replaced with the directory tenant ID
	Scopes     []string
	HTTPClient *http.Client
	Retry      retry.Options
	Cache      *TokenCache
	Now        func() time.Time
}

// Client performs authenticated Graph API calls on behalf of any tenant.
type Client struct {
	baseURL    string
	tokenURL   string
	scopes     []string
	httpClient *http.Client
	retry      retry.Options
	cache      *TokenCache
	now        func() time.Time
}

// NewClient creates a Graph API client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:   cfg.TokenURL,
		scopes:     cfg.Scopes,
		httpClient: cfg.HTTPClient,
		retry:      cfg.Retry,
		cache:      cfg.Cache,
		now:        cfg.Now,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.tokenURL == "" {
		c.tokenURL = DefaultTokenURL
	}
	if len(c.scopes) == 0 {
		c.scopes = []string{DefaultScope}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.cache == nil {
		c.cache = NewTokenCache()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.retry.IsRetryable = IsRetryable
	return c
}

// AcquireToken returns a cached access token for creds or exchanges the
// client credentials for a new one.
func (c *Client) AcquireToken(ctx context.Context, creds Credentials) (string, error) {
	key := creds.CacheKey()
	if token, ok := c.cache.Get(key, c.now()); ok {
		metrics.TokenAcquisitions.WithLabelValues("cache").Inc()
		return token, nil
	}

	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     c.resolveTokenURL(creds.TenantID),
		Scopes:       c.scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := retry.Do(ctx, c.retryOptions("token"), func(ctx context.Context) (*oauth2.Token, error) {
		tok, err := cc.Token(exchangeCtx)
		if err != nil {
			return nil, c.classifyTokenError(err)
		}
		return tok, nil
	})
	if err != nil {
		return "", fmt.Errorf("acquire token for tenant %s: %w", creds.TenantID, err)
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = c.now().Add(defaultTokenLifetime)
	}
	c.cache.Put(key, token.AccessToken, expiresAt)
	metrics.TokenAcquisitions.WithLabelValues("exchange").Inc()

	slog.Debug("acquired remote API token",
		"tenant", creds.TenantID,
		"expires_at", expiresAt,
	)
	return token.AccessToken, nil
}

// Call performs a JSON request. body, when non-nil, is JSON-encoded; out,
// when non-nil, receives the decoded response. A 204 leaves out untouched.
func (c *Client) Call(ctx context.Context, creds Credentials, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
	}

	status, respBody, err := c.do(ctx, creds, method, path, payload, "application/json")
	if err != nil {
		return err
	}
	return decode(status, respBody, out, method, path)
}

// Upload PUTs raw bytes to path and decodes the JSON response into out.
func (c *Client) Upload(ctx context.Context, creds Credentials, path string, data []byte, contentType string, out any) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	status, respBody, err := c.do(ctx, creds, http.MethodPut, path, data, contentType)
	if err != nil {
		return err
	}
	return decode(status, respBody, out, http.MethodPut, path)
}

// Download GETs path and returns the raw response body.
func (c *Client) Download(ctx context.Context, creds Credentials, path string) ([]byte, error) {
	_, respBody, err := c.do(ctx, creds, http.MethodGet, path, nil, "")
	return respBody, err
}

// do runs one logical request through the retry engine. Each attempt fetches
// the token afresh so an eviction after a 401 takes effect on the next try.
func (c *Client) do(ctx context.Context, creds Credentials, method, path string, payload []byte, contentType string) (int, []byte, error) {
	target := c.resolveURL(path)
	op := method + " " + path

	type response struct {
		status int
		body   []byte
	}

	resp, err := retry.Do(ctx, c.retryOptions(method), func(ctx context.Context) (response, error) {
		token, err := c.AcquireToken(ctx, creds)
		if err != nil {
			return response{}, &tokenError{err: err}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return response{}, fmt.Errorf("build request %s: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil && contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return response{}, fmt.Errorf("%s: %w", op, err)
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return response{}, fmt.Errorf("read response %s: %w", op, err)
		}

		if httpResp.StatusCode == http.StatusUnauthorized {
			c.cache.Evict(creds.CacheKey())
			slog.Warn("remote API rejected token, evicted from cache",
				"tenant", creds.TenantID,
				"op", op,
			)
		}
		if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
			apiErr := &APIError{
				Op:         op,
				StatusCode: httpResp.StatusCode,
				Body:       string(body),
			}
			apiErr.retryAfter, apiErr.hasRetryAfter = parseRetryAfter(httpResp.Header.Get("Retry-After"), c.now())
			return response{}, apiErr
		}
		return response{status: httpResp.StatusCode, body: body}, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return resp.status, resp.body, nil
}

func (c *Client) retryOptions(operation string) retry.Options {
	opts := c.retry
	opts.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.RemoteRetries.WithLabelValues(operation).Inc()
		slog.Warn("retrying remote API call",
			"operation", operation,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	return opts
}

// classifyTokenError maps token endpoint failures onto APIError so they share
// the retryable-status rules of ordinary calls.
func (c *Client) classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		apiErr := &APIError{
			Op:         "token exchange",
			StatusCode: re.Response.StatusCode,
			Body:       string(re.Body),
		}
		apiErr.retryAfter, apiErr.hasRetryAfter = parseRetryAfter(re.Response.Header.Get("Retry-After"), c.now())
		return apiErr
	}
	return fmt.Errorf("token exchange: %w", err)
}

func (c *Client) resolveTokenURL(tenantID string) string {
	if strings.Contains(c.tokenURL, "%s") {
		return fmt.Sprintf(c.tokenURL, tenantID)
	}
	return c.tokenURL
}

func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func decode(status int, body []byte, out any, method, path string) error {
	if out == nil || status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
