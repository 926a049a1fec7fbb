/*
Copyright The Capstan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package httpclient is the shared resilient outbound HTTP client: bounded
// retries with exponential backoff and jitter, and a circuit breaker per
// base URL. Every outbound collaborator call (CI dispatch, identity
// services) goes through it.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen indicates the breaker refused to issue the request. The
// call is retryable after the recovery window.
var ErrCircuitOpen = errors.New("httpclient: circuit open")

// StatusError is returned for 5xx responses after the retry budget is
// exhausted. 4xx responses are not errors at this layer; they are returned
// to the caller as ordinary responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpclient: server responded %d", e.StatusCode)
}

const (
	defaultTimeout       = 30 * time.Second
	retryInitialInterval = 100 * time.Millisecond
	retryMultiplier      = 2
	retryMaxInterval     = 10 * time.Second
	retryMaxAttempts     = 3
	breakerFailures      = 5
	breakerRecovery      = 60 * time.Second
)

// Client issues requests against a single base URL.
type Client struct {
	baseURL string
	hc      *http.Client
	breaker *gobreaker.CircuitBreaker

	Log func(string, ...interface{})
}

var (
	clientsMu sync.Mutex
	clients   = map[string]*Client{}
)

// For returns the shared client for baseURL, creating it on first use.
// Sharing keeps the circuit breaker state per collaborator rather than per
// call site.
func For(baseURL string, log func(string, ...interface{})) *Client {
	clientsMu.Lock()
	defer clientsMu.Unlock()
	if c, ok := clients[baseURL]; ok {
		return c
	}
	c := New(baseURL, log)
	clients[baseURL] = c
	return c
}

// New returns a fresh client for baseURL, bypassing the singleton map.
func New(baseURL string, log func(string, ...interface{})) *Client {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
		Log:     log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    baseURL,
		Timeout: breakerRecovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log("circuit for %s moved %s -> %s", name, from, to)
		},
	})
	return c
}

// Do issues method path with the given body and headers. Transport errors
// and 5xx responses are retried with exponential backoff and jitter; the
// breaker opens after consecutive failures and refuses further requests
// with ErrCircuitOpen until the recovery window passes.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, header http.Header) (*http.Response, error) {
	var resp *http.Response

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.Multiplier = retryMultiplier
	bo.MaxInterval = retryMaxInterval

	attempt := func() error {
		out, err := c.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			for k, vs := range header {
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
			r, err := c.hc.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= http.StatusInternalServerError {
				// drain so the connection can be reused across retries
				io.Copy(io.Discard, r.Body)
				r.Body.Close()
				return nil, &StatusError{StatusCode: r.StatusCode}
			}
			return r, nil
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return backoff.Permanent(errors.Wrapf(ErrCircuitOpen, "%s %s", method, path))
		}
		if err != nil {
			c.Log("request %s %s failed, will retry: %v", method, path, err)
			return err
		}
		resp = out.(*http.Response)
		return nil
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, retryMaxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// PostJSON POSTs v as a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, v interface{}, header http.Header) (*http.Response, error) {
	return c.sendJSON(ctx, http.MethodPost, path, v, header)
}

// PatchJSON PATCHes v as a JSON body.
func (c *Client) PatchJSON(ctx context.Context, path string, v interface{}, header http.Header) (*http.Response, error) {
	return c.sendJSON(ctx, http.MethodPatch, path, v, header)
}

// Get issues a GET.
func (c *Client) Get(ctx context.Context, path string, header http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, header)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, v interface{}, header http.Header) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "httpclient: encode body")
	}
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	return c.Do(ctx, method, path, body, header)
}

// DecodeJSON decodes the response body into v and closes it.
func DecodeJSON(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(v), "httpclient: decode body")
}
