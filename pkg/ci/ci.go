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

// Package ci posts workflow dispatches to the CI system.
package ci

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"capstan.sh/capstan/pkg/httpclient"
)

// ErrDispatch indicates the CI system did not accept a workflow dispatch.
// The engine treats it as retriable at the operator's discretion and never
// auto-retries, to avoid double deployment.
var ErrDispatch = errors.New("ci: workflow dispatch failed")

// DeployWorkflowID is the workflow the quorum closure triggers to deploy a
// release to production.
const DeployWorkflowID = "on-approve-manual-testing.yaml.yml"

// Dispatcher triggers CI workflows. The engine depends on this interface;
// tests substitute a recording fake.
type Dispatcher interface {
	TriggerWorkflow(ctx context.Context, owner, repo, workflowID, ref string, inputs map[string]string) error
}

// Client posts workflow dispatches to a GitHub-compatible API.
type Client struct {
	hc    *httpclient.Client
	token string

	Log func(string, ...interface{})
}

var _ Dispatcher = (*Client)(nil)

// NewClient returns a dispatch client for the CI API at baseURL,
// authenticating with the given bearer token.
func NewClient(baseURL, token string, log func(string, ...interface{})) *Client {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Client{
		hc:    httpclient.For(baseURL, log),
		token: token,
		Log:   log,
	}
}

type dispatchBody struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs"`
}

// TriggerWorkflow posts a workflow dispatch with typed inputs. An empty ref
// defaults to main. Any non-2xx response is an ErrDispatch.
func (c *Client) TriggerWorkflow(ctx context.Context, owner, repo, workflowID, ref string, inputs map[string]string) error {
	if ref == "" {
		ref = "main"
	}
	if inputs == nil {
		inputs = map[string]string{}
	}

	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("X-GitHub-Api-Version", "2022-11-28")

	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches", owner, repo, workflowID)
	c.Log("dispatching workflow %s for %s/%s on %s", workflowID, owner, repo, ref)

	resp, err := c.hc.PostJSON(ctx, path, dispatchBody{Ref: ref, Inputs: inputs}, header)
	if err != nil {
		return errors.Wrapf(ErrDispatch, "%s/%s %s: %v", owner, repo, workflowID, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Wrapf(ErrDispatch, "%s/%s %s: status %d", owner, repo, workflowID, resp.StatusCode)
	}
	return nil
}
