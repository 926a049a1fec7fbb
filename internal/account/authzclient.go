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

package account

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"capstan.sh/capstan/pkg/httpclient"
)

// AuthzClient asks the authorization service for token pairs over the
// resilient HTTP client.
type AuthzClient struct {
	client *httpclient.Client
}

// NewAuthzClient creates a client for the authorization service at
// baseURL (including its prefix).
func NewAuthzClient(baseURL string, log func(string, ...interface{})) *AuthzClient {
	return &AuthzClient{client: httpclient.For(baseURL, log)}
}

type issueRequest struct {
	AccountID   int64  `json:"account_id"`
	TwoFAStatus bool   `json:"two_fa_status"`
	Role        string `json:"role"`
}

type issueResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IssuePair implements TokenIssuer.
func (c *AuthzClient) IssuePair(ctx context.Context, accountID int64, twoFA bool, role string) (string, string, error) {
	resp, err := c.client.PostJSON(ctx, "/", issueRequest{
		AccountID:   accountID,
		TwoFAStatus: twoFA,
		Role:        role,
	}, nil)
	if err != nil {
		return "", "", errors.Wrap(err, "requesting token pair")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return "", "", errors.Errorf("authorization service responded %d", resp.StatusCode)
	}
	var out issueResponse
	if err := httpclient.DecodeJSON(resp, &out); err != nil {
		return "", "", err
	}
	return out.AccessToken, out.RefreshToken, nil
}
