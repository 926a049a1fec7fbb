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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpFixture(t *testing.T) *httptest.Server {
	t.Helper()
	svc, _ := serviceFixture()
	srv := httptest.NewServer(NewHTTPServer(svc).Handler("/api/account"))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/account"+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestRegisterEndpoint(t *testing.T) {
	srv := httpFixture(t)

	resp := post(t, srv, "/register", map[string]string{"login": "carol", "password": "hunter2"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		AccountID int64 `json:"account_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotZero(t, out.AccountID)

	dup := post(t, srv, "/register", map[string]string{"login": "carol", "password": "x"})
	dup.Body.Close()
	assert.Equal(t, http.StatusConflict, dup.StatusCode)
}

func TestLoginEndpoint(t *testing.T) {
	srv := httpFixture(t)
	post(t, srv, "/register", map[string]string{"login": "carol", "password": "hunter2"}).Body.Close()

	resp := post(t, srv, "/login", map[string]string{"login": "carol", "password": "hunter2"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out LoginResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "access-token", out.AccessToken)

	bad := post(t, srv, "/login", map[string]string{"login": "carol", "password": "nope"})
	bad.Body.Close()
	assert.Equal(t, http.StatusForbidden, bad.StatusCode)
}

func TestEnrollEndpoint(t *testing.T) {
	srv := httpFixture(t)
	post(t, srv, "/register", map[string]string{"login": "carol", "password": "hunter2"}).Body.Close()

	resp := post(t, srv, "/2fa/enroll", map[string]int64{"account_id": 1})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out["secret"])
	assert.Contains(t, out["uri"], "otpauth://")

	missing := post(t, srv, "/2fa/enroll", map[string]int64{"account_id": 99})
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestValidationFailure(t *testing.T) {
	srv := httpFixture(t)
	resp := post(t, srv, "/register", map[string]string{"login": "carol"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
