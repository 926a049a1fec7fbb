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

package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capstan.sh/capstan/pkg/action"
	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/storage"
	"capstan.sh/capstan/pkg/storage/driver"
)

const prefix = "/api/release"

func serverFixture(t *testing.T) (*httptest.Server, *action.Configuration) {
	t.Helper()
	cfg := action.New(storage.Init(driver.NewMemory()))
	log := logrus.New()
	log.SetOutput(io.Discard)

	srv := httptest.NewServer(NewServer(cfg, nil, log).Handler(prefix))
	t.Cleanup(srv.Close)
	return srv, cfg
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func patchJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPatch, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := serverFixture(t)
	resp, err := http.Get(srv.URL + prefix + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestCreateRelease(t *testing.T) {
	srv, cfg := serverFixture(t)

	resp := postJSON(t, srv.URL+prefix+"/release", map[string]string{
		"service_name": "billing",
		"release_tag":  "v1.4.0",
		"initiated_by": "carol",
		"ci_run_id":    "900100",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		ReleaseID int64 `json:"release_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	rel, err := cfg.Releases.Get(out.ReleaseID)
	require.NoError(t, err)
	assert.Equal(t, release.StatusInitiated, rel.Status)
	assert.Equal(t, "billing", rel.ServiceName)
}

func TestCreateReleaseMissingFields(t *testing.T) {
	srv, _ := serverFixture(t)

	resp := postJSON(t, srv.URL+prefix+"/release", map[string]string{
		"service_name": "billing",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUpdateRelease(t *testing.T) {
	srv, cfg := serverFixture(t)
	id, err := cfg.Releases.Create(&release.Release{
		ServiceName: "billing", ReleaseTag: "v1.4.0",
		Status: release.StatusInitiated, ApprovedList: []string{},
	})
	require.NoError(t, err)

	resp := patchJSON(t, srv.URL+prefix+"/release", map[string]interface{}{
		"release_id": id,
		"status":     "stage_building",
		"ci_run_id":  "900200",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	rel, _ := cfg.Releases.Get(id)
	assert.Equal(t, release.StatusStageBuilding, rel.Status)
	assert.Equal(t, "900200", rel.CIRunID)
}

func TestUpdateReleaseBadTransition(t *testing.T) {
	srv, cfg := serverFixture(t)
	id, err := cfg.Releases.Create(&release.Release{
		ServiceName: "billing", ReleaseTag: "v1.4.0",
		Status: release.StatusInitiated, ApprovedList: []string{},
	})
	require.NoError(t, err)

	resp := patchJSON(t, srv.URL+prefix+"/release", map[string]interface{}{
		"release_id": id,
		"status":     "deployed",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateReleaseUnknownID(t *testing.T) {
	srv, _ := serverFixture(t)

	resp := patchJSON(t, srv.URL+prefix+"/release", map[string]interface{}{
		"release_id": 4242,
		"status":     "stage_building",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateReleaseMalformedBody(t *testing.T) {
	srv, _ := serverFixture(t)

	req, err := http.NewRequest(http.MethodPatch, srv.URL+prefix+"/release",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

type fakeSchema struct {
	created, dropped bool
	err              error
}

func (f *fakeSchema) EnsureTables() error { f.created = true; return f.err }
func (f *fakeSchema) DropTables() error   { f.dropped = true; return f.err }

func TestTableEndpoints(t *testing.T) {
	schema := &fakeSchema{}
	cfg := action.New(storage.Init(driver.NewMemory()))
	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := httptest.NewServer(NewServer(cfg, schema, log).Handler(prefix))
	defer srv.Close()

	for _, tt := range []struct {
		path string
		flag *bool
	}{
		{"/table/create", &schema.created},
		{"/table/drop", &schema.dropped},
	} {
		resp, err := http.Get(srv.URL + prefix + tt.path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, tt.path)
		assert.True(t, *tt.flag, tt.path)
	}
}

func TestTableCreateFailure(t *testing.T) {
	schema := &fakeSchema{err: errors.New("no database")}
	cfg := action.New(storage.Init(driver.NewMemory()))
	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := httptest.NewServer(NewServer(cfg, schema, log).Handler(prefix))
	defer srv.Close()

	resp, err := http.Get(fmt.Sprintf("%s%s/table/create", srv.URL, prefix))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
