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

package action

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"capstan.sh/capstan/pkg/quorum"
	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/rollback"
	"capstan.sh/capstan/pkg/storage"
	"capstan.sh/capstan/pkg/storage/driver"
)

type dispatchCall struct {
	Owner, Repo, WorkflowID, Ref string
	Inputs                       map[string]string
}

// fakeDispatcher records workflow dispatches and fails on demand.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (f *fakeDispatcher) TriggerWorkflow(_ context.Context, owner, repo, workflowID, ref string, inputs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{owner, repo, workflowID, ref, inputs})
	return f.err
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeExecutor records launch requests and fails on demand.
type fakeExecutor struct {
	reqs []rollback.Request
	err  error
}

func (f *fakeExecutor) Launch(_ context.Context, req rollback.Request) error {
	f.reqs = append(f.reqs, req)
	return f.err
}

func actionConfigFixture() (*Configuration, *fakeDispatcher, *fakeExecutor) {
	disp := &fakeDispatcher{}
	exec := &fakeExecutor{}
	cfg := New(storage.Init(driver.NewMemory()))
	cfg.CI = disp
	cfg.Executor = exec
	cfg.CIOwner = "capstan-works"
	cfg.Policy = quorum.Policy{
		Approvers: []string{"alice", "bob"},
		Admins:    []string{"alice"},
	}
	return cfg, disp, exec
}

// createRelease seeds a release in the given status and returns its id.
func createRelease(cfg *Configuration, service, tag string, status release.Status) int64 {
	id, err := cfg.Releases.Create(&release.Release{
		ServiceName:  service,
		ReleaseTag:   tag,
		Status:       release.StatusInitiated,
		InitiatedBy:  "ci",
		ApprovedList: []string{},
	})
	if err != nil {
		panic(err)
	}
	if status != release.StatusInitiated {
		if err := cfg.Releases.Update(id, driver.Update{Status: &status}); err != nil {
			panic(err)
		}
	}
	return id
}

func fixedTimestamper(t time.Time) func() {
	orig := Timestamper
	Timestamper = func() time.Time { return t }
	return func() { Timestamper = orig }
}

var errBoom = errors.New("boom")
