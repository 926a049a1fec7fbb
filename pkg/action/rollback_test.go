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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capstan.sh/capstan/pkg/quorum"
	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/rollback"
	"capstan.sh/capstan/pkg/storage/driver"
)

// deployedAt marks the release as having finished its deploy at t.
func deployedAt(t *testing.T, cfg *Configuration, id int64, done time.Time) {
	t.Helper()
	require.NoError(t, cfg.Releases.Update(id, driver.Update{CompletedAt: &done}))
}

func TestRollbackLaunches(t *testing.T) {
	cfg, _, exec := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusDeployed)
	deployedAt(t, cfg, id, time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))

	rb := NewRollback(cfg)
	rb.TargetTag = "v1.3.2"
	rb.Initiator = "alice"
	require.NoError(t, rb.Run(context.Background(), id))

	rel, _ := cfg.Releases.Get(id)
	assert.Equal(t, release.StatusRollback, rel.Status)
	assert.Equal(t, "v1.3.2", rel.RollbackToTag)
	assert.True(t, rel.CompletedAt.IsZero(), "back in flight, the deploy completion is gone")

	require.Len(t, exec.reqs, 1)
	assert.Equal(t, id, exec.reqs[0].ReleaseID)
	assert.Equal(t, "billing", exec.reqs[0].ServiceName)
	assert.Equal(t, "v1.3.2", exec.reqs[0].TargetTag)
}

func TestRollbackRequiresAdmin(t *testing.T) {
	cfg, _, exec := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusDeployed)

	rb := NewRollback(cfg)
	rb.TargetTag = "v1.3.2"
	rb.Initiator = "bob"
	err := rb.Run(context.Background(), id)
	assert.ErrorIs(t, err, quorum.ErrNotEligible)
	assert.Empty(t, exec.reqs)

	rel, _ := cfg.Releases.Get(id)
	assert.Equal(t, release.StatusDeployed, rel.Status)
}

func TestRollbackRejectsBadTag(t *testing.T) {
	cfg, _, exec := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusDeployed)

	rb := NewRollback(cfg)
	rb.TargetTag = "latest"
	rb.Initiator = "alice"
	assert.Error(t, rb.Run(context.Background(), id))
	assert.Empty(t, exec.reqs)
}

func TestRollbackRequiresDeployed(t *testing.T) {
	cfg, _, exec := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusManualTesting)

	rb := NewRollback(cfg)
	rb.TargetTag = "v1.3.2"
	rb.Initiator = "alice"
	err := rb.Run(context.Background(), id)
	assert.ErrorIs(t, err, release.ErrInvalidTransition)
	assert.Empty(t, exec.reqs)
}

func TestRollbackCompensatesOnLaunchFailure(t *testing.T) {
	cfg, _, exec := actionConfigFixture()
	exec.err = errBoom
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusDeployed)
	done := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	deployedAt(t, cfg, id, done)

	rb := NewRollback(cfg)
	rb.TargetTag = "v1.3.2"
	rb.Initiator = "alice"
	err := rb.Run(context.Background(), id)
	assert.ErrorIs(t, err, errBoom)

	rel, _ := cfg.Releases.Get(id)
	assert.Equal(t, release.StatusDeployed, rel.Status, "launch failed before anything ran remotely")
	assert.Equal(t, "v1.3.2", rel.RollbackToTag, "the attempted target stays on the record")
	assert.Equal(t, done, rel.CompletedAt, "compensation restores the deploy completion")
}

func TestRollbackRefusedWithoutExecutor(t *testing.T) {
	cfg, _, _ := actionConfigFixture()
	cfg.Executor = nil
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusDeployed)

	rb := NewRollback(cfg)
	rb.TargetTag = "v1.3.2"
	rb.Initiator = "alice"
	err := rb.Run(context.Background(), id)
	assert.ErrorIs(t, err, rollback.ErrLaunch)

	rel, _ := cfg.Releases.Get(id)
	assert.Equal(t, release.StatusDeployed, rel.Status, "refused before any transition")
	assert.Empty(t, rel.RollbackToTag)
}
