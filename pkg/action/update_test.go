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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/storage/driver"
)

func TestUpdateStatusProgress(t *testing.T) {
	cfg, _, _ := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusInitiated)

	u := NewUpdate(cfg)
	next := release.StatusStageBuilding
	runID := "900200"
	u.Status = &next
	u.CIRunID = &runID
	require.NoError(t, u.Run(id))

	rel, err := cfg.Releases.Get(id)
	require.NoError(t, err)
	assert.Equal(t, release.StatusStageBuilding, rel.Status)
	assert.Equal(t, "900200", rel.CIRunID)
	assert.False(t, rel.StartedAt.IsZero(), "entering the build stamps started_at")
}

func TestUpdateIllegalTransition(t *testing.T) {
	cfg, _, _ := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusInitiated)

	u := NewUpdate(cfg)
	next := release.StatusDeployed
	u.Status = &next
	err := u.Run(id)
	assert.ErrorIs(t, err, release.ErrInvalidTransition)

	rel, _ := cfg.Releases.Get(id)
	assert.Equal(t, release.StatusInitiated, rel.Status)
}

func TestUpdateSameStatusIsNoOp(t *testing.T) {
	cfg, _, _ := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusStageBuilding)

	u := NewUpdate(cfg)
	same := release.StatusStageBuilding
	link := "https://ci.example.com/runs/900200"
	u.Status = &same
	u.CIActionLink = &link
	require.NoError(t, u.Run(id))

	rel, _ := cfg.Releases.Get(id)
	assert.Equal(t, release.StatusStageBuilding, rel.Status)
	assert.Equal(t, link, rel.CIActionLink, "non-status fields still land on a repeated event")
}

func TestUpdateUnknownStatusToken(t *testing.T) {
	cfg, _, _ := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusInitiated)

	u := NewUpdate(cfg)
	bogus := release.Status("warp_speed")
	u.Status = &bogus
	assert.ErrorIs(t, u.Run(id), release.ErrInvalidTransition)
}

func TestUpdateTerminalStampsCompletedAt(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	defer fixedTimestamper(now)()

	cfg, _, _ := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusDeploying)

	u := NewUpdate(cfg)
	done := release.StatusDeployed
	u.Status = &done
	require.NoError(t, u.Run(id))

	rel, _ := cfg.Releases.Get(id)
	assert.Equal(t, now, rel.CompletedAt)
}

func TestUpdateReentryClearsCompletedAt(t *testing.T) {
	cfg, _, _ := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusDeployed)
	done := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cfg.Releases.Update(id, driver.Update{CompletedAt: &done}))

	u := NewUpdate(cfg)
	next := release.StatusRollback
	u.Status = &next
	require.NoError(t, u.Run(id))

	rel, _ := cfg.Releases.Get(id)
	assert.Equal(t, release.StatusRollback, rel.Status)
	assert.True(t, rel.CompletedAt.IsZero(), "an active release shows no completion")
}

func TestUpdateEmptyIsAccepted(t *testing.T) {
	cfg, _, _ := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusInitiated)

	assert.NoError(t, NewUpdate(cfg).Run(id))
}
