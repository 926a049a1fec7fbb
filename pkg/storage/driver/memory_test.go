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

package driver

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capstan.sh/capstan/pkg/release"
)

func newTestRelease(service, tag string, status release.Status, createdAt time.Time) *release.Release {
	return &release.Release{
		ServiceName:  service,
		ReleaseTag:   tag,
		Status:       status,
		InitiatedBy:  "ci",
		CIRunID:      "run-1",
		ApprovedList: []string{},
		CreatedAt:    createdAt,
	}
}

func TestMemoryCreateAssignsMonotonicIDs(t *testing.T) {
	mem := NewMemory()

	id1, err := mem.Create(newTestRelease("billing", "v1.0.0", release.StatusInitiated, time.Time{}))
	require.NoError(t, err)
	id2, err := mem.Create(newTestRelease("billing", "v1.1.0", release.StatusInitiated, time.Time{}))
	require.NoError(t, err)

	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)

	got, err := mem.Get(id1)
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", got.ReleaseTag)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMemoryGetNotFound(t *testing.T) {
	mem := NewMemory()
	_, err := mem.Get(42)
	assert.ErrorIs(t, err, ErrReleaseNotFound)
}

func TestMemoryPartialUpdate(t *testing.T) {
	mem := NewMemory()
	id, err := mem.Create(newTestRelease("billing", "v1.0.0", release.StatusInitiated, time.Time{}))
	require.NoError(t, err)

	status := release.StatusStageBuilding
	runID := "run-2"
	require.NoError(t, mem.Update(id, Update{Status: &status, CIRunID: &runID}))

	got, err := mem.Get(id)
	require.NoError(t, err)
	assert.Equal(t, release.StatusStageBuilding, got.Status)
	assert.Equal(t, "run-2", got.CIRunID)
	// untouched fields survive
	assert.Equal(t, "v1.0.0", got.ReleaseTag)
	assert.Equal(t, "ci", got.InitiatedBy)
}

func TestMemoryUpdateClearsCompletedAt(t *testing.T) {
	mem := NewMemory()
	id, err := mem.Create(newTestRelease("billing", "v1.0.0", release.StatusDeployed, time.Time{}))
	require.NoError(t, err)

	done := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, mem.Update(id, Update{CompletedAt: &done}))

	status := release.StatusRollback
	require.NoError(t, mem.Update(id, Update{Status: &status, ClearCompletedAt: true}))

	got, err := mem.Get(id)
	require.NoError(t, err)
	assert.Equal(t, release.StatusRollback, got.Status)
	assert.True(t, got.CompletedAt.IsZero())
}

func TestMemoryEmptyUpdateIsNoop(t *testing.T) {
	mem := NewMemory()
	id, err := mem.Create(newTestRelease("billing", "v1.0.0", release.StatusInitiated, time.Time{}))
	require.NoError(t, err)

	before, err := mem.Get(id)
	require.NoError(t, err)
	require.NoError(t, mem.Update(id, Update{}))
	after, err := mem.Get(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	assert.ErrorIs(t, mem.Update(404, Update{}), ErrReleaseNotFound)
}

func TestMemoryMutateSerializesConcurrentAppends(t *testing.T) {
	mem := NewMemory()
	rel := newTestRelease("billing", "v1.0.0", release.StatusManualTesting, time.Time{})
	id, err := mem.Create(rel)
	require.NoError(t, err)

	approvers := []string{"alice", "bob", "carol", "dave"}
	var wg sync.WaitGroup
	for _, who := range approvers {
		who := who
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mem.Mutate(id, func(cur *release.Release) (Update, error) {
				list := append(append([]string(nil), cur.ApprovedList...), who)
				return Update{ApprovedList: &list}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := mem.Get(id)
	require.NoError(t, err)
	assert.ElementsMatch(t, approvers, got.ApprovedList)
}

func TestMemoryMutateErrorAborts(t *testing.T) {
	mem := NewMemory()
	id, err := mem.Create(newTestRelease("billing", "v1.0.0", release.StatusInitiated, time.Time{}))
	require.NoError(t, err)

	sentinel := assert.AnError
	status := release.StatusDeployed
	err = mem.Mutate(id, func(cur *release.Release) (Update, error) {
		return Update{Status: &status}, sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	got, err := mem.Get(id)
	require.NoError(t, err)
	assert.Equal(t, release.StatusInitiated, got.Status)
}

func TestMemoryListOrdersNewestFirst(t *testing.T) {
	mem := NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := mem.Create(newTestRelease("billing", "v1.0.0", release.StatusDeployed, base))
	require.NoError(t, err)
	_, err = mem.Create(newTestRelease("billing", "v1.1.0", release.StatusDeployed, base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = mem.Create(newTestRelease("billing", "v1.2.0", release.StatusManualTesting, base.Add(2*time.Hour)))
	require.NoError(t, err)

	successful, err := mem.List(release.SuccessfulStatuses())
	require.NoError(t, err)
	require.Len(t, successful, 2)
	assert.Equal(t, "v1.1.0", successful[0].ReleaseTag)
	assert.Equal(t, "v1.0.0", successful[1].ReleaseTag)

	active, err := mem.List(release.ActiveStatuses())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "v1.2.0", active[0].ReleaseTag)
}

func TestMemoryRecentSuccessful(t *testing.T) {
	mem := NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var deployedIDs []int64
	for i, tag := range []string{"v1.0.0", "v1.1.0", "v1.2.0", "v1.3.0"} {
		id, err := mem.Create(newTestRelease("billing", tag, release.StatusDeployed, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		deployedIDs = append(deployedIDs, id)
	}
	// other service and non-successful rows must never show up
	_, err := mem.Create(newTestRelease("ledger", "v9.0.0", release.StatusDeployed, base.Add(10*time.Hour)))
	require.NoError(t, err)
	_, err = mem.Create(newTestRelease("billing", "v1.4.0", release.StatusProductionFailed, base.Add(11*time.Hour)))
	require.NoError(t, err)

	exclude := deployedIDs[3]
	got, err := mem.RecentSuccessful("billing", 3, exclude)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "v1.2.0", got[0].ReleaseTag)
	assert.Equal(t, "v1.1.0", got[1].ReleaseTag)
	assert.Equal(t, "v1.0.0", got[2].ReleaseTag)
	for _, rel := range got {
		assert.NotEqual(t, exclude, rel.ID)
		assert.Equal(t, "billing", rel.ServiceName)
	}
}
