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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capstan.sh/capstan/pkg/quorum"
	"capstan.sh/capstan/pkg/release"
)

func step(t *testing.T, cfg *Configuration, id int64, next release.Status) {
	t.Helper()
	u := NewUpdate(cfg)
	u.Status = &next
	require.NoError(t, u.Run(id))
}

// The full walk from creation to a deployed release.
func TestReleaseLifecycle(t *testing.T) {
	cfg, disp, _ := actionConfigFixture()
	ctx := context.Background()

	c := NewCreate(cfg)
	c.ServiceName = "billing"
	c.ReleaseTag = "v1.4.0"
	c.InitiatedBy = "carol"
	id, err := c.Run()
	require.NoError(t, err)

	step(t, cfg, id, release.StatusStageBuilding)
	step(t, cfg, id, release.StatusStageTestRollback)
	step(t, cfg, id, release.StatusManualTesting)

	d, err := NewApprove(cfg).Run(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, quorum.NotFinal, d)

	d, err = NewApprove(cfg).Run(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, quorum.Final, d)
	assert.Equal(t, 1, disp.callCount())

	step(t, cfg, id, release.StatusDeploying)
	step(t, cfg, id, release.StatusDeployed)

	rel, err := cfg.Releases.Get(id)
	require.NoError(t, err)
	assert.Equal(t, release.StatusDeployed, rel.Status)
	assert.True(t, rel.Status.Successful())
	assert.ElementsMatch(t, []string{"alice", "bob"}, rel.ApprovedList)
	assert.False(t, rel.StartedAt.IsZero())
	assert.False(t, rel.CompletedAt.IsZero())
}

// Two simultaneous approvals by the same approver: exactly one lands, the
// other sees the duplicate, the list holds the approver once.
func TestApproveSameApproverRace(t *testing.T) {
	cfg, _, _ := actionConfigFixture()
	id := createRelease(cfg, "billing", "v1.4.0", release.StatusManualTesting)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = NewApprove(cfg).Run(context.Background(), id, "alice")
		}(i)
	}
	wg.Wait()

	var dups, oks int
	for _, err := range errs {
		switch {
		case err == nil:
			oks++
		case errors.Is(err, quorum.ErrAlreadyApproved):
			dups++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, oks)
	assert.Equal(t, 1, dups)

	rel, _ := cfg.Releases.Get(id)
	assert.Equal(t, []string{"alice"}, rel.ApprovedList)
}
