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

package quorum

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"capstan.sh/capstan/pkg/release"
)

var testPolicy = Policy{
	Approvers: []string{"alice", "bob"},
	Admins:    []string{"alice"},
}

func inWindow(approved ...string) *release.Release {
	return &release.Release{ID: 1, Status: release.StatusManualTesting, ApprovedList: approved}
}

func TestDecideOutsideWindow(t *testing.T) {
	for _, status := range []release.Status{
		release.StatusInitiated,
		release.StatusStageBuilding,
		release.StatusManualTestPassed,
		release.StatusDeployed,
		release.StatusRollback,
	} {
		rel := &release.Release{ID: 1, Status: status}
		_, err := testPolicy.Decide(rel, "alice")
		assert.ErrorIs(t, err, ErrNotInQuorumWindow, "status %s", status)
	}
}

func TestDecideNotEligible(t *testing.T) {
	_, err := testPolicy.Decide(inWindow(), "mallory")
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestDecideAlreadyApproved(t *testing.T) {
	_, err := testPolicy.Decide(inWindow("alice"), "alice")
	assert.ErrorIs(t, err, ErrAlreadyApproved)
}

func TestDecideNotFinalThenFinal(t *testing.T) {
	d, err := testPolicy.Decide(inWindow(), "alice")
	assert.NoError(t, err)
	assert.Equal(t, NotFinal, d)

	d, err = testPolicy.Decide(inWindow("alice"), "bob")
	assert.NoError(t, err)
	assert.Equal(t, Final, d)
}

func TestDecideSingleApproverIsImmediatelyFinal(t *testing.T) {
	solo := Policy{Approvers: []string{"alice"}}
	d, err := solo.Decide(inWindow(), "alice")
	assert.NoError(t, err)
	assert.Equal(t, Final, d)
}

func TestEligibleAndAdmin(t *testing.T) {
	assert.True(t, testPolicy.Eligible("alice"))
	assert.False(t, testPolicy.Eligible("mallory"))
	assert.True(t, testPolicy.Admin("alice"))
	assert.False(t, testPolicy.Admin("bob"))
}
