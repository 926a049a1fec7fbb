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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capstan.sh/capstan/pkg/release"
)

func TestListBuckets(t *testing.T) {
	cfg, _, _ := actionConfigFixture()
	active := createRelease(cfg, "billing", "v1.4.0", release.StatusManualTesting)
	good := createRelease(cfg, "billing", "v1.3.0", release.StatusDeployed)
	bad := createRelease(cfg, "billing", "v1.2.0", release.StatusStageBuildingFailed)

	l := NewList(cfg)
	rels, err := l.Run()
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, active, rels[0].ID)

	l.Bucket = BucketSuccessful
	rels, err = l.Run()
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, good, rels[0].ID)

	l.Bucket = BucketFailed
	rels, err = l.Run()
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, bad, rels[0].ID)

	l.Bucket = Bucket("everything")
	_, err = l.Run()
	assert.Error(t, err)
}

func TestListRollbackTargets(t *testing.T) {
	cfg, _, _ := actionConfigFixture()
	createRelease(cfg, "billing", "v1.1.0", release.StatusDeployed)
	createRelease(cfg, "billing", "v1.2.0", release.StatusDeployed)
	createRelease(cfg, "search", "v5.0.0", release.StatusDeployed)
	cur := createRelease(cfg, "billing", "v1.3.0", release.StatusDeployed)

	targets, err := NewList(cfg).RollbackTargets(cur, 3)
	require.NoError(t, err)
	require.Len(t, targets, 2, "the release itself and other services are excluded")
	for _, rel := range targets {
		assert.Equal(t, "billing", rel.ServiceName)
		assert.NotEqual(t, cur, rel.ID)
	}
}
