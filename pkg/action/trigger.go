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
	"strconv"

	"github.com/pkg/errors"

	"capstan.sh/capstan/pkg/ci"
	"capstan.sh/capstan/pkg/release"
)

// TriggerDeploy is the action for re-dispatching the deploy workflow of a
// release whose quorum already closed. It is the manual recovery path for a
// dispatch that failed inside Approve.
type TriggerDeploy struct {
	cfg *Configuration
}

// NewTriggerDeploy creates a new TriggerDeploy object with the given
// configuration.
func NewTriggerDeploy(cfg *Configuration) *TriggerDeploy {
	return &TriggerDeploy{cfg: cfg}
}

// Run dispatches the deploy workflow for the release with the given id. The
// release must be sitting in MANUAL_TEST_PASSED; anywhere else the deploy
// either is not earned yet or already ran.
func (t *TriggerDeploy) Run(ctx context.Context, id int64) error {
	rel, err := t.cfg.Releases.Get(id)
	if err != nil {
		return err
	}
	if rel.Status != release.StatusManualTestPassed {
		return errors.Wrapf(release.ErrInvalidTransition,
			"release %d is %s, deploy can only be dispatched from %s",
			id, rel.Status, release.StatusManualTestPassed)
	}

	err = t.cfg.CI.TriggerWorkflow(ctx, t.cfg.CIOwner, rel.ServiceName, ci.DeployWorkflowID, "", map[string]string{
		"release_id":  strconv.FormatInt(id, 10),
		"release_tag": rel.ReleaseTag,
	})
	if err != nil {
		return err
	}
	t.cfg.Log("deploy workflow dispatched for release %d (%s %s)", id, rel.ServiceName, rel.ReleaseTag)
	return nil
}
