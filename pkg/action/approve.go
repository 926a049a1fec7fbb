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

	"capstan.sh/capstan/pkg/ci"
	"capstan.sh/capstan/pkg/quorum"
	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/storage/driver"
)

// Approve is the action for one approval attempt on a release in the
// quorum window.
type Approve struct {
	cfg *Configuration
}

// NewApprove creates a new Approve object with the given configuration.
func NewApprove(cfg *Configuration) *Approve {
	return &Approve{cfg: cfg}
}

// Run records the approval by approver on the release with the given id.
//
// Admission runs inside the store's per-release lock, so two concurrent
// approvals cannot lose an entry and at most one call observes the quorum
// closing. The closing call also transitions to MANUAL_TEST_PASSED in the
// same write, then dispatches the deploy workflow. If the dispatch fails
// the state keeps MANUAL_TEST_PASSED and the error surfaces to the caller;
// TriggerDeploy is the explicit retry.
func (a *Approve) Run(ctx context.Context, id int64, approver string) (quorum.Decision, error) {
	var decision quorum.Decision
	var svc, tag string

	err := a.cfg.Releases.Mutate(id, func(cur *release.Release) (driver.Update, error) {
		d, err := a.cfg.Policy.Decide(cur, approver)
		if err != nil {
			return driver.Update{}, err
		}
		decision = d
		svc, tag = cur.ServiceName, cur.ReleaseTag

		list := append(append([]string(nil), cur.ApprovedList...), approver)
		up := driver.Update{ApprovedList: &list}
		if d == quorum.Final {
			passed := release.StatusManualTestPassed
			up.Status = &passed
		}
		return up, nil
	})
	if err != nil {
		return decision, err
	}

	a.cfg.Log("release %d approved by %s (%s)", id, approver, decision)
	if decision != quorum.Final {
		return decision, nil
	}

	err = a.cfg.CI.TriggerWorkflow(ctx, a.cfg.CIOwner, svc, ci.DeployWorkflowID, "", map[string]string{
		"release_id":  strconv.FormatInt(id, 10),
		"release_tag": tag,
	})
	if err != nil {
		// the quorum closure is committed; the operator retries the
		// dispatch explicitly
		a.cfg.Log("deploy dispatch for release %d failed: %v", id, err)
		return decision, err
	}
	return decision, nil
}
