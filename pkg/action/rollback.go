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
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"capstan.sh/capstan/pkg/quorum"
	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/rollback"
	"capstan.sh/capstan/pkg/storage/driver"
)

// Rollback is the action for rolling a deployed release's service back to
// an earlier tag on the production host.
//
// It provides the engine side only: the transition into ROLLBACK and the
// plan launch. Completion arrives later as intake PATCHes from the running
// plan.
type Rollback struct {
	cfg *Configuration

	TargetTag string
	Initiator string
}

// NewRollback creates a new Rollback object with the given configuration.
func NewRollback(cfg *Configuration) *Rollback {
	return &Rollback{cfg: cfg}
}

// Run transitions the release DEPLOYED -> ROLLBACK, records the target tag,
// and launches the remote plan. It returns once the plan is started, not
// when the rollback finishes.
//
// If the launch fails, nothing has run remotely, so the transition is
// compensated back to DEPLOYED and ErrLaunch surfaces. Should the
// compensating write itself fail, the release stays in ROLLBACK and the
// returned error says so.
func (r *Rollback) Run(ctx context.Context, id int64) error {
	if !r.cfg.Policy.Admin(r.Initiator) {
		return errors.Wrapf(quorum.ErrNotEligible, "initiator %q lacks rollback authority", r.Initiator)
	}
	if _, err := semver.NewVersion(r.TargetTag); err != nil {
		return errors.Wrapf(err, "rollback: target tag %q is not a version", r.TargetTag)
	}
	// refuse before touching the release: a deployment without a production
	// host has nothing to launch the plan on
	if r.cfg.Executor == nil {
		return errors.Wrap(rollback.ErrLaunch, "no rollback executor configured")
	}

	var (
		svc           string
		prevCompleted time.Time
	)
	err := r.cfg.Releases.Mutate(id, func(cur *release.Release) (driver.Update, error) {
		// refuses a second rollback of the same release while one is in
		// flight or after one has finished
		if !cur.Status.CanTransition(release.StatusRollback) {
			return driver.Update{}, errors.Wrapf(release.ErrInvalidTransition,
				"release %d: %s -> %s", id, cur.Status, release.StatusRollback)
		}
		svc = cur.ServiceName
		prevCompleted = cur.CompletedAt
		rb := release.StatusRollback
		tag := r.TargetTag
		// the release is back in flight, the deploy completion no longer holds
		return driver.Update{Status: &rb, RollbackToTag: &tag, ClearCompletedAt: true}, nil
	})
	if err != nil {
		return err
	}
	r.cfg.Log("release %d entering rollback to %s, launching plan", id, r.TargetTag)

	launchErr := r.cfg.Executor.Launch(ctx, rollback.Request{
		ReleaseID:   id,
		ServiceName: svc,
		TargetTag:   r.TargetTag,
	})
	if launchErr == nil {
		return nil
	}

	// compensate: the plan never started, so the release is still deployed
	deployed := release.StatusDeployed
	comp := driver.Update{Status: &deployed}
	if !prevCompleted.IsZero() {
		comp.CompletedAt = &prevCompleted
	}
	if compErr := r.cfg.Releases.Update(id, comp); compErr != nil {
		return errors.Wrapf(launchErr, "release %d stuck in %s, compensation failed: %v",
			id, release.StatusRollback, compErr)
	}
	return launchErr
}
