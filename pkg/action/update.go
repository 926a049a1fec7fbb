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
	"github.com/pkg/errors"

	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/storage/driver"
)

// Update is the action for a partial update of a release, driven by CI
// progress callbacks (and by the rollback plan running on the production
// host). Only the fields set on the struct are written.
type Update struct {
	cfg *Configuration

	Status        *release.Status
	CIRunID       *string
	CIActionLink  *string
	RollbackToTag *string
}

// NewUpdate creates a new Update object with the given configuration.
func NewUpdate(cfg *Configuration) *Update {
	return &Update{cfg: cfg}
}

// Run applies the update to the release with the given id.
//
// A status change must follow a legal edge; a same-status update is a
// no-op, which is what makes CI progress callbacks safely retryable. On a
// transition into STAGE_BUILDING the started_at audit timestamp is stamped;
// on a transition into any terminal state, completed_at. Moving out of a
// terminal state clears completed_at again.
func (u *Update) Run(id int64) error {
	if u.Status != nil && !u.Status.Valid() {
		return errors.Wrapf(release.ErrInvalidTransition, "unknown status %q", *u.Status)
	}

	return u.cfg.Releases.Mutate(id, func(cur *release.Release) (driver.Update, error) {
		up := driver.Update{
			CIRunID:       u.CIRunID,
			CIActionLink:  u.CIActionLink,
			RollbackToTag: u.RollbackToTag,
		}
		if u.Status == nil {
			return up, nil
		}

		next := *u.Status
		if next == cur.Status {
			// repeated delivery of the same progress event
			return up, nil
		}
		if !cur.Status.CanTransition(next) {
			return driver.Update{}, errors.Wrapf(release.ErrInvalidTransition,
				"release %d: %s -> %s", id, cur.Status, next)
		}
		up.Status = &next

		now := Timestamper()
		if next == release.StatusStageBuilding {
			up.StartedAt = &now
		}
		if next.Terminal() {
			up.CompletedAt = &now
		} else if !cur.CompletedAt.IsZero() {
			// back into the pipeline, the old completion no longer holds
			up.ClearCompletedAt = true
		}
		u.cfg.Log("release %d moved %s -> %s", id, cur.Status, next)
		return up, nil
	})
}
