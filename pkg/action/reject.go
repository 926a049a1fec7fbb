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

	"capstan.sh/capstan/pkg/quorum"
	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/storage/driver"
)

// Reject is the action for rejecting a release in the quorum window. A
// single eligible rejection closes the window as MANUAL_TEST_FAILED; CI is
// not notified and observes the terminal state on its own.
type Reject struct {
	cfg *Configuration
}

// NewReject creates a new Reject object with the given configuration.
func NewReject(cfg *Configuration) *Reject {
	return &Reject{cfg: cfg}
}

// Run records the rejection by rejector on the release with the given id.
func (r *Reject) Run(id int64, rejector string) error {
	err := r.cfg.Releases.Mutate(id, func(cur *release.Release) (driver.Update, error) {
		if cur.Status != release.StatusManualTesting {
			return driver.Update{}, errors.Wrapf(quorum.ErrNotInQuorumWindow,
				"release %d is %s", id, cur.Status)
		}
		if !r.cfg.Policy.Eligible(rejector) {
			return driver.Update{}, errors.Wrapf(quorum.ErrNotEligible, "rejector %q", rejector)
		}

		failed := release.StatusManualTestFailed
		now := Timestamper()
		return driver.Update{Status: &failed, CompletedAt: &now}, nil
	})
	if err != nil {
		return err
	}
	r.cfg.Log("release %d rejected by %s", id, rejector)
	return nil
}
