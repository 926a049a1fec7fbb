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

// Package quorum decides whether an approval attempt on a release is
// admitted and whether it closes the approval window. It is pure decision
// logic; the engine drives the side effects.
package quorum

import (
	"github.com/pkg/errors"

	"capstan.sh/capstan/pkg/release"
)

var (
	// ErrNotInQuorumWindow indicates the release is not in MANUAL_TESTING.
	ErrNotInQuorumWindow = errors.New("quorum: release is not in the approval window")
	// ErrNotEligible indicates the identity is not a required approver.
	ErrNotEligible = errors.New("quorum: identity is not a required approver")
	// ErrAlreadyApproved indicates the identity already approved this release.
	ErrAlreadyApproved = errors.New("quorum: identity already approved this release")
)

// Decision is the outcome of an admitted approval.
type Decision int

const (
	// NotFinal means the approval was recorded but the quorum is still open.
	NotFinal Decision = iota
	// Final means this approval closes the quorum.
	Final
)

func (d Decision) String() string {
	if d == Final {
		return "accepted-final"
	}
	return "accepted-not-final"
}

// Policy is the process-wide approval policy: the identities whose approval
// is required for every release, and the admins with rollback authority.
// It is configured once at startup and never mutated.
type Policy struct {
	Approvers []string
	Admins    []string
}

// Eligible reports whether who is a required approver.
func (p Policy) Eligible(who string) bool { return contains(p.Approvers, who) }

// Admin reports whether who has rollback authority.
func (p Policy) Admin(who string) bool { return contains(p.Admins, who) }

// Decide admits or rejects an approval attempt by who on rel.
//
// The checks run in a fixed order: quorum window, eligibility, duplication.
// When admitted, the decision is Final iff this approval brings the approved
// set up to the full approver set.
func (p Policy) Decide(rel *release.Release, who string) (Decision, error) {
	if rel.Status != release.StatusManualTesting {
		return NotFinal, errors.Wrapf(ErrNotInQuorumWindow, "release %d is %s", rel.ID, rel.Status)
	}
	if !p.Eligible(who) {
		return NotFinal, errors.Wrapf(ErrNotEligible, "approver %q", who)
	}
	if rel.ApprovedBy(who) {
		return NotFinal, errors.Wrapf(ErrAlreadyApproved, "approver %q", who)
	}
	if len(rel.ApprovedList)+1 >= len(p.Approvers) {
		return Final, nil
	}
	return NotFinal, nil
}

func contains(set []string, who string) bool {
	for _, s := range set {
		if s == who {
			return true
		}
	}
	return false
}
