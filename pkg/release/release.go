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

package release

import "time"

// Release is one attempt to move a service to a specific version.
//
// Releases are created by the engine on an intake event and mutated only by
// the engine. Terminal rows are never deleted; they remain for audit and for
// the rollback-target picker.
type Release struct {
	// ID is assigned by the store, monotonically increasing.
	ID int64 `json:"id"`
	// ServiceName names the deployable unit.
	ServiceName string `json:"service_name"`
	// ReleaseTag is the version this release proposes.
	ReleaseTag string `json:"release_tag"`
	// RollbackToTag is empty until a rollback is issued, then holds the
	// version the service is being moved back to.
	RollbackToTag string `json:"rollback_to_tag"`
	Status        Status `json:"status"`

	// InitiatedBy is the identity that started the release.
	InitiatedBy string `json:"initiated_by"`
	// CIRunID, CIActionLink and CIRef are provenance back to the CI run.
	CIRunID      string `json:"ci_run_id"`
	CIActionLink string `json:"ci_action_link"`
	CIRef        string `json:"ci_ref"`
	// ApprovedList holds the approver identities that confirmed this
	// release, in insertion order. Membership is what matters; the order is
	// kept for audit only.
	ApprovedList []string `json:"approved_list"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ApprovedBy reports whether who already appears in ApprovedList.
func (r *Release) ApprovedBy(who string) bool {
	for _, a := range r.ApprovedList {
		if a == who {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r. Drivers hand out clones so callers cannot
// mutate stored state behind the store's back.
func (r *Release) Clone() *Release {
	c := *r
	if r.ApprovedList != nil {
		c.ApprovedList = make([]string, len(r.ApprovedList))
		copy(c.ApprovedList, r.ApprovedList)
	}
	return &c
}
