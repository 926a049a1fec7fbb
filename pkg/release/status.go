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

import "github.com/pkg/errors"

// Status is the status of a release.
//
// The value is the exact token stored in the database and accepted on the
// wire by the intake API.
type Status string

const (
	// StatusInitiated indicates that CI accepted the release but the stage
	// build has not been reported yet.
	StatusInitiated Status = "initiated"
	// StatusStageBuilding indicates that the stage build is running.
	StatusStageBuilding Status = "stage_building"
	// StatusStageBuildingFailed indicates that the stage build failed.
	StatusStageBuildingFailed Status = "stage_building_failed"
	// StatusStageTestRollback indicates that CI is rehearsing a rollback on stage.
	StatusStageTestRollback Status = "stage_test_rollback"
	// StatusStageRollbackTestFailed indicates that the stage rollback rehearsal failed.
	StatusStageRollbackTestFailed Status = "stage_test_rollback_failed"
	// StatusManualTesting indicates that the approval quorum window is open.
	StatusManualTesting Status = "manual_testing"
	// StatusManualTestPassed indicates that the quorum is met and CI has been signaled.
	StatusManualTestPassed Status = "manual_test_passed"
	// StatusManualTestFailed indicates that an approver rejected the release.
	StatusManualTestFailed Status = "manual_test_failed"
	// StatusDeploying indicates that CI is deploying to production.
	StatusDeploying Status = "deploying"
	// StatusDeployed indicates that the release reached production.
	StatusDeployed Status = "deployed"
	// StatusProductionFailed indicates that the production deploy failed.
	StatusProductionFailed Status = "production_failed"
	// StatusRollback indicates that an operator-initiated rollback is in progress.
	StatusRollback Status = "production_rollback"
	// StatusRollbackDone indicates that the rollback completed successfully.
	StatusRollbackDone Status = "rollback_done"
	// StatusRollbackFailed indicates that the rollback failed.
	StatusRollbackFailed Status = "rollback_failed"
)

// ErrInvalidTransition indicates a status change along an edge the state
// machine does not have. Requests that hit it must never be retried.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the full edge table of the release state machine. A status
// missing from the map is terminal.
var transitions = map[Status][]Status{
	StatusInitiated:         {StatusStageBuilding},
	StatusStageBuilding:     {StatusStageBuildingFailed, StatusStageTestRollback},
	StatusStageTestRollback: {StatusStageRollbackTestFailed, StatusManualTesting},
	StatusManualTesting:     {StatusManualTestPassed, StatusManualTestFailed},
	StatusManualTestPassed:  {StatusDeploying},
	StatusDeploying:         {StatusDeployed, StatusProductionFailed},
	StatusDeployed:          {StatusRollback},
	StatusRollback:          {StatusRollbackDone, StatusRollbackFailed},
}

func (x Status) String() string { return string(x) }

// Valid reports whether x is one of the known status tokens.
func (x Status) Valid() bool {
	switch x {
	case StatusInitiated, StatusStageBuilding, StatusStageBuildingFailed,
		StatusStageTestRollback, StatusStageRollbackTestFailed,
		StatusManualTesting, StatusManualTestPassed, StatusManualTestFailed,
		StatusDeploying, StatusDeployed, StatusProductionFailed,
		StatusRollback, StatusRollbackDone, StatusRollbackFailed:
		return true
	}
	return false
}

// CanTransition reports whether the edge x -> next exists.
func (x Status) CanTransition(next Status) bool {
	for _, s := range transitions[x] {
		if s == next {
			return true
		}
	}
	return false
}

// Successful reports whether x is in the terminal-successful bucket.
func (x Status) Successful() bool {
	return x == StatusDeployed || x == StatusRollbackDone
}

// Failed reports whether x is in the terminal-failed bucket.
func (x Status) Failed() bool {
	switch x {
	case StatusStageBuildingFailed, StatusStageRollbackTestFailed,
		StatusManualTestFailed, StatusProductionFailed, StatusRollbackFailed:
		return true
	}
	return false
}

// Terminal reports whether x is a resting state. DEPLOYED still has the
// operator-initiated rollback edge but counts as terminal for audit
// timestamps and immutability.
func (x Status) Terminal() bool {
	return x.Successful() || x.Failed()
}

// Active reports whether x is neither terminal-successful nor terminal-failed.
func (x Status) Active() bool {
	return x.Valid() && !x.Terminal()
}

// ActiveStatuses returns every status in the active bucket, in lifecycle order.
func ActiveStatuses() []Status {
	return []Status{
		StatusInitiated,
		StatusStageBuilding,
		StatusStageTestRollback,
		StatusManualTesting,
		StatusManualTestPassed,
		StatusDeploying,
		StatusRollback,
	}
}

// SuccessfulStatuses returns every status in the terminal-successful bucket.
func SuccessfulStatuses() []Status {
	return []Status{StatusDeployed, StatusRollbackDone}
}

// FailedStatuses returns every status in the terminal-failed bucket.
func FailedStatuses() []Status {
	return []Status{
		StatusStageBuildingFailed,
		StatusStageRollbackTestFailed,
		StatusManualTestFailed,
		StatusProductionFailed,
		StatusRollbackFailed,
	}
}
