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

package driver // import "capstan.sh/capstan/pkg/storage/driver"

import (
	"time"

	"github.com/pkg/errors"

	"capstan.sh/capstan/pkg/release"
)

var (
	// ErrReleaseNotFound indicates that a release is not found.
	ErrReleaseNotFound = errors.New("release: not found")
	// ErrReleaseExists indicates that a release with the same id already exists.
	ErrReleaseExists = errors.New("release: already exists")
)

// Update describes a partial update of a release row. Nil fields are left
// unchanged; only the fields provided are written.
type Update struct {
	Status        *release.Status
	CIRunID       *string
	CIActionLink  *string
	RollbackToTag *string
	ApprovedList  *[]string
	StartedAt     *time.Time
	CompletedAt   *time.Time

	// ClearCompletedAt resets completed_at to NULL. A release that moves
	// back into an active status has no completion to show anymore, and a
	// nil CompletedAt pointer only means "leave it alone".
	ClearCompletedAt bool
}

// Empty reports whether the update writes nothing.
func (u Update) Empty() bool {
	return u.Status == nil && u.CIRunID == nil && u.CIActionLink == nil &&
		u.RollbackToTag == nil && u.ApprovedList == nil &&
		u.StartedAt == nil && u.CompletedAt == nil && !u.ClearCompletedAt
}

// MutateFunc inspects the current row and returns the update to apply. It
// runs under the driver's per-release write lock, so the row it sees cannot
// change before the returned update lands.
type MutateFunc func(rel *release.Release) (Update, error)

// Driver is the interface all release store backends implement.
//
// All list results are ordered newest first by created_at.
type Driver interface {
	// Create inserts rel and returns its assigned id. CreatedAt is stamped
	// by the driver.
	Create(rel *release.Release) (int64, error)

	// Get returns the release with the given id, or ErrReleaseNotFound.
	Get(id int64) (*release.Release, error)

	// Update applies a partial update to the release with the given id. An
	// empty update is a no-op that still verifies the row exists.
	Update(id int64, up Update) error

	// Mutate runs fn against the current row and applies the returned
	// update atomically with respect to every other Mutate of the same
	// release. Errors from fn abort the mutation and propagate unchanged.
	Mutate(id int64, fn MutateFunc) error

	// List returns every release whose status is in statuses.
	List(statuses []release.Status) ([]*release.Release, error)

	// RecentSuccessful returns up to limit terminal-successful releases of
	// service, excluding the release with id excludeID.
	RecentSuccessful(service string, limit int, excludeID int64) ([]*release.Release, error)

	// Name returns the name of the driver.
	Name() string
}
