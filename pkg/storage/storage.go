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

package storage // import "capstan.sh/capstan/pkg/storage"

import (
	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/storage/driver"
)

// Storage is the release store. It is the only source of truth for release
// state; the engine never caches releases in memory.
type Storage struct {
	drv driver.Driver

	Log func(string, ...interface{})
}

// Init initializes a new storage backed by the given driver. A nil driver
// falls back to the in-memory driver.
func Init(drv driver.Driver) *Storage {
	if drv == nil {
		drv = driver.NewMemory()
	}
	return &Storage{drv: drv, Log: func(string, ...interface{}) {}}
}

// Create inserts a new release and returns its id.
func (st *Storage) Create(rel *release.Release) (int64, error) {
	st.Log("creating release of %s tag %s", rel.ServiceName, rel.ReleaseTag)
	return st.drv.Create(rel)
}

// Get returns the release with the given id.
func (st *Storage) Get(id int64) (*release.Release, error) {
	return st.drv.Get(id)
}

// Update applies a partial update to the release with the given id.
func (st *Storage) Update(id int64, up driver.Update) error {
	st.Log("updating release %d", id)
	return st.drv.Update(id, up)
}

// Mutate runs fn against the current row under the driver's per-release
// write lock and applies the returned update atomically. All engine writes
// that depend on current state go through here.
func (st *Storage) Mutate(id int64, fn driver.MutateFunc) error {
	return st.drv.Mutate(id, fn)
}

// Active returns the releases in the active bucket, newest first.
func (st *Storage) Active() ([]*release.Release, error) {
	return st.drv.List(release.ActiveStatuses())
}

// Successful returns the releases in the terminal-successful bucket, newest first.
func (st *Storage) Successful() ([]*release.Release, error) {
	return st.drv.List(release.SuccessfulStatuses())
}

// Failed returns the releases in the terminal-failed bucket, newest first.
func (st *Storage) Failed() ([]*release.Release, error) {
	return st.drv.List(release.FailedStatuses())
}

// RecentSuccessful returns up to limit terminal-successful releases of
// service excluding excludeID. The rollback-target picker uses it with
// limit 3.
func (st *Storage) RecentSuccessful(service string, limit int, excludeID int64) ([]*release.Release, error) {
	return st.drv.RecentSuccessful(service, limit, excludeID)
}
