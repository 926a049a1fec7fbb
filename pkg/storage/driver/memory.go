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

package driver

import (
	"sort"
	"sync"
	"time"

	"capstan.sh/capstan/pkg/release"
)

var _ Driver = (*Memory)(nil)

// MemoryDriverName is the string name of this driver.
const MemoryDriverName = "Memory"

// Memory is an in-memory release store driver. It is used in tests and for
// local development; behavior mirrors the SQL driver.
type Memory struct {
	sync.Mutex
	nextID   int64
	releases map[int64]*release.Release
}

// NewMemory initializes a new memory driver.
func NewMemory() *Memory {
	return &Memory{nextID: 1, releases: map[int64]*release.Release{}}
}

// Name returns the name of the driver.
func (m *Memory) Name() string { return MemoryDriverName }

// Create inserts the release and assigns its id and creation timestamp.
func (m *Memory) Create(rel *release.Release) (int64, error) {
	m.Lock()
	defer m.Unlock()

	stored := rel.Clone()
	stored.ID = m.nextID
	m.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.ApprovedList == nil {
		stored.ApprovedList = []string{}
	}
	m.releases[stored.ID] = stored

	rel.ID = stored.ID
	rel.CreatedAt = stored.CreatedAt
	return stored.ID, nil
}

// Get returns the release with the given id.
func (m *Memory) Get(id int64) (*release.Release, error) {
	m.Lock()
	defer m.Unlock()

	rel, ok := m.releases[id]
	if !ok {
		return nil, ErrReleaseNotFound
	}
	return rel.Clone(), nil
}

// Update applies a partial update to the release with the given id.
func (m *Memory) Update(id int64, up Update) error {
	m.Lock()
	defer m.Unlock()
	return m.apply(id, up)
}

// Mutate runs fn under the store lock and applies the returned update. Two
// concurrent Mutate calls on the same release are fully serialized.
func (m *Memory) Mutate(id int64, fn MutateFunc) error {
	m.Lock()
	defer m.Unlock()

	rel, ok := m.releases[id]
	if !ok {
		return ErrReleaseNotFound
	}
	up, err := fn(rel.Clone())
	if err != nil {
		return err
	}
	return m.apply(id, up)
}

// apply writes up to the stored row. Callers must hold the lock.
func (m *Memory) apply(id int64, up Update) error {
	rel, ok := m.releases[id]
	if !ok {
		return ErrReleaseNotFound
	}
	if up.Status != nil {
		rel.Status = *up.Status
	}
	if up.CIRunID != nil {
		rel.CIRunID = *up.CIRunID
	}
	if up.CIActionLink != nil {
		rel.CIActionLink = *up.CIActionLink
	}
	if up.RollbackToTag != nil {
		rel.RollbackToTag = *up.RollbackToTag
	}
	if up.ApprovedList != nil {
		rel.ApprovedList = append([]string(nil), (*up.ApprovedList)...)
	}
	if up.StartedAt != nil {
		rel.StartedAt = *up.StartedAt
	}
	if up.CompletedAt != nil {
		rel.CompletedAt = *up.CompletedAt
	}
	if up.ClearCompletedAt {
		rel.CompletedAt = time.Time{}
	}
	return nil
}

// List returns every release whose status is in statuses, newest first.
func (m *Memory) List(statuses []release.Status) ([]*release.Release, error) {
	m.Lock()
	defer m.Unlock()

	want := map[release.Status]struct{}{}
	for _, s := range statuses {
		want[s] = struct{}{}
	}

	var out []*release.Release
	for _, rel := range m.releases {
		if _, ok := want[rel.Status]; ok {
			out = append(out, rel.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// RecentSuccessful returns up to limit terminal-successful releases of
// service, excluding excludeID, newest first.
func (m *Memory) RecentSuccessful(service string, limit int, excludeID int64) ([]*release.Release, error) {
	m.Lock()
	defer m.Unlock()

	var out []*release.Release
	for _, rel := range m.releases {
		if rel.ServiceName != service || rel.ID == excludeID {
			continue
		}
		if !rel.Status.Successful() {
			continue
		}
		out = append(out, rel.Clone())
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(rels []*release.Release) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].CreatedAt.Equal(rels[j].CreatedAt) {
			return rels[i].ID > rels[j].ID
		}
		return rels[i].CreatedAt.After(rels[j].CreatedAt)
	})
}
