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
)

// Create is the action for registering a new candidate release reported by
// CI. It is not idempotent; CI deduplicates by ci_run_id before calling.
type Create struct {
	cfg *Configuration

	ServiceName  string
	ReleaseTag   string
	InitiatedBy  string
	CIRunID      string
	CIActionLink string
	CIRef        string
}

// NewCreate creates a new Create object with the given configuration.
func NewCreate(cfg *Configuration) *Create {
	return &Create{cfg: cfg}
}

// Run inserts the release in INITIATED with an empty approval list and
// returns its id.
func (c *Create) Run() (int64, error) {
	if c.ServiceName == "" {
		return 0, errors.New("create: service_name is required")
	}
	if c.ReleaseTag == "" {
		return 0, errors.New("create: release_tag is required")
	}

	rel := &release.Release{
		ServiceName:  c.ServiceName,
		ReleaseTag:   c.ReleaseTag,
		Status:       release.StatusInitiated,
		InitiatedBy:  c.InitiatedBy,
		CIRunID:      c.CIRunID,
		CIActionLink: c.CIActionLink,
		CIRef:        c.CIRef,
		ApprovedList: []string{},
	}
	id, err := c.cfg.Releases.Create(rel)
	if err != nil {
		return 0, err
	}
	c.cfg.Log("release %d created for %s tag %s by %s", id, c.ServiceName, c.ReleaseTag, c.InitiatedBy)
	return id, nil
}
