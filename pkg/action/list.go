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

// Bucket selects which slice of the release history a List returns.
type Bucket string

const (
	// BucketActive returns releases still moving through the pipeline.
	BucketActive Bucket = "active"
	// BucketSuccessful returns releases that ended well.
	BucketSuccessful Bucket = "successful"
	// BucketFailed returns releases that ended badly.
	BucketFailed Bucket = "failed"
)

// List is the action for reading releases back out of storage, newest
// first.
type List struct {
	cfg *Configuration

	Bucket Bucket
}

// NewList creates a new List object with the given configuration.
func NewList(cfg *Configuration) *List {
	return &List{cfg: cfg, Bucket: BucketActive}
}

// Run returns the releases in the configured bucket, newest first.
func (l *List) Run() ([]*release.Release, error) {
	switch l.Bucket {
	case BucketActive:
		return l.cfg.Releases.Active()
	case BucketSuccessful:
		return l.cfg.Releases.Successful()
	case BucketFailed:
		return l.cfg.Releases.Failed()
	}
	return nil, errors.Errorf("list: unknown bucket %q", l.Bucket)
}

// RollbackTargets returns up to limit recently deployed tags of the given
// release's service, excluding the release itself. These are the candidate
// targets offered when an operator asks to roll the release back.
func (l *List) RollbackTargets(id int64, limit int) ([]*release.Release, error) {
	rel, err := l.cfg.Releases.Get(id)
	if err != nil {
		return nil, err
	}
	return l.cfg.Releases.RecentSuccessful(rel.ServiceName, limit, id)
}
