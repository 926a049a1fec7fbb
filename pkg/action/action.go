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

// Package action holds the operations of the release engine. Each operation
// is a struct sharing a *Configuration; the intake API and the operator
// console construct operations and call Run, never touching the store
// directly.
package action

import (
	"time"

	"capstan.sh/capstan/pkg/ci"
	"capstan.sh/capstan/pkg/quorum"
	"capstan.sh/capstan/pkg/rollback"
	"capstan.sh/capstan/pkg/storage"
)

// Timestamper is a function capable of producing a timestamp. It can be
// overridden for testing so audit timestamps are predictable.
var Timestamper = func() time.Time { return time.Now().UTC() }

// Configuration injects the dependencies that all actions share.
type Configuration struct {
	// Releases stores records of releases. It is the only source of truth
	// for release state.
	Releases *storage.Storage

	// CI triggers workflow dispatches on the CI system.
	CI ci.Dispatcher

	// Executor launches rollback plans on the production host.
	Executor rollback.Executor

	// Policy is the process-wide approval policy.
	Policy quorum.Policy

	// CIOwner is the organization that owns the service repositories; the
	// deploy workflow is dispatched against <CIOwner>/<service_name>.
	CIOwner string

	Log func(string, ...interface{})
}

// New returns a Configuration with a no-op logger; callers fill in the
// collaborators they need.
func New(releases *storage.Storage) *Configuration {
	return &Configuration{
		Releases: releases,
		Log:      func(string, ...interface{}) {},
	}
}
