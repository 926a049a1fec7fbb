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

package console

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"capstan.sh/capstan/pkg/action"
)

// sessionTTL bounds how long an idle browsing session is kept.
const sessionTTL = 24 * time.Hour

// Session is the per-conversation dialog state of the console. The release
// list it caches is a snapshot; Refresh re-reads the engine.
type Session struct {
	// View is the bucket being browsed.
	View action.Bucket `json:"view"`
	// Index points into ReleaseIDs.
	Index int `json:"index"`
	// ReleaseIDs is the snapshot of the view taken when it was opened.
	ReleaseIDs []int64 `json:"release_ids"`

	// PendingRollbackID is the release a rollback is being prepared for;
	// PendingTargetTag is set once the operator picked a target.
	PendingRollbackID int64  `json:"pending_rollback_id,omitempty"`
	PendingTargetTag  string `json:"pending_target_tag,omitempty"`
}

// Current returns the release id under the cursor, or false when the view
// is empty.
func (s *Session) Current() (int64, bool) {
	if len(s.ReleaseIDs) == 0 || s.Index < 0 || s.Index >= len(s.ReleaseIDs) {
		return 0, false
	}
	return s.ReleaseIDs[s.Index], true
}

// ClearRollback drops any half-finished rollback dialog.
func (s *Session) ClearRollback() {
	s.PendingRollbackID = 0
	s.PendingTargetTag = ""
}

// SessionStore persists Sessions keyed by conversation.
type SessionStore interface {
	Get(ctx context.Context, key string) (*Session, error)
	Put(ctx context.Context, key string, s *Session) error
	Delete(ctx context.Context, key string) error
}

// ErrSessionNotFound indicates no session exists for the conversation.
var ErrSessionNotFound = errors.New("console: session not found")

// MemoryStore is an in-process SessionStore for tests and dev.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*Session{}}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	cp.ReleaseIDs = append([]int64(nil), s.ReleaseIDs...)
	return &cp, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.ReleaseIDs = append([]int64(nil), s.ReleaseIDs...)
	m.sessions[key] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

// RedisStore keeps Sessions in Redis so the console survives restarts.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore over the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) key(key string) string { return "console:session:" + key }

func (r *RedisStore) Get(ctx context.Context, key string) (*Session, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading session")
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrap(err, "decoding session")
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	return errors.Wrap(r.client.Set(ctx, r.key(key), raw, sessionTTL).Err(), "writing session")
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return errors.Wrap(r.client.Del(ctx, r.key(key)).Err(), "deleting session")
}
