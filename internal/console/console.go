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

// Package console is the Slack operator console of the release engine. It
// renders the three release views, the approval buttons and the rollback
// dialog; every state change goes through pkg/action. Dialog state lives in
// a SessionStore keyed by channel and user; the engine stays the ground
// truth and Refresh re-reads it.
package console

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"

	"capstan.sh/capstan/pkg/action"
	"capstan.sh/capstan/pkg/quorum"
	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/storage/driver"
)

// rollbackChoices is how many recent tags the rollback picker offers.
const rollbackChoices = 3

// messenger is the slice of the Slack API the console talks to.
type messenger interface {
	Post(channel string, blocks []slack.Block) (string, error)
	Update(channel, ts string, blocks []slack.Block) error
	Ephemeral(channel, user, text string) error
}

// Console drives the operator dialog.
type Console struct {
	cfg      *action.Configuration
	sessions SessionStore
	msgr     messenger
	// channel restricts the console to one channel when non-empty.
	channel string
	log     func(string, ...interface{})
}

// New creates a Console over the given engine configuration.
func New(cfg *action.Configuration, sessions SessionStore, msgr messenger) *Console {
	return &Console{
		cfg:      cfg,
		sessions: sessions,
		msgr:     msgr,
		log:      cfg.Log,
	}
}

// RestrictTo limits the console to one channel; actions elsewhere are
// ignored.
func (c *Console) RestrictTo(channel string) { c.channel = channel }

func sessionKey(channel, user string) string {
	return channel + ":" + user
}

// OpenMenu posts the top-level view picker, dropping any previous session.
func (c *Console) OpenMenu(ctx context.Context, channel, user string) error {
	if err := c.sessions.Delete(ctx, sessionKey(channel, user)); err != nil {
		return err
	}
	_, err := c.msgr.Post(channel, menuBlocks())
	return err
}

// HandleAction routes one pressed button. ts is the message the button
// lives in; the console answers by rewriting that message in place.
func (c *Console) HandleAction(ctx context.Context, channel, user, ts, actionID, value string) error {
	if c.channel != "" && channel != c.channel {
		return nil
	}

	switch actionID {
	case actionViewActive:
		return c.openView(ctx, channel, user, ts, action.BucketActive)
	case actionViewSuccessful:
		return c.openView(ctx, channel, user, ts, action.BucketSuccessful)
	case actionViewFailed:
		return c.openView(ctx, channel, user, ts, action.BucketFailed)
	case actionPrev:
		return c.move(ctx, channel, user, ts, -1)
	case actionNext:
		return c.move(ctx, channel, user, ts, +1)
	case actionRefresh:
		return c.refresh(ctx, channel, user, ts)
	case actionBack:
		return c.back(ctx, channel, user, ts)
	case actionApprove:
		return c.approve(ctx, channel, user, ts)
	case actionReject:
		return c.reject(ctx, channel, user, ts)
	case actionTrigger:
		return c.triggerDeploy(ctx, channel, user, ts)
	case actionRollback:
		return c.rollbackStart(ctx, channel, user, ts)
	case actionRollbackPick:
		return c.rollbackPick(ctx, channel, user, ts, value)
	case actionRollbackGo:
		return c.rollbackConfirm(ctx, channel, user, ts)
	case actionRollbackCancel:
		return c.rollbackCancel(ctx, channel, user, ts)
	}
	return errors.Errorf("console: unknown action %q", actionID)
}

func (c *Console) openView(ctx context.Context, channel, user, ts string, bucket action.Bucket) error {
	list := action.NewList(c.cfg)
	list.Bucket = bucket
	rels, err := list.Run()
	if err != nil {
		return err
	}

	s := &Session{View: bucket}
	for _, rel := range rels {
		s.ReleaseIDs = append(s.ReleaseIDs, rel.ID)
	}
	if err := c.sessions.Put(ctx, sessionKey(channel, user), s); err != nil {
		return err
	}
	return c.renderCurrent(channel, user, ts, s)
}

func (c *Console) move(ctx context.Context, channel, user, ts string, delta int) error {
	s, err := c.sessions.Get(ctx, sessionKey(channel, user))
	if err != nil {
		return c.expired(channel, user, err)
	}
	if next := s.Index + delta; next >= 0 && next < len(s.ReleaseIDs) {
		s.Index = next
	}
	s.ClearRollback()
	if err := c.sessions.Put(ctx, sessionKey(channel, user), s); err != nil {
		return err
	}
	return c.renderCurrent(channel, user, ts, s)
}

// refresh re-snapshots the view and keeps the cursor on the same release
// when it is still present.
func (c *Console) refresh(ctx context.Context, channel, user, ts string) error {
	s, err := c.sessions.Get(ctx, sessionKey(channel, user))
	if err != nil {
		return c.expired(channel, user, err)
	}
	cur, _ := s.Current()

	list := action.NewList(c.cfg)
	list.Bucket = s.View
	rels, err := list.Run()
	if err != nil {
		return err
	}
	s.ReleaseIDs = s.ReleaseIDs[:0]
	s.Index = 0
	for i, rel := range rels {
		s.ReleaseIDs = append(s.ReleaseIDs, rel.ID)
		if rel.ID == cur {
			s.Index = i
		}
	}
	s.ClearRollback()
	if err := c.sessions.Put(ctx, sessionKey(channel, user), s); err != nil {
		return err
	}
	return c.renderCurrent(channel, user, ts, s)
}

func (c *Console) back(ctx context.Context, channel, user, ts string) error {
	if err := c.sessions.Delete(ctx, sessionKey(channel, user)); err != nil {
		return err
	}
	return c.msgr.Update(channel, ts, menuBlocks())
}

func (c *Console) approve(ctx context.Context, channel, user, ts string) error {
	s, err := c.sessions.Get(ctx, sessionKey(channel, user))
	if err != nil {
		return c.expired(channel, user, err)
	}
	id, ok := s.Current()
	if !ok {
		return c.renderCurrent(channel, user, ts, s)
	}

	decision, err := action.NewApprove(c.cfg).Run(ctx, id, user)
	switch {
	case err == nil:
		text := "Approval recorded."
		if decision == quorum.Final {
			text = "Approval recorded, quorum reached. Deploy dispatched."
		}
		if err := c.msgr.Ephemeral(channel, user, text); err != nil {
			return err
		}
	case errors.Is(err, quorum.ErrNotInQuorumWindow),
		errors.Is(err, quorum.ErrNotEligible),
		errors.Is(err, quorum.ErrAlreadyApproved):
		if err := c.msgr.Ephemeral(channel, user, err.Error()); err != nil {
			return err
		}
	case decision == quorum.Final:
		// quorum closed but the dispatch failed
		if err := c.msgr.Ephemeral(channel, user,
			fmt.Sprintf("Quorum reached but the deploy dispatch failed: %v. Press Trigger deploy to retry.", err)); err != nil {
			return err
		}
	default:
		return err
	}
	return c.renderCurrent(channel, user, ts, s)
}

func (c *Console) reject(ctx context.Context, channel, user, ts string) error {
	s, err := c.sessions.Get(ctx, sessionKey(channel, user))
	if err != nil {
		return c.expired(channel, user, err)
	}
	id, ok := s.Current()
	if !ok {
		return c.renderCurrent(channel, user, ts, s)
	}

	switch err := action.NewReject(c.cfg).Run(id, user); {
	case err == nil:
		if err := c.msgr.Ephemeral(channel, user, "Release rejected."); err != nil {
			return err
		}
	case errors.Is(err, quorum.ErrNotInQuorumWindow), errors.Is(err, quorum.ErrNotEligible):
		if err := c.msgr.Ephemeral(channel, user, err.Error()); err != nil {
			return err
		}
	default:
		return err
	}
	return c.renderCurrent(channel, user, ts, s)
}

// triggerDeploy re-dispatches the deploy workflow of a quorum-closed
// release whose dispatch failed inside approve.
func (c *Console) triggerDeploy(ctx context.Context, channel, user, ts string) error {
	s, err := c.sessions.Get(ctx, sessionKey(channel, user))
	if err != nil {
		return c.expired(channel, user, err)
	}
	id, ok := s.Current()
	if !ok {
		return c.renderCurrent(channel, user, ts, s)
	}
	if !c.cfg.Policy.Eligible(user) {
		return c.msgr.Ephemeral(channel, user, "Deploy dispatch needs approver authority.")
	}

	switch err := action.NewTriggerDeploy(c.cfg).Run(ctx, id); {
	case err == nil:
		if err := c.msgr.Ephemeral(channel, user, "Deploy dispatched."); err != nil {
			return err
		}
	case errors.Is(err, release.ErrInvalidTransition):
		if err := c.msgr.Ephemeral(channel, user, err.Error()); err != nil {
			return err
		}
	default:
		if err := c.msgr.Ephemeral(channel, user,
			fmt.Sprintf("Deploy dispatch failed: %v", err)); err != nil {
			return err
		}
	}
	return c.renderCurrent(channel, user, ts, s)
}

func (c *Console) rollbackStart(ctx context.Context, channel, user, ts string) error {
	s, err := c.sessions.Get(ctx, sessionKey(channel, user))
	if err != nil {
		return c.expired(channel, user, err)
	}
	id, ok := s.Current()
	if !ok {
		return c.renderCurrent(channel, user, ts, s)
	}
	if !c.cfg.Policy.Admin(user) {
		return c.msgr.Ephemeral(channel, user, "Rollback needs admin authority.")
	}

	rel, err := c.cfg.Releases.Get(id)
	if err != nil {
		return err
	}
	targets, err := action.NewList(c.cfg).RollbackTargets(id, rollbackChoices)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return c.msgr.Ephemeral(channel, user, "No earlier successful release of this service to roll back to.")
	}

	s.PendingRollbackID = id
	s.PendingTargetTag = ""
	if err := c.sessions.Put(ctx, sessionKey(channel, user), s); err != nil {
		return err
	}
	return c.msgr.Update(channel, ts, rollbackPickBlocks(rel, targets))
}

func (c *Console) rollbackPick(ctx context.Context, channel, user, ts, targetTag string) error {
	s, err := c.sessions.Get(ctx, sessionKey(channel, user))
	if err != nil {
		return c.expired(channel, user, err)
	}
	if s.PendingRollbackID == 0 {
		return c.renderCurrent(channel, user, ts, s)
	}

	rel, err := c.cfg.Releases.Get(s.PendingRollbackID)
	if err != nil {
		return err
	}
	s.PendingTargetTag = targetTag
	if err := c.sessions.Put(ctx, sessionKey(channel, user), s); err != nil {
		return err
	}
	return c.msgr.Update(channel, ts, rollbackConfirmBlocks(rel, targetTag))
}

func (c *Console) rollbackConfirm(ctx context.Context, channel, user, ts string) error {
	s, err := c.sessions.Get(ctx, sessionKey(channel, user))
	if err != nil {
		return c.expired(channel, user, err)
	}
	if s.PendingRollbackID == 0 || s.PendingTargetTag == "" {
		return c.renderCurrent(channel, user, ts, s)
	}

	rb := action.NewRollback(c.cfg)
	rb.TargetTag = s.PendingTargetTag
	rb.Initiator = user
	runErr := rb.Run(ctx, s.PendingRollbackID)

	s.ClearRollback()
	if err := c.sessions.Put(ctx, sessionKey(channel, user), s); err != nil {
		return err
	}

	if runErr != nil {
		if err := c.msgr.Ephemeral(channel, user,
			fmt.Sprintf("Rollback failed to start: %v", runErr)); err != nil {
			return err
		}
	} else if err := c.msgr.Ephemeral(channel, user, "Rollback started."); err != nil {
		return err
	}
	return c.renderCurrent(channel, user, ts, s)
}

func (c *Console) rollbackCancel(ctx context.Context, channel, user, ts string) error {
	s, err := c.sessions.Get(ctx, sessionKey(channel, user))
	if err != nil {
		return c.expired(channel, user, err)
	}
	s.ClearRollback()
	if err := c.sessions.Put(ctx, sessionKey(channel, user), s); err != nil {
		return err
	}
	return c.renderCurrent(channel, user, ts, s)
}

// renderCurrent rewrites the message with the release under the cursor.
func (c *Console) renderCurrent(channel, user, ts string, s *Session) error {
	id, ok := s.Current()
	if !ok {
		return c.msgr.Update(channel, ts, emptyViewBlocks(s.View))
	}
	rel, err := c.cfg.Releases.Get(id)
	if errors.Is(err, driver.ErrReleaseNotFound) {
		// deleted out from under the snapshot
		return c.msgr.Update(channel, ts, emptyViewBlocks(s.View))
	}
	if err != nil {
		return err
	}
	return c.msgr.Update(channel, ts, releaseBlocks(rel, s, c.cfg.Policy, user))
}

func (c *Console) expired(channel, user string, err error) error {
	if errors.Is(err, ErrSessionNotFound) {
		return c.msgr.Ephemeral(channel, user, "Session expired, open the menu again.")
	}
	return err
}
