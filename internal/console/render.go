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
	"fmt"
	"strconv"

	"github.com/slack-go/slack"

	"capstan.sh/capstan/pkg/action"
	"capstan.sh/capstan/pkg/quorum"
	"capstan.sh/capstan/pkg/release"
)

// Action ids routed by the interaction handler.
const (
	actionViewActive     = "view_active"
	actionViewSuccessful = "view_successful"
	actionViewFailed     = "view_failed"
	actionPrev           = "nav_prev"
	actionNext           = "nav_next"
	actionRefresh        = "nav_refresh"
	actionBack           = "nav_back"
	actionApprove        = "release_approve"
	actionReject         = "release_reject"
	actionTrigger        = "release_trigger_deploy"
	actionRollback       = "release_rollback"
	actionRollbackPick   = "rollback_pick"
	actionRollbackGo     = "rollback_confirm"
	actionRollbackCancel = "rollback_cancel"
)

// menuBlocks is the top-level view picker.
func menuBlocks() []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "*Releases* — pick a view", false, false),
			nil, nil),
		slack.NewActionBlock("menu",
			button(actionViewActive, "", "Active"),
			button(actionViewSuccessful, "", "Successful"),
			button(actionViewFailed, "", "Failed"),
		),
	}
}

// releaseBlocks renders one release with navigation, and the operation
// buttons the viewer is actually allowed to press.
func releaseBlocks(rel *release.Release, s *Session, policy quorum.Policy, viewer string) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, releaseText(rel), false, false),
			nil, nil),
		slack.NewContextBlock("position",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("%d of %d — %s", s.Index+1, len(s.ReleaseIDs), s.View), false, false)),
	}

	nav := []slack.BlockElement{}
	if s.Index > 0 {
		nav = append(nav, button(actionPrev, "", "Prev"))
	}
	if s.Index < len(s.ReleaseIDs)-1 {
		nav = append(nav, button(actionNext, "", "Next"))
	}
	nav = append(nav, button(actionRefresh, "", "Refresh"), button(actionBack, "", "Back"))
	blocks = append(blocks, slack.NewActionBlock("nav", nav...))

	var ops []slack.BlockElement
	if rel.Status == release.StatusManualTesting && policy.Eligible(viewer) && !rel.ApprovedBy(viewer) {
		ops = append(ops,
			button(actionApprove, strconv.FormatInt(rel.ID, 10), "Approve"),
			button(actionReject, strconv.FormatInt(rel.ID, 10), "Reject"))
	}
	if rel.Status == release.StatusManualTestPassed && policy.Eligible(viewer) {
		// recovery path for a deploy dispatch that failed after quorum closed
		ops = append(ops, button(actionTrigger, strconv.FormatInt(rel.ID, 10), "Trigger deploy"))
	}
	if rel.Status == release.StatusDeployed && policy.Admin(viewer) {
		ops = append(ops, button(actionRollback, strconv.FormatInt(rel.ID, 10), "Roll back"))
	}
	if len(ops) > 0 {
		blocks = append(blocks, slack.NewActionBlock("ops", ops...))
	}
	return blocks
}

func releaseText(rel *release.Release) string {
	text := fmt.Sprintf("*%s* `%s`\nstatus: `%s`\ninitiated by: %s",
		rel.ServiceName, rel.ReleaseTag, rel.Status, rel.InitiatedBy)
	if len(rel.ApprovedList) > 0 {
		text += fmt.Sprintf("\napproved by: %v", rel.ApprovedList)
	}
	if rel.RollbackToTag != "" {
		text += fmt.Sprintf("\nrollback target: `%s`", rel.RollbackToTag)
	}
	if rel.CIActionLink != "" {
		text += fmt.Sprintf("\n<%s|CI run>", rel.CIActionLink)
	}
	return text
}

// rollbackPickBlocks offers the candidate target tags.
func rollbackPickBlocks(rel *release.Release, targets []*release.Release) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("Roll back *%s* from `%s` to:", rel.ServiceName, rel.ReleaseTag),
				false, false),
			nil, nil),
	}
	var picks []slack.BlockElement
	for _, t := range targets {
		picks = append(picks, button(actionRollbackPick, t.ReleaseTag, t.ReleaseTag))
	}
	picks = append(picks, button(actionRollbackCancel, "", "Cancel"))
	blocks = append(blocks, slack.NewActionBlock("rollback_pick", picks...))
	return blocks
}

// rollbackConfirmBlocks asks for the final go.
func rollbackConfirmBlocks(rel *release.Release, targetTag string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("Roll back *%s* `%s` → `%s`?", rel.ServiceName, rel.ReleaseTag, targetTag),
				false, false),
			nil, nil),
		slack.NewActionBlock("rollback_confirm",
			button(actionRollbackGo, targetTag, "Confirm rollback"),
			button(actionRollbackCancel, "", "Cancel"),
		),
	}
}

func emptyViewBlocks(view action.Bucket) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("No %s releases.", view), false, false),
			nil, nil),
		slack.NewActionBlock("nav", button(actionBack, "", "Back")),
	}
}

func button(actionID, value, label string) *slack.ButtonBlockElement {
	return slack.NewButtonBlockElement(actionID, value,
		slack.NewTextBlockObject(slack.PlainTextType, label, false, false))
}
