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

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// slashCommand opens the console menu.
const slashCommand = "/releases"

// slackMessenger adapts *slack.Client to the messenger interface.
type slackMessenger struct {
	api *slack.Client
}

func (m *slackMessenger) Post(channel string, blocks []slack.Block) (string, error) {
	_, ts, err := m.api.PostMessage(channel, slack.MsgOptionBlocks(blocks...))
	return ts, err
}

func (m *slackMessenger) Update(channel, ts string, blocks []slack.Block) error {
	_, _, _, err := m.api.UpdateMessage(channel, ts, slack.MsgOptionBlocks(blocks...))
	return err
}

func (m *slackMessenger) Ephemeral(channel, user, text string) error {
	_, err := m.api.PostEphemeral(channel, user, slack.MsgOptionText(text, false))
	return err
}

// Runner owns the Socket Mode connection and dispatches events into a
// Console.
type Runner struct {
	console *Console
	client  *socketmode.Client
	log     func(string, ...interface{})
}

// NewRunner wires a Console to Slack. appToken is the app-level token
// (xapp-), botToken the bot token (xoxb-).
func NewRunner(console *Console, appToken, botToken string, log func(string, ...interface{})) *Runner {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	console.msgr = &slackMessenger{api: api}
	return &Runner{
		console: console,
		client:  socketmode.New(api),
		log:     log,
	}
}

// Run pumps Socket Mode events until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	go func() {
		for evt := range r.client.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				r.client.Ack(*evt.Request)
				if cmd.Command != slashCommand {
					continue
				}
				if err := r.console.OpenMenu(ctx, cmd.ChannelID, cmd.UserID); err != nil {
					r.log("console: open menu: %v", err)
				}
			case socketmode.EventTypeInteractive:
				cb, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				r.client.Ack(*evt.Request)
				for _, ba := range cb.ActionCallback.BlockActions {
					err := r.console.HandleAction(ctx,
						cb.Channel.ID, cb.User.ID, cb.Message.Timestamp,
						ba.ActionID, ba.Value)
					if err != nil {
						r.log("console: action %s: %v", ba.ActionID, err)
					}
				}
			}
		}
	}()
	return r.client.RunContext(ctx)
}
