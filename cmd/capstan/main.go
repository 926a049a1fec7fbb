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

// Capstan is the release orchestrator: it takes CI progress events over
// HTTP, runs the approval quorum and the release state machine, drives the
// Slack operator console and launches production rollbacks.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"capstan.sh/capstan/internal/config"
)

func main() {
	settings := config.New()
	log := logrus.New()

	cmd := &cobra.Command{
		Use:   "capstan",
		Short: "release orchestration control plane",
		PersistentPreRun: func(*cobra.Command, []string) {
			configureLogger(log, settings.Debug)
		},
		SilenceUsage: true,
	}
	settings.AddFlags(cmd.PersistentFlags())
	cmd.AddCommand(newServeCmd(settings, log))

	if err := cmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func configureLogger(log *logrus.Logger, debug bool) {
	if debug {
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{})
		return
	}
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.JSONFormatter{})
}
