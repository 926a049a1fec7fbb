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

// Package config describes the operating environment of the capstan
// binaries. Settings come from environment variables; the cobra commands
// overlay flags on top via AddFlags.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"capstan.sh/capstan/pkg/rollback"
)

// Settings describes the environment of the orchestrator process.
type Settings struct {
	// Addr is the listen address of the intake HTTP API.
	Addr string
	// Prefix is the URL prefix the intake API is mounted at.
	Prefix string
	// DatabaseDSN is the Postgres DSN. Empty selects the memory driver.
	DatabaseDSN string

	// SlackAppToken and SlackBotToken drive the Socket Mode console.
	SlackAppToken string
	SlackBotToken string
	// ConsoleChannel restricts the console to one Slack channel when set.
	ConsoleChannel string

	// CIToken authenticates workflow dispatches; CIOwner is the org that
	// owns the service repositories; CIAPIURL is the API base.
	CIToken  string
	CIOwner  string
	CIAPIURL string

	// ProdHost, ProdUser and ProdPassword reach the production host over SSH.
	ProdHost     string
	ProdUser     string
	ProdPassword string
	// ServicesFile points at the yaml map of per-service health endpoints.
	ServicesFile string
	// CallbackURL is the intake base URL rollback plans report back to.
	CallbackURL string

	// Approvers must all approve a release; Admins may roll back.
	Approvers []string
	Admins    []string

	// RedisAddr backs console dialog state. Empty selects the memory store.
	RedisAddr     string
	RedisPassword string

	// Debug switches logging to text at debug level.
	Debug bool
}

// New builds Settings from the environment.
func New() *Settings {
	s := &Settings{
		Addr:           envOr("CAPSTAN_ADDR", ":8080"),
		Prefix:         envOr("CAPSTAN_PREFIX", "/api/release"),
		DatabaseDSN:    os.Getenv("CAPSTAN_DB_DSN"),
		SlackAppToken:  os.Getenv("CAPSTAN_SLACK_APP_TOKEN"),
		SlackBotToken:  os.Getenv("CAPSTAN_SLACK_BOT_TOKEN"),
		ConsoleChannel: os.Getenv("CAPSTAN_CONSOLE_CHANNEL"),
		CIToken:        os.Getenv("CAPSTAN_CI_TOKEN"),
		CIOwner:        os.Getenv("CAPSTAN_CI_OWNER"),
		CIAPIURL:       envOr("CAPSTAN_CI_API_URL", "https://api.github.com"),
		ProdHost:       os.Getenv("CAPSTAN_PROD_HOST"),
		ProdUser:       envOr("CAPSTAN_PROD_USER", "root"),
		ProdPassword:   os.Getenv("CAPSTAN_PROD_PASSWORD"),
		ServicesFile:   envOr("CAPSTAN_SERVICES_FILE", "services.yaml"),
		CallbackURL:    os.Getenv("CAPSTAN_CALLBACK_URL"),
		Approvers:      splitList(os.Getenv("CAPSTAN_APPROVERS")),
		Admins:         splitList(os.Getenv("CAPSTAN_ADMINS")),
		RedisAddr:      os.Getenv("CAPSTAN_REDIS_ADDR"),
		RedisPassword:  os.Getenv("CAPSTAN_REDIS_PASSWORD"),
	}
	s.Debug, _ = strconv.ParseBool(os.Getenv("CAPSTAN_DEBUG"))
	return s
}

// AddFlags binds the orchestrator flags to the given flagset.
func (s *Settings) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Addr, "addr", s.Addr, "listen address of the intake API")
	fs.StringVar(&s.Prefix, "prefix", s.Prefix, "URL prefix the intake API is mounted at")
	fs.StringVar(&s.DatabaseDSN, "db-dsn", s.DatabaseDSN, "Postgres DSN; empty keeps releases in memory")
	fs.StringVar(&s.ConsoleChannel, "console-channel", s.ConsoleChannel, "Slack channel the console answers in")
	fs.StringVar(&s.CIOwner, "ci-owner", s.CIOwner, "organization owning the service repositories")
	fs.StringVar(&s.ProdHost, "prod-host", s.ProdHost, "production host for rollback plans")
	fs.StringVar(&s.ServicesFile, "services-file", s.ServicesFile, "yaml map of per-service health endpoints")
	fs.StringVar(&s.CallbackURL, "callback-url", s.CallbackURL, "intake base URL rollback plans report to")
	fs.StringSliceVar(&s.Approvers, "approvers", s.Approvers, "identities whose approval every release needs")
	fs.StringSliceVar(&s.Admins, "admins", s.Admins, "identities with rollback authority")
	fs.BoolVar(&s.Debug, "debug", s.Debug, "enable verbose output")
}

// Services loads the per-service endpoint map from ServicesFile.
func (s *Settings) Services() (map[string]rollback.Endpoint, error) {
	raw, err := os.ReadFile(s.ServicesFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading services file %s", s.ServicesFile)
	}
	return ParseServices(raw)
}

// ParseServices decodes the yaml service map:
//
//	billing:
//	  port: 8201
//	  prefix: /api/billing
func ParseServices(raw []byte) (map[string]rollback.Endpoint, error) {
	services := map[string]rollback.Endpoint{}
	if err := yaml.Unmarshal(raw, &services); err != nil {
		return nil, errors.Wrap(err, "parsing services yaml")
	}
	for name, ep := range services {
		if ep.Port == 0 {
			return nil, errors.Errorf("service %q has no port", name)
		}
	}
	return services, nil
}

func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
