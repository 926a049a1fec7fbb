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

package rollback

import (
	"bytes"
	"text/template"

	"github.com/pkg/errors"
)

// Endpoint is what the executor must know about a service to probe it after
// a rollback: its listening port and URL prefix on the production host.
type Endpoint struct {
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix"`
}

// Request identifies one rollback: which release is being rolled back,
// which service it belongs to, and the tag the service is moved back to.
type Request struct {
	ReleaseID   int64
	ServiceName string
	TargetTag   string
}

// planParams is the data the plan template is rendered with.
type planParams struct {
	Request
	Endpoint
	// CallbackURL is the intake API base; the running plan PATCHes release
	// status updates to it.
	CallbackURL string
	// ReposRoot is the directory under the login user's home holding one
	// git working tree per service.
	ReposRoot string
	// DeployRoot is the platform deployment working tree with the compose
	// file and env files, also under the login user's home.
	DeployRoot string
}

// planTemplate is the shell plan the executor uploads and starts detached.
// It is self-contained: it reports ROLLBACK on start, moves the service's
// working tree to the target tag, rebuilds the container in place, probes
// health, and reports ROLLBACK_DONE or ROLLBACK_FAILED back to the intake
// API. Everything it does is idempotent with respect to the target tag, so
// re-running a plan is safe.
const planTemplate = `#!/bin/bash
# Roll back {{.ServiceName}} to {{.TargetTag}} (release {{.ReleaseID}}).

curl -s -X PATCH \
-H "Content-Type: application/json" \
-d '{"release_id": {{.ReleaseID}}, "status": "production_rollback"}' \
"{{.CallbackURL}}/release"

set -e

mkdir -p /var/log/deployments/rollback/{{.ServiceName}}
LOG_FILE="/var/log/deployments/rollback/{{.ServiceName}}/{{.TargetTag}}-rollback.log"

log_message() {
    local message="$1"
    echo "$(date '+%Y-%m-%d %H:%M:%S') - $message" | tee -a "$LOG_FILE"
}

report_failure() {
    curl -s -X PATCH \
    -H "Content-Type: application/json" \
    -d '{"release_id": {{.ReleaseID}}, "status": "rollback_failed"}' \
    "{{.CallbackURL}}/release"
}

log_message "starting rollback of {{.ServiceName}} to {{.TargetTag}}"

cd ~/{{.ReposRoot}}/{{.ServiceName}}

CURRENT_REF=$(git symbolic-ref --short HEAD 2>/dev/null || git describe --tags --exact-match 2>/dev/null || git rev-parse --short HEAD)
log_message "state before rollback: $CURRENT_REF"

if git tag -l | grep -q "^{{.TargetTag}}$"; then
    log_message "local tag {{.TargetTag}} exists, deleting before refetch"
    git tag -d {{.TargetTag}} 2>&1 | tee -a "$LOG_FILE"
fi

log_message "fetching remote refs"
git fetch origin 2>&1 | tee -a "$LOG_FILE"
git fetch origin --tags --force 2>&1 | tee -a "$LOG_FILE"

if ! git tag -l | grep -q "^{{.TargetTag}}$"; then
    log_message "tag {{.TargetTag}} not found after refetch"
    git tag -l | tail -10 | tee -a "$LOG_FILE"
    report_failure
    exit 1
fi

log_message "checking out {{.TargetTag}}"
git checkout {{.TargetTag}} 2>&1 | tee -a "$LOG_FILE"

log_message "pruning stale branches"
git for-each-ref --format='%(refname:short)' refs/heads | grep -v -E "^(main|master)$" | xargs -r git branch -D 2>&1 | tee -a "$LOG_FILE"
git remote prune origin 2>&1 | tee -a "$LOG_FILE"

cd ~/{{.DeployRoot}}

export $(cat env/.env.app env/.env.db env/.env.monitoring | xargs)

log_message "rebuilding {{.ServiceName}} at {{.TargetTag}}"
docker compose -f ./docker-compose/app.yaml up -d --build {{.ServiceName}} 2>&1 | tee -a "$LOG_FILE"
docker images | grep {{.ServiceName}} | tee -a "$LOG_FILE"

check_health() {
    if curl -f -s -o /dev/null -w "%{http_code}" http://localhost:{{.Port}}{{.Prefix}}/health | grep -q "200"; then
        return 0
    else
        return 1
    fi
}

MAX_ATTEMPTS=5
ATTEMPT=1
SUCCESS=false

log_message "waiting for {{.ServiceName}} to settle"
sleep 15

while [ $ATTEMPT -le $MAX_ATTEMPTS ]; do
    log_message "health probe $ATTEMPT of $MAX_ATTEMPTS"
    if check_health; then
        SUCCESS=true
        break
    fi
    sleep 20
    ATTEMPT=$((ATTEMPT + 1))
done

if [ "$SUCCESS" = false ]; then
    log_message "health probe failed after $MAX_ATTEMPTS attempts"
    docker logs --tail 100 {{.ServiceName}} 2>&1 | tee -a "$LOG_FILE"
    report_failure
    exit 1
fi

curl -s -X PATCH \
-H "Content-Type: application/json" \
-d '{"release_id": {{.ReleaseID}}, "status": "rollback_done"}' \
"{{.CallbackURL}}/release"

log_message "rollback of {{.ServiceName}} to {{.TargetTag}} finished"
log_message "log saved at $LOG_FILE"
`

var planTmpl = template.Must(template.New("rollback-plan").Parse(planTemplate))

// RenderPlan produces the shell plan for req against the given endpoint.
func RenderPlan(req Request, ep Endpoint, callbackURL, reposRoot, deployRoot string) (string, error) {
	var buf bytes.Buffer
	err := planTmpl.Execute(&buf, planParams{
		Request:     req,
		Endpoint:    ep,
		CallbackURL: callbackURL,
		ReposRoot:   reposRoot,
		DeployRoot:  deployRoot,
	})
	if err != nil {
		return "", errors.Wrap(err, "rollback: render plan")
	}
	return buf.String(), nil
}
