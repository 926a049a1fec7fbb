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

// Package rollback launches rollback plans on the production host over an
// interactive remote shell.
package rollback

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ErrLaunch indicates the plan could not be opened, uploaded or started on
// the production host. Nothing has run remotely when it is returned, so the
// engine may compensate the ROLLBACK transition.
var ErrLaunch = errors.New("rollback: launch failed")

// Executor launches rollback plans. Launch returns as soon as the plan is
// started detached; progress arrives later as intake PATCHes issued by the
// running plan itself.
type Executor interface {
	Launch(ctx context.Context, req Request) error
}

const (
	defaultConnectTimeout = 30 * time.Second
	defaultReposRoot      = "platform"
	defaultDeployRoot     = "platform-deploy"
)

// SSH is the production Executor. It connects with password authentication
// as a privileged user; host-key verification is intentionally disabled
// because the host is operator-controlled.
type SSH struct {
	Host     string
	User     string
	Password string

	// Services maps service name to its health-probe endpoint.
	Services map[string]Endpoint

	// CallbackURL is the intake API base URL baked into every plan.
	CallbackURL string

	// ReposRoot and DeployRoot locate the working trees on the host,
	// relative to the login user's home.
	ReposRoot  string
	DeployRoot string

	ConnectTimeout time.Duration

	Log func(string, ...interface{})

	// now is swapped in tests to pin the script filename.
	now func() time.Time
}

var _ Executor = (*SSH)(nil)

// NewSSH returns an SSH executor for the given production host.
func NewSSH(host, user, password, callbackURL string, services map[string]Endpoint, log func(string, ...interface{})) *SSH {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &SSH{
		Host:           host,
		User:           user,
		Password:       password,
		Services:       services,
		CallbackURL:    callbackURL,
		ReposRoot:      defaultReposRoot,
		DeployRoot:     defaultDeployRoot,
		ConnectTimeout: defaultConnectTimeout,
		Log:            log,
		now:            time.Now,
	}
}

// scriptPath embeds service, tag and a wall-clock timestamp so concurrent
// rollbacks of different services or tags do not collide on the host.
func (e *SSH) scriptPath(req Request) string {
	return fmt.Sprintf("/tmp/rollback_%s_%s_%d.sh", req.ServiceName, req.TargetTag, e.now().Unix())
}

// Launch renders the plan for req, uploads it over SFTP, and starts it
// detached. It returns once the plan is running; it does not wait for the
// rollback to finish.
func (e *SSH) Launch(ctx context.Context, req Request) error {
	ep, ok := e.Services[req.ServiceName]
	if !ok {
		return errors.Wrapf(ErrLaunch, "no endpoint configured for service %q", req.ServiceName)
	}

	plan, err := RenderPlan(req, ep, e.CallbackURL, e.ReposRoot, e.DeployRoot)
	if err != nil {
		return errors.Wrapf(ErrLaunch, "%v", err)
	}

	client, err := e.dial(ctx)
	if err != nil {
		return errors.Wrapf(ErrLaunch, "connect to %s: %v", e.Host, err)
	}
	defer client.Close()

	path := e.scriptPath(req)
	if err := e.upload(client, path, plan); err != nil {
		return errors.Wrapf(ErrLaunch, "upload %s: %v", path, err)
	}

	session, err := client.NewSession()
	if err != nil {
		return errors.Wrapf(ErrLaunch, "open session: %v", err)
	}
	defer session.Close()

	cmd := fmt.Sprintf("chmod +x %s && nohup bash %s > /dev/null 2>&1 & echo $!", path, path)
	if err := session.Run(cmd); err != nil {
		return errors.Wrapf(ErrLaunch, "start plan %s: %v", path, err)
	}

	e.Log("rollback plan %s launched for release %d", path, req.ReleaseID)
	return nil
}

// dial opens the SSH connection with the connect timeout and the caller's
// context applied to the TCP dial.
func (e *SSH) dial(ctx context.Context) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            e.User,
		Auth:            []ssh.AuthMethod{ssh.Password(e.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.ConnectTimeout,
	}

	addr := net.JoinHostPort(e.Host, "22")
	dialer := net.Dialer{Timeout: e.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func (e *SSH) upload(client *ssh.Client, path, content string) error {
	sf, err := sftp.NewClient(client)
	if err != nil {
		return err
	}
	defer sf.Close()

	f, err := sf.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(content)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
