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

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"capstan.sh/capstan/internal/config"
	"capstan.sh/capstan/internal/console"
	"capstan.sh/capstan/internal/intake"
	"capstan.sh/capstan/pkg/action"
	"capstan.sh/capstan/pkg/ci"
	"capstan.sh/capstan/pkg/quorum"
	"capstan.sh/capstan/pkg/rollback"
	"capstan.sh/capstan/pkg/storage"
	"capstan.sh/capstan/pkg/storage/driver"
)

func newServeCmd(settings *config.Settings, log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the intake API and the operator console",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), settings, log)
		},
	}
}

func serve(ctx context.Context, settings *config.Settings, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, schema, err := buildEngine(settings, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    settings.Addr,
		Handler: intake.NewServer(cfg, schema, log).Handler(settings.Prefix),
	}
	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", settings.Addr).Info("intake API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if settings.SlackAppToken != "" && settings.SlackBotToken != "" {
		con := console.New(cfg, sessionStore(settings), nil)
		if settings.ConsoleChannel != "" {
			con.RestrictTo(settings.ConsoleChannel)
		}
		runner := console.NewRunner(con, settings.SlackAppToken, settings.SlackBotToken, cfg.Log)
		go func() {
			log.Info("operator console connected")
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	} else {
		log.Warn("no Slack tokens configured, operator console disabled")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildEngine assembles the action configuration from the settings.
func buildEngine(settings *config.Settings, log *logrus.Logger) (*action.Configuration, intake.Schema, error) {
	var (
		drv    driver.Driver
		schema intake.Schema
	)
	if settings.DatabaseDSN != "" {
		sqlDrv, err := driver.NewSQL(settings.DatabaseDSN, log.Debugf)
		if err != nil {
			return nil, nil, err
		}
		drv, schema = sqlDrv, sqlDrv
	} else {
		log.Warn("no database configured, keeping releases in memory")
		drv = driver.NewMemory()
	}

	cfg := action.New(storage.Init(drv))
	cfg.Log = log.Infof
	cfg.CIOwner = settings.CIOwner
	cfg.CI = ci.NewClient(settings.CIAPIURL, settings.CIToken, log.Debugf)
	cfg.Policy = quorum.Policy{Approvers: settings.Approvers, Admins: settings.Admins}

	if settings.ProdHost != "" {
		services, err := settings.Services()
		if err != nil {
			return nil, nil, err
		}
		cfg.Executor = rollback.NewSSH(settings.ProdHost, settings.ProdUser,
			settings.ProdPassword, settings.CallbackURL+settings.Prefix, services, log.Infof)
	} else {
		log.Warn("no production host configured, rollback launches will be refused")
	}
	return cfg, schema, nil
}

func sessionStore(settings *config.Settings) console.SessionStore {
	if settings.RedisAddr == "" {
		return console.NewMemoryStore()
	}
	return console.NewRedisStore(redis.NewClient(&redis.Options{
		Addr:     settings.RedisAddr,
		Password: settings.RedisPassword,
	}))
}
