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

// Capstan-account is the account service: operator credentials, TOTP
// enrollment and the password lifecycle. Token issue is delegated to the
// authorization service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"capstan.sh/capstan/internal/account"
	"capstan.sh/capstan/internal/config"
)

func main() {
	settings := config.NewAccount()
	log := logrus.New()

	cmd := &cobra.Command{
		Use:          "capstan-account",
		Short:        "operator account service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if settings.Debug {
				log.SetLevel(logrus.DebugLevel)
			} else {
				log.SetFormatter(&logrus.JSONFormatter{})
			}
			return serve(cmd.Context(), settings, log)
		},
	}
	settings.AddFlags(cmd.PersistentFlags())

	if err := cmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, settings *config.AccountSettings, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.PasswordSecret == "" {
		return errors.New("CAPSTAN_PASSWORD_SECRET is required")
	}

	var repo account.Repo
	if settings.DatabaseDSN != "" {
		sqlRepo, err := account.NewSQLRepo(settings.DatabaseDSN)
		if err != nil {
			return err
		}
		if err := sqlRepo.EnsureTables(); err != nil {
			return err
		}
		repo = sqlRepo
	} else {
		log.Warn("no database configured, keeping accounts in memory")
		repo = account.NewMemoryRepo()
	}

	issuer := account.NewAuthzClient(settings.AuthURL, log.Debugf)
	svc := account.NewService(repo, issuer, settings.PasswordSecret, settings.TOTPIssuer, log.Infof)
	srv := &http.Server{
		Addr:    settings.Addr,
		Handler: account.NewHTTPServer(svc).Handler(settings.Prefix),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", settings.Addr).Info("account service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
