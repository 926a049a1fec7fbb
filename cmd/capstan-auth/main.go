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

// Capstan-auth is the authorization service: it mints, checks and rotates
// the signed token pairs the platform services trust.
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

	"capstan.sh/capstan/internal/authz"
	"capstan.sh/capstan/internal/config"
)

func main() {
	settings := config.NewAuth()
	log := logrus.New()

	cmd := &cobra.Command{
		Use:          "capstan-auth",
		Short:        "token authorization service",
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

func serve(ctx context.Context, settings *config.AuthSettings, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.JWTSecret == "" {
		return errors.New("CAPSTAN_JWT_SECRET is required")
	}

	var repo authz.TokenRepo
	if settings.DatabaseDSN != "" {
		sqlRepo, err := authz.NewSQLRepo(settings.DatabaseDSN)
		if err != nil {
			return err
		}
		if err := sqlRepo.EnsureTables(); err != nil {
			return err
		}
		repo = sqlRepo
	} else {
		log.Warn("no database configured, keeping refresh tokens in memory")
		repo = authz.NewMemoryRepo()
	}

	svc := authz.NewService(authz.NewSigner(settings.JWTSecret), repo, log.Infof)
	srv := &http.Server{
		Addr:    settings.Addr,
		Handler: authz.NewHTTPServer(svc, settings.CookieDomain).Handler(settings.Prefix),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", settings.Addr).Info("authorization service listening")
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
