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

package config

import (
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

// AuthSettings describes the environment of the authorization service.
type AuthSettings struct {
	Addr        string
	Prefix      string
	DatabaseDSN string
	// JWTSecret signs access and refresh tokens.
	JWTSecret string
	// CookieDomain scopes the Access-Token/Refresh-Token cookies.
	CookieDomain string
	Debug        bool
}

// NewAuth builds AuthSettings from the environment.
func NewAuth() *AuthSettings {
	s := &AuthSettings{
		Addr:         envOr("CAPSTAN_AUTH_ADDR", ":8081"),
		Prefix:       envOr("CAPSTAN_AUTH_PREFIX", "/api/auth"),
		DatabaseDSN:  os.Getenv("CAPSTAN_DB_DSN"),
		JWTSecret:    os.Getenv("CAPSTAN_JWT_SECRET"),
		CookieDomain: os.Getenv("CAPSTAN_COOKIE_DOMAIN"),
	}
	s.Debug, _ = strconv.ParseBool(os.Getenv("CAPSTAN_DEBUG"))
	return s
}

// AddFlags binds the authorization service flags to the given flagset.
func (s *AuthSettings) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Addr, "addr", s.Addr, "listen address")
	fs.StringVar(&s.Prefix, "prefix", s.Prefix, "URL prefix")
	fs.StringVar(&s.DatabaseDSN, "db-dsn", s.DatabaseDSN, "Postgres DSN")
	fs.StringVar(&s.CookieDomain, "cookie-domain", s.CookieDomain, "domain for token cookies")
	fs.BoolVar(&s.Debug, "debug", s.Debug, "enable verbose output")
}

// AccountSettings describes the environment of the account service.
type AccountSettings struct {
	Addr        string
	Prefix      string
	DatabaseDSN string
	// PasswordSecret is prepended to passwords before hashing.
	PasswordSecret string
	// AuthURL is the base URL of the authorization service.
	AuthURL string
	// TOTPIssuer names this installation in authenticator apps.
	TOTPIssuer string
	Debug      bool
}

// NewAccount builds AccountSettings from the environment.
func NewAccount() *AccountSettings {
	s := &AccountSettings{
		Addr:           envOr("CAPSTAN_ACCOUNT_ADDR", ":8082"),
		Prefix:         envOr("CAPSTAN_ACCOUNT_PREFIX", "/api/account"),
		DatabaseDSN:    os.Getenv("CAPSTAN_DB_DSN"),
		PasswordSecret: os.Getenv("CAPSTAN_PASSWORD_SECRET"),
		AuthURL:        envOr("CAPSTAN_AUTH_URL", "http://localhost:8081/api/auth"),
		TOTPIssuer:     envOr("CAPSTAN_TOTP_ISSUER", "capstan"),
	}
	s.Debug, _ = strconv.ParseBool(os.Getenv("CAPSTAN_DEBUG"))
	return s
}

// AddFlags binds the account service flags to the given flagset.
func (s *AccountSettings) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Addr, "addr", s.Addr, "listen address")
	fs.StringVar(&s.Prefix, "prefix", s.Prefix, "URL prefix")
	fs.StringVar(&s.DatabaseDSN, "db-dsn", s.DatabaseDSN, "Postgres DSN")
	fs.StringVar(&s.AuthURL, "auth-url", s.AuthURL, "base URL of the authorization service")
	fs.StringVar(&s.TOTPIssuer, "totp-issuer", s.TOTPIssuer, "issuer shown in authenticator apps")
	fs.BoolVar(&s.Debug, "debug", s.Debug, "enable verbose output")
}
