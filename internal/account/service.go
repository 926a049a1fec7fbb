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

package account

import (
	"context"

	"github.com/pkg/errors"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrBadCredentials indicates a wrong login/password combination.
	ErrBadCredentials = errors.New("account: bad credentials")
	// ErrBadTOTPCode indicates a TOTP code that does not verify.
	ErrBadTOTPCode = errors.New("account: bad one-time code")
	// ErrNotEnrolled indicates a TOTP operation on an account without TOTP.
	ErrNotEnrolled = errors.New("account: totp not enrolled")
	// ErrAlreadyEnrolled indicates a second enrollment attempt.
	ErrAlreadyEnrolled = errors.New("account: totp already enrolled")
)

// TokenIssuer is the slice of the authorization service the account
// service needs.
type TokenIssuer interface {
	IssuePair(ctx context.Context, accountID int64, twoFA bool, role string) (access, refresh string, err error)
}

// Service implements the credential operations.
type Service struct {
	repo   Repo
	issuer TokenIssuer
	// secret is prepended to every password before hashing, so a leaked
	// table alone is not crackable offline without the config.
	secret string
	// totpIssuer names this installation in authenticator apps.
	totpIssuer string
	log        func(string, ...interface{})
}

// NewService creates a Service.
func NewService(repo Repo, issuer TokenIssuer, secret, totpIssuer string, log func(string, ...interface{})) *Service {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Service{repo: repo, issuer: issuer, secret: secret, totpIssuer: totpIssuer, log: log}
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(s.secret+password), bcrypt.DefaultCost)
	return string(h), errors.Wrap(err, "hashing password")
}

func (s *Service) compare(hash, password string) error {
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(s.secret+password)) != nil {
		return ErrBadCredentials
	}
	return nil
}

// Register creates an account and returns its id.
func (s *Service) Register(ctx context.Context, login, password string) (int64, error) {
	if login == "" || password == "" {
		return 0, errors.New("account: login and password are required")
	}
	hash, err := s.hash(password)
	if err != nil {
		return 0, err
	}
	id, err := s.repo.Create(ctx, login, hash)
	if err != nil {
		return 0, err
	}
	s.log("account %d registered (%s)", id, login)
	return id, nil
}

// LoginResult is what a successful login hands back.
type LoginResult struct {
	AccountID    int64  `json:"account_id"`
	TwoFAStatus  bool   `json:"two_fa_status"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Login verifies the credentials and fetches a token pair from the
// authorization service. two_fa_status in the tokens reflects enrollment,
// not verification; callers gate on VerifyTOTP separately.
func (s *Service) Login(ctx context.Context, login, password, role string) (*LoginResult, error) {
	a, err := s.repo.ByLogin(ctx, login)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := s.compare(a.Password, password); err != nil {
		return nil, err
	}

	access, refresh, err := s.issuer.IssuePair(ctx, a.ID, a.Enrolled(), role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		AccountID:    a.ID,
		TwoFAStatus:  a.Enrolled(),
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// EnrollTOTP generates a key for the account and returns the provisioning
// URI to show as a QR code. The key is not active until ConfirmTOTP.
func (s *Service) EnrollTOTP(ctx context.Context, id int64) (secret, uri string, err error) {
	a, err := s.repo.ByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	if a.Enrolled() {
		return "", "", ErrAlreadyEnrolled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.totpIssuer,
		AccountName: a.Login,
	})
	if err != nil {
		return "", "", errors.Wrap(err, "generating totp key")
	}
	return key.Secret(), key.URL(), nil
}

// ConfirmTOTP checks the first code against the candidate secret and
// persists it.
func (s *Service) ConfirmTOTP(ctx context.Context, id int64, secret, code string) error {
	if !totp.Validate(code, secret) {
		return ErrBadTOTPCode
	}
	if err := s.repo.SetTOTPKey(ctx, id, secret); err != nil {
		return err
	}
	s.log("account %d enrolled totp", id)
	return nil
}

// VerifyTOTP checks a code against the enrolled key.
func (s *Service) VerifyTOTP(ctx context.Context, id int64, code string) error {
	a, err := s.repo.ByID(ctx, id)
	if err != nil {
		return err
	}
	if !a.Enrolled() {
		return ErrNotEnrolled
	}
	if !totp.Validate(code, a.TOTPKey) {
		return ErrBadTOTPCode
	}
	return nil
}

// DeleteTOTP removes the enrolled key after a final code check.
func (s *Service) DeleteTOTP(ctx context.Context, id int64, code string) error {
	if err := s.VerifyTOTP(ctx, id, code); err != nil {
		return err
	}
	if err := s.repo.SetTOTPKey(ctx, id, ""); err != nil {
		return err
	}
	s.log("account %d removed totp", id)
	return nil
}

// ChangePassword swaps the password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) error {
	if newPassword == "" {
		return errors.New("account: new password is required")
	}
	a, err := s.repo.ByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.compare(a.Password, oldPassword); err != nil {
		return err
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.SetPassword(ctx, id, hash); err != nil {
		return err
	}
	s.log("account %d changed password", id)
	return nil
}
