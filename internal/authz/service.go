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

package authz

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Service issues, checks and rotates token pairs. The stored refresh
// token is replaced on every issue; until then the same refresh may be
// presented repeatedly.
type Service struct {
	signer *Signer
	repo   TokenRepo
	log    func(string, ...interface{})
}

// NewService creates a Service.
func NewService(signer *Signer, repo TokenRepo, log func(string, ...interface{})) *Service {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Service{signer: signer, repo: repo, log: log}
}

// Issue mints a pair with the web refresh lifetime and stores the refresh
// token.
func (s *Service) Issue(ctx context.Context, accountID int64, twoFA bool, role string) (TokenPair, error) {
	return s.issue(ctx, accountID, twoFA, role, RefreshTTL)
}

// IssueLong mints a pair with the long-lived refresh used by chat bots.
func (s *Service) IssueLong(ctx context.Context, accountID int64, twoFA bool, role string) (TokenPair, error) {
	return s.issue(ctx, accountID, twoFA, role, LongRefreshTTL)
}

func (s *Service) issue(ctx context.Context, accountID int64, twoFA bool, role string, refreshTTL time.Duration) (TokenPair, error) {
	pair, err := s.signer.MintPair(accountID, twoFA, role, refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.repo.Save(ctx, accountID, pair.RefreshToken); err != nil {
		return TokenPair{}, err
	}
	s.log("issued token pair for account %d", accountID)
	return pair, nil
}

// Check verifies an access token and returns its claims.
func (s *Service) Check(token string) (*Claims, error) {
	return s.signer.Verify(token)
}

// Refresh verifies the presented refresh token, matches it against the
// stored one and rotates the pair. The new refresh keeps the web lifetime.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.signer.Verify(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	stored, err := s.repo.Get(ctx, claims.AccountID)
	if err != nil {
		return TokenPair{}, err
	}
	if stored != refreshToken {
		return TokenPair{}, errors.Wrapf(ErrRefreshMismatch, "account %d", claims.AccountID)
	}
	return s.issue(ctx, claims.AccountID, claims.TwoFAStatus, claims.Role, RefreshTTL)
}
