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

// Package authz issues and verifies the signed tokens the platform
// services trust. Tokens are HS256 over account id, 2FA state and role;
// refresh tokens are stored server-side and must match on rotation.
package authz

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// AccessTTL bounds every access token.
	AccessTTL = 15 * time.Minute
	// RefreshTTL is the web refresh token lifetime.
	RefreshTTL = 15 * time.Minute
	// LongRefreshTTL is the chat-bot refresh token lifetime; bots cannot
	// re-enter credentials, so their refresh effectively never expires.
	LongRefreshTTL = 10 * 365 * 24 * time.Hour
)

var (
	// ErrTokenExpired indicates a structurally valid token past its exp.
	ErrTokenExpired = errors.New("authz: token expired")
	// ErrTokenInvalid indicates a token that never was valid.
	ErrTokenInvalid = errors.New("authz: token invalid")
	// ErrRefreshMismatch indicates the presented refresh token is not the
	// stored one.
	ErrRefreshMismatch = errors.New("authz: refresh token mismatch")
)

// Claims is the payload carried by both token kinds.
type Claims struct {
	AccountID   int64  `json:"account_id"`
	TwoFAStatus bool   `json:"two_fa_status"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// TokenPair is one issued access/refresh pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Signer mints and verifies tokens with one HMAC secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer over secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Mint signs one token with the given lifetime.
func (s *Signer) Mint(accountID int64, twoFA bool, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		AccountID:   accountID,
		TwoFAStatus: twoFA,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(s.now().Add(ttl)),
			// jti keeps two pairs minted in the same second distinct
			ID: uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return signed, errors.Wrap(err, "signing token")
}

// MintPair mints an access token and a refresh token with the given
// refresh lifetime.
func (s *Signer) MintPair(accountID int64, twoFA bool, role string, refreshTTL time.Duration) (TokenPair, error) {
	access, err := s.Mint(accountID, twoFA, role, AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.Mint(accountID, twoFA, role, refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify parses and checks a token, classifying expiry apart from every
// other failure.
func (s *Signer) Verify(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(ErrTokenInvalid, err.Error())
	}
	return &claims, nil
}
