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
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticIssuer hands back fixed tokens.
type staticIssuer struct{ calls int }

func (s *staticIssuer) IssuePair(context.Context, int64, bool, string) (string, string, error) {
	s.calls++
	return "access-token", "refresh-token", nil
}

func serviceFixture() (*Service, *staticIssuer) {
	issuer := &staticIssuer{}
	return NewService(NewMemoryRepo(), issuer, "pepper", "capstan", nil), issuer
}

func TestRegisterAndLogin(t *testing.T) {
	svc, issuer := serviceFixture()
	ctx := context.Background()

	id, err := svc.Register(ctx, "carol", "hunter2")
	require.NoError(t, err)

	res, err := svc.Login(ctx, "carol", "hunter2", "employee")
	require.NoError(t, err)
	assert.Equal(t, id, res.AccountID)
	assert.False(t, res.TwoFAStatus)
	assert.Equal(t, "access-token", res.AccessToken)
	assert.Equal(t, 1, issuer.calls)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc, issuer := serviceFixture()
	ctx := context.Background()

	_, err := svc.Register(ctx, "carol", "hunter2")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "carol", "wrong", "employee")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = svc.Login(ctx, "nobody", "hunter2", "employee")
	assert.ErrorIs(t, err, ErrBadCredentials)
	assert.Zero(t, issuer.calls, "no tokens for failed logins")
}

func TestRegisterDuplicateLogin(t *testing.T) {
	svc, _ := serviceFixture()
	ctx := context.Background()

	_, err := svc.Register(ctx, "carol", "hunter2")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "carol", "other")
	assert.ErrorIs(t, err, ErrLoginTaken)
}

func TestTOTPLifecycle(t *testing.T) {
	svc, _ := serviceFixture()
	ctx := context.Background()

	id, err := svc.Register(ctx, "carol", "hunter2")
	require.NoError(t, err)

	secret, uri, err := svc.EnrollTOTP(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.Contains(t, uri, "otpauth://totp/")
	assert.Contains(t, uri, "capstan")

	// not persisted until confirmed
	assert.ErrorIs(t, svc.VerifyTOTP(ctx, id, "000000"), ErrNotEnrolled)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, svc.ConfirmTOTP(ctx, id, secret, "000000"), ErrBadTOTPCode)
	require.NoError(t, svc.ConfirmTOTP(ctx, id, secret, code))

	// enrolled now: login reports 2FA, codes verify
	res, err := svc.Login(ctx, "carol", "hunter2", "employee")
	require.NoError(t, err)
	assert.True(t, res.TwoFAStatus)

	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.VerifyTOTP(ctx, id, code))
	assert.ErrorIs(t, svc.VerifyTOTP(ctx, id, "000000"), ErrBadTOTPCode)

	_, _, err = svc.EnrollTOTP(ctx, id)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)

	// delete needs a valid code, then 2FA is off again
	assert.ErrorIs(t, svc.DeleteTOTP(ctx, id, "000000"), ErrBadTOTPCode)
	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.DeleteTOTP(ctx, id, code))
	assert.ErrorIs(t, svc.VerifyTOTP(ctx, id, "000000"), ErrNotEnrolled)
}

func TestChangePassword(t *testing.T) {
	svc, _ := serviceFixture()
	ctx := context.Background()

	id, err := svc.Register(ctx, "carol", "hunter2")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword(ctx, id, "wrong", "next"), ErrBadCredentials)
	require.NoError(t, svc.ChangePassword(ctx, id, "hunter2", "next"))

	_, err = svc.Login(ctx, "carol", "hunter2", "employee")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = svc.Login(ctx, "carol", "next", "employee")
	assert.NoError(t, err)
}
