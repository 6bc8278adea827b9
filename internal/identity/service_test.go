// Copyright 2026 The AuthGrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/authgrid/internal/cache"
	"github.com/authgrid/authgrid/internal/rbac"
	"github.com/authgrid/authgrid/internal/token"
)

// memUserRepo is an in-memory UserRepository honoring the transactional
// hook contract.
type memUserRepo struct {
	users map[string]*User // by id
}

func newMemUserRepo() *memUserRepo { return &memUserRepo{users: map[string]*User{}} }

func (r *memUserRepo) CreateUser(ctx context.Context, user *User, inTx func(context.Context) error) error {
	for _, u := range r.users {
		if u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	if inTx != nil {
		if err := inTx(ctx); err != nil {
			return err
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) VerifyEmail(_ context.Context, userID string) error {
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	now := time.Now().UTC()
	u.IsVerified = true
	u.VerifiedAt = &now
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, userID, hash string) error {
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *memUserRepo) SetLastLogin(_ context.Context, userID string, at time.Time) error {
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.LastLoginAt = &at
	return nil
}

// fakeSender records every code by purpose.
type fakeSender struct {
	codes map[string]string // purpose -> last code
	sent  int
}

func newFakeSender() *fakeSender { return &fakeSender{codes: map[string]string{}} }

func (s *fakeSender) SendCode(_ context.Context, _, code, purpose string) error {
	s.codes[purpose] = code
	s.sent++
	return nil
}

// stubOrgs implements the org subset of rbac.Repository.
type stubOrgs struct {
	rbac.Repository
	orgs    map[string][]*rbac.Organization // userID
	members map[string]bool                 // userID/orgID
}

func (s *stubOrgs) ListUserOrganizations(_ context.Context, userID string) ([]*rbac.Organization, error) {
	return s.orgs[userID], nil
}

func (s *stubOrgs) IsOrgMember(_ context.Context, userID, orgID string) (bool, error) {
	return s.members[userID+"/"+orgID], nil
}

func (s *stubOrgs) AddMember(_ context.Context, m *rbac.Membership) error {
	if s.members == nil {
		s.members = map[string]bool{}
	}
	s.members[m.UserID+"/"+m.OrganizationID] = true
	s.orgs[m.UserID] = append(s.orgs[m.UserID], &rbac.Organization{ID: m.OrganizationID})
	return nil
}

// stubMinter returns canned tokens and records calls.
type stubMinter struct {
	minted []string // userID/orgID
}

func (m *stubMinter) MintUserTokens(_ context.Context, userID, orgID string) (string, string, int64, error) {
	m.minted = append(m.minted, userID+"/"+orgID)
	return "access-" + userID, "refresh-" + userID, 900, nil
}

type stubRevoker struct{ revoked []string }

func (r *stubRevoker) RevokeAll(_ context.Context, userID string) error {
	r.revoked = append(r.revoked, userID)
	return nil
}

type fixture struct {
	svc    *Service
	repo   *memUserRepo
	sender *fakeSender
	orgs   *stubOrgs
	minter *stubMinter
	rev    *stubRevoker
	mr     *miniredis.Miniredis
}

func newServiceFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.New(client)

	signer, err := token.NewSigner([]byte("0123456789abcdef0123456789abcdef"), "https://auth.test", "authgrid")
	require.NoError(t, err)
	cipher, err := NewSecretCipher([]byte("abcdefghijklmnopqrstuvwxyz012345"))
	require.NoError(t, err)

	f := &fixture{
		repo:   newMemUserRepo(),
		sender: newFakeSender(),
		orgs:   &stubOrgs{orgs: map[string][]*rbac.Organization{}, members: map[string]bool{}},
		minter: &stubMinter{},
		rev:    &stubRevoker{},
		mr:     mr,
	}
	f.svc = NewService(ServiceConfig{
		Repo:         f.repo,
		VerifyTokens: cache.NewOpaqueStore(c, "verify_token", VerificationTTL),
		ResetTokens:  cache.NewOpaqueStore(c, "reset_token", VerificationTTL),
		Cache:        c,
		Sender:       f.sender,
		Signer:       signer,
		Cipher:       cipher,
		TOTP:         NewTOTPIssuer("AuthGrid Test"),
		Minter:       f.minter,
		Revoker:      f.rev,
		Orgs:         f.orgs,
		Logger:       slog.New(slog.DiscardHandler),
	})
	return f
}

func (f *fixture) register(t *testing.T, email, password string) *RegistrationResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), email, password)
	require.NoError(t, err)
	require.NoError(t, f.svc.VerifyEmail(context.Background(), res.VerificationToken, f.sender.codes["verification"]))
	return res
}

func (f *fixture) loginCode(t *testing.T, email, password string) string {
	t.Helper()
	res, err := f.svc.LoginStart(context.Background(), email, password)
	require.NoError(t, err)
	require.Equal(t, StatusCodeSent, res.Status)
	return f.sender.codes["login"]
}

func TestRegister_HappyPath(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, "  Alice@Example.COM ", "correct-horse-7")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", res.Email)
	assert.Len(t, res.VerificationToken, 32)
	assert.NotEmpty(t, f.sender.codes["verification"])

	stored, err := f.repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
	assert.NotContains(t, stored.PasswordHash, "correct-horse-7")

	require.NoError(t, f.svc.VerifyEmail(ctx, res.VerificationToken, f.sender.codes["verification"]))
	stored, err = f.repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)

	// The challenge is single-use.
	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, res.VerificationToken, f.sender.codes["verification"]), ErrInvalidCode)
}

func TestRegister_WeakPassword(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Register(context.Background(), "bob@example.com", "short1")
	assert.ErrorIs(t, err, ErrWeakPassword)
	_, err = f.repo.GetByEmail(context.Background(), "bob@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "carol@example.com", "correct-horse-7")
	_, err := f.svc.Register(context.Background(), "carol@example.com", "correct-horse-7")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

// TestPurpose: Validates registration atomicity.
// Scope: Unit Test
// Expected: When the verification token cannot be staged, the user row is
// rolled back and no mail is sent.
func TestRegister_CacheFailureRollsBack(t *testing.T) {
	f := newServiceFixture(t)
	f.mr.Close()

	_, err := f.svc.Register(context.Background(), "dave@example.com", "correct-horse-7")
	require.Error(t, err)
	_, err = f.repo.GetByEmail(context.Background(), "dave@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Zero(t, f.sender.sent)
}

func TestRegister_DefaultOrganization(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.defaultOrgID = "org-default"

	res, err := f.svc.Register(context.Background(), "erin@example.com", "correct-horse-7")
	require.NoError(t, err)
	ok, _ := f.orgs.IsOrgMember(context.Background(), res.UserID, "org-default")
	assert.True(t, ok)
}

// TestPurpose: Validates the invariant password-reset response.
// Scope: Unit Test
// Security: Account enumeration resistance
// Expected: Unknown addresses receive a decoy token of identical shape and
// no mail; known addresses get a working reset flow.
func TestPasswordReset_Flow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "frank@example.com", "correct-horse-7")
	sentBefore := f.sender.sent

	decoy, err := f.svc.RequestPasswordReset(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Len(t, decoy, 32)
	assert.Equal(t, sentBefore, f.sender.sent)

	resetToken, err := f.svc.RequestPasswordReset(ctx, "frank@example.com")
	require.NoError(t, err)
	assert.Len(t, resetToken, 32)
	code := f.sender.codes["password_reset"]
	require.NotEmpty(t, code)

	assert.ErrorIs(t, f.svc.ConfirmPasswordReset(ctx, resetToken, "000000", "next-password-8"), ErrInvalidCode)

	require.NoError(t, f.svc.ConfirmPasswordReset(ctx, resetToken, code, "next-password-8"))
	assert.NotEmpty(t, f.rev.revoked, "refresh tokens must be revoked on reset")

	_, err = f.svc.LoginStart(ctx, "frank@example.com", "correct-horse-7")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.LoginStart(ctx, "frank@example.com", "next-password-8")
	assert.NoError(t, err)
}

func TestLogin_CredentialFailures(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.LoginStart(ctx, "ghost@example.com", "whatever-123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := f.svc.Register(ctx, "gina@example.com", "correct-horse-7")
	require.NoError(t, err)

	_, err = f.svc.LoginStart(ctx, "gina@example.com", "wrong-password-1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Unverified accounts may not complete login.
	_, err = f.svc.LoginStart(ctx, "gina@example.com", "correct-horse-7")
	assert.ErrorIs(t, err, ErrUserNotVerified)

	require.NoError(t, f.svc.VerifyEmail(ctx, res.VerificationToken, f.sender.codes["verification"]))
	_, err = f.svc.LoginStart(ctx, "gina@example.com", "correct-horse-7")
	assert.NoError(t, err)
}

func TestLogin_SingleOrganization(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	res := f.register(t, "hank@example.com", "correct-horse-7")
	require.NoError(t, f.orgs.AddMember(ctx, &rbac.Membership{UserID: res.UserID, OrganizationID: "org-1"}))

	code := f.loginCode(t, "hank@example.com", "correct-horse-7")

	_, err := f.svc.LoginComplete(ctx, "hank@example.com", "correct-horse-7", "999999", "")
	assert.ErrorIs(t, err, ErrInvalidCode)

	out, err := f.svc.LoginComplete(ctx, "hank@example.com", "correct-horse-7", code, "")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, "org-1", out.OrgID)
	assert.NotEmpty(t, out.AccessToken)

	// The login code is single-use.
	_, err = f.svc.LoginComplete(ctx, "hank@example.com", "correct-horse-7", code, "")
	assert.ErrorIs(t, err, ErrInvalidCode)

	u, _ := f.repo.GetByID(ctx, res.UserID)
	assert.NotNil(t, u.LastLoginAt)
}

func TestLogin_NoOrganizations(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "iris@example.com", "correct-horse-7")
	code := f.loginCode(t, "iris@example.com", "correct-horse-7")

	out, err := f.svc.LoginComplete(context.Background(), "iris@example.com", "correct-horse-7", code, "")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Empty(t, out.OrgID)
}

func TestLogin_MultiOrganizationSelection(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	res := f.register(t, "judy@example.com", "correct-horse-7")
	require.NoError(t, f.orgs.AddMember(ctx, &rbac.Membership{UserID: res.UserID, OrganizationID: "org-1"}))
	require.NoError(t, f.orgs.AddMember(ctx, &rbac.Membership{UserID: res.UserID, OrganizationID: "org-2"}))

	code := f.loginCode(t, "judy@example.com", "correct-horse-7")
	out, err := f.svc.LoginComplete(ctx, "judy@example.com", "correct-horse-7", code, "")
	require.NoError(t, err)
	require.Equal(t, StatusOrgSelection, out.Status)
	assert.Len(t, out.Organizations, 2)
	require.NotEmpty(t, out.SessionToken)

	_, err = f.svc.SelectOrganization(ctx, out.SessionToken, "org-elsewhere")
	assert.ErrorIs(t, err, rbac.ErrNotMember)

	final, err := f.svc.SelectOrganization(ctx, out.SessionToken, "org-2")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, final.Status)
	assert.Equal(t, "org-2", final.OrgID)

	// The session is consumed.
	_, err = f.svc.SelectOrganization(ctx, out.SessionToken, "org-1")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestLogin_ExplicitOrgShortCircuit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	res := f.register(t, "kate@example.com", "correct-horse-7")
	require.NoError(t, f.orgs.AddMember(ctx, &rbac.Membership{UserID: res.UserID, OrganizationID: "org-1"}))
	require.NoError(t, f.orgs.AddMember(ctx, &rbac.Membership{UserID: res.UserID, OrganizationID: "org-2"}))

	code := f.loginCode(t, "kate@example.com", "correct-horse-7")
	out, err := f.svc.LoginComplete(ctx, "kate@example.com", "correct-horse-7", code, "org-2")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, "org-2", out.OrgID)
}

// TestPurpose: Validates the full TOTP lifecycle and lockout.
// Scope: Unit Test
// Security: Second-factor brute-force resistance
// Expected: Setup requires confirmation; login demands the factor; three
// failures lock the exchange until the window passes.
func TestTOTP_Lifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	res := f.register(t, "liam@example.com", "correct-horse-7")

	secret, url, err := f.svc.SetupTOTP(ctx, res.UserID)
	require.NoError(t, err)
	assert.Contains(t, url, "otpauth://")

	assert.ErrorIs(t, f.svc.ActivateTOTP(ctx, res.UserID, "000000"), ErrInvalidCode)

	valid, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.svc.ActivateTOTP(ctx, res.UserID, valid))

	_, _, err = f.svc.SetupTOTP(ctx, res.UserID)
	assert.ErrorIs(t, err, ErrTOTPAlreadyEnabled)

	// Login now returns a pre-auth token instead of tokens.
	code := f.loginCode(t, "liam@example.com", "correct-horse-7")
	out, err := f.svc.LoginComplete(ctx, "liam@example.com", "correct-horse-7", code, "")
	require.NoError(t, err)
	require.Equal(t, StatusTOTPRequired, out.Status)
	require.NotEmpty(t, out.PreAuthToken)
	assert.Empty(t, out.AccessToken)

	// Three bad codes lock the exchange.
	for i := 0; i < 2; i++ {
		_, err = f.svc.CompleteTOTP(ctx, out.PreAuthToken, "000000")
		assert.ErrorIs(t, err, ErrInvalidCode)
	}
	_, err = f.svc.CompleteTOTP(ctx, out.PreAuthToken, "000000")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	valid, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	_, err = f.svc.CompleteTOTP(ctx, out.PreAuthToken, valid)
	assert.ErrorIs(t, err, ErrTooManyAttempts, "lockout holds even for valid codes")

	// The window expires and the exchange succeeds.
	f.mr.FastForward(6 * time.Minute)
	code = f.loginCode(t, "liam@example.com", "correct-horse-7")
	out, err = f.svc.LoginComplete(ctx, "liam@example.com", "correct-horse-7", code, "")
	require.NoError(t, err)
	valid, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	final, err := f.svc.CompleteTOTP(ctx, out.PreAuthToken, valid)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, final.Status)

	// Disable requires a valid current code.
	assert.ErrorIs(t, f.svc.DisableTOTP(ctx, res.UserID, "000000"), ErrInvalidCode)
	valid, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.svc.DisableTOTP(ctx, res.UserID, valid))

	_, err = f.svc.CompleteTOTP(ctx, out.PreAuthToken, valid)
	assert.ErrorIs(t, err, ErrTOTPNotEnabled)
}

func TestCompleteTOTP_RejectsNonPreAuthToken(t *testing.T) {
	f := newServiceFixture(t)
	claims := token.Claims{Type: token.TypeAccess}
	claims.Subject = "user-1"
	access, err := f.svc.signer.Create(claims, time.Minute)
	require.NoError(t, err)

	_, err = f.svc.CompleteTOTP(context.Background(), access, "123456")
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}
