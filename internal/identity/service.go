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
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/authgrid/authgrid/internal/cache"
	"github.com/authgrid/authgrid/internal/email"
	"github.com/authgrid/authgrid/internal/observability/logger"
	"github.com/authgrid/authgrid/internal/rbac"
	"github.com/authgrid/authgrid/internal/token"
)

// Lifetimes for the short-lived login state.
const (
	VerificationTTL = 10 * time.Minute
	LoginCodeTTL    = 10 * time.Minute
	PreAuthTTL      = 5 * time.Minute
	SessionTTL      = 10 * time.Minute
	SetupTTL        = 10 * time.Minute

	attemptWindow = 5 * time.Minute
	maxAttempts   = 3
)

// ErrInvalidSession is returned for unknown or expired login sessions.
var ErrInvalidSession = errors.New("invalid or expired login session")

// Login result statuses.
const (
	StatusCodeSent     = "code_sent"
	StatusTOTPRequired = "totp_required"
	StatusOrgSelection = "organization_selection"
	StatusOK           = "ok"
)

// TokenMinter mints the org- or user-scoped token pair once login
// completes. Implemented by the OAuth token service.
type TokenMinter interface {
	MintUserTokens(ctx context.Context, userID, orgID string) (access, refresh string, expiresIn int64, err error)
}

// TokenRevoker revokes every refresh token a user holds.
type TokenRevoker interface {
	RevokeAll(ctx context.Context, userID string) error
}

// RegistrationResult is returned from Register. The verification token
// travels back in the response; the code only by mail.
type RegistrationResult struct {
	UserID            string
	Email             string
	VerificationToken string
}

// LoginResult is the polymorphic outcome of the login steps.
type LoginResult struct {
	Status        string
	ExpiresIn     int64
	Organizations []*rbac.Organization
	SessionToken  string
	PreAuthToken  string
	AccessToken   string
	RefreshToken  string
	OrgID         string
}

// Service implements the identity lifecycle.
type Service struct {
	repo         UserRepository
	hasher       *PasswordHasher
	checker      PasswordChecker
	verifyTokens *cache.OpaqueStore
	resetTokens  *cache.OpaqueStore
	cache        *cache.Cache
	sender       email.Sender
	signer       *token.Signer
	cipher       *SecretCipher
	totp         *TOTPIssuer
	minter       TokenMinter
	revoker      TokenRevoker
	orgs         rbac.Repository
	defaultOrgID string
	log          *slog.Logger
}

// ServiceConfig carries the service collaborators.
type ServiceConfig struct {
	Repo         UserRepository
	Hasher       *PasswordHasher
	Checker      PasswordChecker
	VerifyTokens *cache.OpaqueStore
	ResetTokens  *cache.OpaqueStore
	Cache        *cache.Cache
	Sender       email.Sender
	Signer       *token.Signer
	Cipher       *SecretCipher
	TOTP         *TOTPIssuer
	Minter       TokenMinter
	Revoker      TokenRevoker
	Orgs         rbac.Repository
	DefaultOrgID string
	Logger       *slog.Logger
}

// NewService creates the identity service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Checker == nil {
		cfg.Checker = DefaultPasswordPolicy()
	}
	if cfg.Hasher == nil {
		cfg.Hasher = DefaultPasswordHasher()
	}
	return &Service{
		repo:         cfg.Repo,
		hasher:       cfg.Hasher,
		checker:      cfg.Checker,
		verifyTokens: cfg.VerifyTokens,
		resetTokens:  cfg.ResetTokens,
		cache:        cfg.Cache,
		sender:       cfg.Sender,
		signer:       cfg.Signer,
		cipher:       cfg.Cipher,
		totp:         cfg.TOTP,
		minter:       cfg.Minter,
		revoker:      cfg.Revoker,
		orgs:         cfg.Orgs,
		defaultOrgID: cfg.DefaultOrgID,
		log:          cfg.Logger,
	}
}

func loginCodeKey(userID string) string    { return "2FA:" + userID + ":login" }
func totpSecretKey(userID string) string   { return "2FA:" + userID + ":totp_secret" }
func totpEnabledKey(userID string) string  { return "2FA:" + userID + ":totp_enabled" }
func setupPendingKey(userID string) string { return "2FA:" + userID + ":setup_pending" }
func attemptsKey(userID, purpose string) string {
	return "2FA_ATTEMPTS:" + userID + ":" + purpose
}
func sessionKey(sessionID string) string { return "LOGIN_SESSION:" + sessionID }

// Register creates a user and stages their verification challenge. The
// password is checked before any write; the verification token is written
// inside the user insert's transaction so a cache failure rolls the user
// back, and the mail goes out only after the commit.
func (s *Service) Register(ctx context.Context, emailAddr, password string) (*RegistrationResult, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if err := s.checker.Check(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.New().String(),
		Email:        emailAddr,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	code := generateCode()
	var verificationToken string
	err = s.repo.CreateUser(ctx, user, func(txCtx context.Context) error {
		tok, err := s.verifyTokens.Store(txCtx, user.ID, code)
		if err != nil {
			return err
		}
		verificationToken = tok
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.defaultOrgID != "" {
		if err := s.orgs.AddMember(ctx, &rbac.Membership{
			UserID:         user.ID,
			OrganizationID: s.defaultOrgID,
			Role:           rbac.RoleMember,
			JoinedAt:       user.CreatedAt,
		}); err != nil {
			s.log.Warn("default organization assignment failed",
				logger.UserID(user.ID), logger.Error(err))
		}
	}

	// Mail is retryable via the returned token; a send failure must not
	// undo the registration.
	if err := s.sender.SendCode(ctx, emailAddr, code, email.PurposeVerification); err != nil {
		s.log.Warn("verification mail failed", logger.Email(emailAddr), logger.Error(err))
	}

	return &RegistrationResult{
		UserID:            user.ID,
		Email:             emailAddr,
		VerificationToken: verificationToken,
	}, nil
}

// VerifyEmail redeems a verification token and code.
func (s *Service) VerifyEmail(ctx context.Context, verificationToken, code string) error {
	userID, err := s.verifyTokens.Verify(ctx, verificationToken, code)
	if err != nil {
		return ErrInvalidCode
	}
	if err := s.repo.VerifyEmail(ctx, userID); err != nil {
		return err
	}
	return s.verifyTokens.Delete(ctx, verificationToken)
}

// RequestPasswordReset stages a reset challenge. The response is invariant
// whether or not the address is registered: unknown addresses get a decoy
// token so the shape and timing do not leak account existence.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) (string, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))

	user, err := s.repo.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return decoyToken(), nil
		}
		return "", err
	}

	code := generateCode()
	resetToken, err := s.resetTokens.Store(ctx, user.ID, code)
	if err != nil {
		return "", err
	}
	if err := s.sender.SendCode(ctx, emailAddr, code, email.PurposePasswordReset); err != nil {
		s.log.Warn("reset mail failed", logger.Email(emailAddr), logger.Error(err))
	}
	return resetToken, nil
}

// ConfirmPasswordReset redeems the reset challenge, rotates the password,
// and revokes every refresh token the user holds.
func (s *Service) ConfirmPasswordReset(ctx context.Context, resetToken, code, newPassword string) error {
	userID, err := s.resetTokens.Verify(ctx, resetToken, code)
	if err != nil {
		return ErrInvalidCode
	}
	if err := s.checker.Check(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.resetTokens.Delete(ctx, resetToken); err != nil {
		s.log.Warn("reset token cleanup failed", logger.UserID(userID), logger.Error(err))
	}
	return s.revoker.RevokeAll(ctx, userID)
}

// LoginStart validates credentials and mails a 6-digit login code.
func (s *Service) LoginStart(ctx context.Context, emailAddr, password string) (*LoginResult, error) {
	user, err := s.authenticate(ctx, emailAddr, password)
	if err != nil {
		return nil, err
	}

	code := generateCode()
	if err := s.cache.Set(ctx, loginCodeKey(user.ID), code, LoginCodeTTL); err != nil {
		return nil, err
	}
	if err := s.sender.SendCode(ctx, user.Email, code, email.PurposeLogin); err != nil {
		return nil, fmt.Errorf("failed to send login code: %w", err)
	}

	return &LoginResult{
		Status:    StatusCodeSent,
		ExpiresIn: int64(LoginCodeTTL.Seconds()),
	}, nil
}

// LoginComplete redeems the login code. Depending on the account it mints
// tokens, demands a TOTP exchange, or offers organization selection.
// orgID, when present, short-circuits the selection step.
func (s *Service) LoginComplete(ctx context.Context, emailAddr, password, code, orgID string) (*LoginResult, error) {
	user, err := s.authenticate(ctx, emailAddr, password)
	if err != nil {
		return nil, err
	}

	stored, err := s.cache.Get(ctx, loginCodeKey(user.ID))
	if err != nil {
		return nil, ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return nil, ErrInvalidCode
	}
	if err := s.cache.Delete(ctx, loginCodeKey(user.ID)); err != nil {
		return nil, err
	}

	if s.totpEnabled(ctx, user.ID) {
		claims := token.Claims{Type: token.TypePreAuth}
		claims.Subject = user.ID
		preAuth, err := s.signer.Create(claims, PreAuthTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to mint pre-auth token: %w", err)
		}
		return &LoginResult{
			Status:       StatusTOTPRequired,
			PreAuthToken: preAuth,
			ExpiresIn:    int64(PreAuthTTL.Seconds()),
		}, nil
	}

	return s.resolveOrganizations(ctx, user.ID, orgID)
}

// CompleteTOTP exchanges a pre-auth token plus a valid TOTP code for
// tokens. Three failures within the window lock the exchange until the
// counter expires.
func (s *Service) CompleteTOTP(ctx context.Context, preAuthToken, code string) (*LoginResult, error) {
	claims, err := s.signer.Decode(preAuthToken)
	if err != nil || claims.Type != token.TypePreAuth {
		return nil, token.ErrInvalidToken
	}
	userID := claims.Subject

	if s.attemptsExceeded(ctx, userID, "totp") {
		return nil, ErrTooManyAttempts
	}

	secret, err := s.totpSecret(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.totp.Validate(code, secret) {
		n, ierr := s.cache.Increment(ctx, attemptsKey(userID, "totp"), attemptWindow)
		if ierr != nil {
			s.log.Warn("attempt counter failed", logger.UserID(userID), logger.Error(ierr))
		}
		if n >= maxAttempts {
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidCode
	}

	if err := s.cache.Delete(ctx, attemptsKey(userID, "totp")); err != nil {
		s.log.Warn("attempt counter cleanup failed", logger.UserID(userID), logger.Error(err))
	}
	return s.resolveOrganizations(ctx, userID, "")
}

// SelectOrganization finishes a multi-organization login.
func (s *Service) SelectOrganization(ctx context.Context, sessionToken, orgID string) (*LoginResult, error) {
	raw, err := s.cache.Get(ctx, sessionKey(sessionToken))
	if err != nil {
		return nil, ErrInvalidSession
	}
	var session struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, ErrInvalidSession
	}

	member, err := s.orgs.IsOrgMember(ctx, session.UserID, orgID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, rbac.ErrNotMember
	}
	if err := s.cache.Delete(ctx, sessionKey(sessionToken)); err != nil {
		return nil, err
	}
	return s.mint(ctx, session.UserID, orgID)
}

// SetupTOTP stages a new TOTP secret. The secret only becomes active once
// ActivateTOTP sees a valid code from it.
func (s *Service) SetupTOTP(ctx context.Context, userID string) (secret, url string, err error) {
	if s.totpEnabled(ctx, userID) {
		return "", "", ErrTOTPAlreadyEnabled
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return "", "", err
	}

	secret, url, err = s.totp.Generate(user.Email)
	if err != nil {
		return "", "", err
	}
	sealed, err := s.cipher.Encrypt(secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt totp secret: %w", err)
	}
	if err := s.cache.Set(ctx, setupPendingKey(userID), sealed, SetupTTL); err != nil {
		return "", "", err
	}
	return secret, url, nil
}

// ActivateTOTP confirms a staged secret with a valid code.
func (s *Service) ActivateTOTP(ctx context.Context, userID, code string) error {
	sealed, err := s.cache.Get(ctx, setupPendingKey(userID))
	if err != nil {
		return ErrNoPendingSetup
	}
	secret, err := s.cipher.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("failed to decrypt staged secret: %w", err)
	}
	if !s.totp.Validate(code, secret) {
		return ErrInvalidCode
	}

	if err := s.cache.Set(ctx, totpSecretKey(userID), sealed, 0); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, totpEnabledKey(userID), "true", 0); err != nil {
		return err
	}
	return s.cache.Delete(ctx, setupPendingKey(userID))
}

// DisableTOTP turns the second factor off after a valid current code.
func (s *Service) DisableTOTP(ctx context.Context, userID, code string) error {
	secret, err := s.totpSecret(ctx, userID)
	if err != nil {
		return err
	}
	if !s.totp.Validate(code, secret) {
		return ErrInvalidCode
	}
	return s.cache.Delete(ctx, totpSecretKey(userID), totpEnabledKey(userID))
}

// authenticate resolves the user and verifies the password. All credential
// failures collapse into ErrInvalidCredentials.
func (s *Service) authenticate(ctx context.Context, emailAddr, password string) (*User, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	user, err := s.repo.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if !user.IsVerified {
		return nil, ErrUserNotVerified
	}
	return user, nil
}

// resolveOrganizations implements the 0/1/many rule after the second
// factor clears.
func (s *Service) resolveOrganizations(ctx context.Context, userID, requestedOrgID string) (*LoginResult, error) {
	if requestedOrgID != "" {
		member, err := s.orgs.IsOrgMember(ctx, userID, requestedOrgID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, rbac.ErrNotMember
		}
		return s.mint(ctx, userID, requestedOrgID)
	}

	orgs, err := s.orgs.ListUserOrganizations(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch len(orgs) {
	case 0:
		return s.mint(ctx, userID, "")
	case 1:
		return s.mint(ctx, userID, orgs[0].ID)
	default:
		sessionID := uuid.New().String()
		payload, _ := json.Marshal(map[string]string{"user_id": userID})
		if err := s.cache.Set(ctx, sessionKey(sessionID), string(payload), SessionTTL); err != nil {
			return nil, err
		}
		return &LoginResult{
			Status:        StatusOrgSelection,
			SessionToken:  sessionID,
			Organizations: orgs,
			ExpiresIn:     int64(SessionTTL.Seconds()),
		}, nil
	}
}

func (s *Service) mint(ctx context.Context, userID, orgID string) (*LoginResult, error) {
	access, refresh, expiresIn, err := s.minter.MintUserTokens(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetLastLogin(ctx, userID, time.Now().UTC()); err != nil {
		s.log.Warn("last login update failed", logger.UserID(userID), logger.Error(err))
	}
	return &LoginResult{
		Status:       StatusOK,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
		OrgID:        orgID,
	}, nil
}

func (s *Service) totpEnabled(ctx context.Context, userID string) bool {
	val, err := s.cache.Get(ctx, totpEnabledKey(userID))
	return err == nil && val == "true"
}

func (s *Service) totpSecret(ctx context.Context, userID string) (string, error) {
	sealed, err := s.cache.Get(ctx, totpSecretKey(userID))
	if err != nil {
		return "", ErrTOTPNotEnabled
	}
	secret, err := s.cipher.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt totp secret: %w", err)
	}
	return secret, nil
}

func (s *Service) attemptsExceeded(ctx context.Context, userID, purpose string) bool {
	val, err := s.cache.Get(ctx, attemptsKey(userID, purpose))
	if err != nil {
		return false
	}
	var n int
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
		return false
	}
	return n >= maxAttempts
}

// generateCode returns a 6-digit numeric code from the CSPRNG.
func generateCode() string {
	var raw [4]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("%06d", binary.BigEndian.Uint32(raw[:])%1000000)
}

// decoyToken mirrors the opaque token shape for nonexistent accounts.
func decoyToken() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(raw[:])
}
