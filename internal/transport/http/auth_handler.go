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

package http

import (
	"errors"
	"net/http"

	"github.com/authgrid/authgrid/internal/identity"
	"github.com/authgrid/authgrid/internal/oauth"
	"github.com/authgrid/authgrid/internal/observability/logger"
	"github.com/authgrid/authgrid/internal/rbac"
	"github.com/authgrid/authgrid/internal/token"
)

// RegisterRequest represents registration data
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles user registration. The verification token is returned
// in the response body; the matching code travels by email.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := h.identityService.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrDuplicateEmail):
			respondError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error("registration failed", logger.Email(req.Email), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"message":            "verification code sent",
		"email":              result.Email,
		"user_id":            result.UserID,
		"verification_token": result.VerificationToken,
	})
}

// VerifyCodeRequest carries the email verification proof
type VerifyCodeRequest struct {
	VerificationToken string `json:"verification_token"`
	Code              string `json:"code"`
}

// VerifyCode confirms a registration email
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.identityService.VerifyEmail(r.Context(), req.VerificationToken, req.Code); err != nil {
		if errors.Is(err, identity.ErrInvalidCode) {
			respondError(w, http.StatusBadRequest, "invalid or expired code")
			return
		}
		h.log.Error("email verification failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

// LoginRequest is the single login endpoint's polymorphic input. Without a
// code it starts the email challenge; with one it completes it.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
	OrgID    string `json:"org_id,omitempty"`
}

// Login handles both steps of the email-code login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Code == "" {
		result, err := h.identityService.LoginStart(r.Context(), req.Username, req.Password)
		if err != nil {
			h.respondLoginError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status":     result.Status,
			"message":    "login code sent",
			"expires_in": result.ExpiresIn,
		})
		return
	}

	result, err := h.identityService.LoginComplete(r.Context(), req.Username, req.Password, req.Code, req.OrgID)
	if err != nil {
		h.respondLoginError(w, err)
		return
	}
	h.respondLoginResult(w, result)
}

// SelectOrganizationRequest completes a multi-organization login
type SelectOrganizationRequest struct {
	SessionToken   string `json:"session_token"`
	OrganizationID string `json:"organization_id"`
}

// SelectOrganization redeems a login session against a chosen organization
func (h *Handler) SelectOrganization(w http.ResponseWriter, r *http.Request) {
	var req SelectOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.identityService.SelectOrganization(r.Context(), req.SessionToken, req.OrganizationID)
	if err != nil {
		h.respondLoginError(w, err)
		return
	}
	h.respondLoginResult(w, result)
}

func (h *Handler) respondLoginResult(w http.ResponseWriter, result *identity.LoginResult) {
	switch result.Status {
	case identity.StatusTOTPRequired:
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondJSON(w, http.StatusUnauthorized, map[string]any{
			"status":         result.Status,
			"pre_auth_token": result.PreAuthToken,
			"expires_in":     result.ExpiresIn,
		})
	case identity.StatusOrgSelection:
		orgs := make([]map[string]string, 0, len(result.Organizations))
		for _, org := range result.Organizations {
			orgs = append(orgs, map[string]string{
				"id":   org.ID,
				"name": org.Name,
				"slug": org.Slug,
			})
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status":        result.Status,
			"session_token": result.SessionToken,
			"organizations": orgs,
		})
	default:
		body := map[string]any{
			"status":        result.Status,
			"access_token":  result.AccessToken,
			"refresh_token": result.RefreshToken,
			"token_type":    "bearer",
			"expires_in":    result.ExpiresIn,
		}
		if result.OrgID != "" {
			body["org_id"] = result.OrgID
		}
		respondJSON(w, http.StatusOK, body)
	}
}

func (h *Handler) respondLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrInvalidCode):
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, identity.ErrUserNotVerified):
		respondError(w, http.StatusForbidden, "email address not verified")
	case errors.Is(err, identity.ErrUserInactive):
		respondError(w, http.StatusForbidden, "account is deactivated")
	case errors.Is(err, identity.ErrTooManyAttempts):
		respondError(w, http.StatusTooManyRequests, "too many failed attempts")
	case errors.Is(err, identity.ErrInvalidSession):
		respondError(w, http.StatusUnauthorized, "invalid or expired login session")
	case errors.Is(err, rbac.ErrNotMember):
		respondError(w, http.StatusForbidden, "not a member of the organization")
	case errors.Is(err, token.ErrInvalidToken), errors.Is(err, token.ErrTokenExpired):
		respondError(w, http.StatusUnauthorized, "invalid or expired token")
	default:
		h.log.Error("login failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "login failed")
	}
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

// RefreshTokens rotates a first-party refresh token
func (h *Handler) RefreshTokens(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.tokens.Refresh(r.Context(), req.RefreshToken, "", req.Scope)
	if err != nil {
		var oerr *oauth.Error
		if errors.As(err, &oerr) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			respondError(w, http.StatusUnauthorized, oerr.Description)
			return
		}
		h.log.Error("token refresh failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Logout revokes the presented refresh token. It always succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.tokens.Revoke(r.Context(), req.RefreshToken, ""); err != nil {
		h.log.Warn("logout revocation failed", logger.Error(err))
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// PasswordResetRequest starts a reset flow
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset responds identically whether or not the account
// exists.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resetToken, err := h.identityService.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		h.log.Error("password reset request failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "reset request failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message":     "if the address exists, a reset code has been sent",
		"reset_token": resetToken,
	})
}

// ResetPasswordRequest completes a reset flow
type ResetPasswordRequest struct {
	ResetToken  string `json:"reset_token"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// ResetPassword sets a new password and revokes every refresh token
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.identityService.ConfirmPasswordReset(r.Context(), req.ResetToken, req.Code, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCode):
			respondError(w, http.StatusBadRequest, "invalid or expired code")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error("password reset failed", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "password reset failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// TwoFactorSetup begins TOTP enrollment for the authenticated user
func (h *Handler) TwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	secret, url, err := h.identityService.SetupTOTP(r.Context(), GetUserID(r.Context()))
	if err != nil {
		if errors.Is(err, identity.ErrTOTPAlreadyEnabled) {
			respondError(w, http.StatusConflict, "totp is already enabled")
			return
		}
		h.log.Error("totp setup failed", logger.UserID(GetUserID(r.Context())), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "totp setup failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"secret":      secret,
		"otpauth_url": url,
	})
}

// TwoFactorVerifyRequest serves two verifications: a pre-auth token during
// login, or an authenticated enrollment activation.
type TwoFactorVerifyRequest struct {
	PreAuthToken string `json:"pre_auth_token,omitempty"`
	Code         string `json:"code"`
}

// TwoFactorVerify completes a TOTP challenge
func (h *Handler) TwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.PreAuthToken != "" {
		result, err := h.identityService.CompleteTOTP(r.Context(), req.PreAuthToken, req.Code)
		if err != nil {
			h.respondLoginError(w, err)
			return
		}
		h.respondLoginResult(w, result)
		return
	}

	claims, ok := h.bearerClaims(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.identityService.ActivateTOTP(r.Context(), claims.Subject, req.Code); err != nil {
		switch {
		case errors.Is(err, identity.ErrNoPendingSetup):
			respondError(w, http.StatusBadRequest, "no pending totp setup")
		case errors.Is(err, identity.ErrInvalidCode):
			respondError(w, http.StatusBadRequest, "invalid code")
		default:
			h.log.Error("totp activation failed", logger.UserID(claims.Subject), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "totp activation failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "totp enabled"})
}

// TwoFactorDisableRequest carries the disabling proof
type TwoFactorDisableRequest struct {
	Code string `json:"code"`
}

// TwoFactorDisable turns off the second factor; it demands a valid code so
// a stolen session cannot silently weaken the account.
func (h *Handler) TwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorDisableRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := GetUserID(r.Context())
	if err := h.identityService.DisableTOTP(r.Context(), userID, req.Code); err != nil {
		switch {
		case errors.Is(err, identity.ErrTOTPNotEnabled):
			respondError(w, http.StatusBadRequest, "totp is not enabled")
		case errors.Is(err, identity.ErrInvalidCode):
			respondError(w, http.StatusBadRequest, "invalid code")
		case errors.Is(err, identity.ErrTooManyAttempts):
			respondError(w, http.StatusTooManyRequests, "too many failed attempts")
		default:
			h.log.Error("totp disable failed", logger.UserID(userID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "totp disable failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "totp disabled"})
}
