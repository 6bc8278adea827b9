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
	"net/url"

	"github.com/authgrid/authgrid/internal/oauth"
	"github.com/authgrid/authgrid/internal/observability/logger"
	"github.com/authgrid/authgrid/internal/pkce"
)

// authorizeRequest carries the /authorize parameters, whichever carrier
// (query or form) they arrived in.
type authorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	Action              string
}

func authorizeRequestFromValues(v url.Values) authorizeRequest {
	return authorizeRequest{
		ResponseType:        v.Get("response_type"),
		ClientID:            v.Get("client_id"),
		RedirectURI:         v.Get("redirect_uri"),
		Scope:               v.Get("scope"),
		State:               v.Get("state"),
		CodeChallenge:       v.Get("code_challenge"),
		CodeChallengeMethod: v.Get("code_challenge_method"),
		Nonce:               v.Get("nonce"),
		Action:              v.Get("action"),
	}
}

// Authorize handles GET /oauth/authorize (RFC 6749 Section 4.1.1).
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	h.authorize(w, r, authorizeRequestFromValues(r.URL.Query()))
}

// AuthorizeDecision handles POST /oauth/authorize: the consent screen's
// approve or deny submission, parameters carried in hidden form fields.
func (h *Handler) AuthorizeDecision(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "invalid request"))
		return
	}
	h.authorize(w, r, authorizeRequestFromValues(r.PostForm))
}

// authorize runs the authorization endpoint. The validation order is
// security-critical: until the client and redirect_uri have both been
// verified, errors go back as JSON, never as a redirect — otherwise the
// endpoint is an open redirector.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, req authorizeRequest) {
	ctx := r.Context()

	client, err := h.clients.Get(ctx, req.ClientID)
	if err != nil {
		respondOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "unknown client_id"))
		return
	}
	if !h.clients.ValidateRedirectURI(client, req.RedirectURI) {
		respondOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "invalid redirect_uri"))
		return
	}

	// Client and redirect_uri are trusted from here on.
	if req.ResponseType != "code" {
		h.redirectError(w, r, req, oauth.ErrUnsupportedResponseType, "only response_type=code is supported")
		return
	}
	if req.CodeChallenge == "" {
		if client.RequirePKCE {
			h.redirectError(w, r, req, oauth.ErrInvalidRequest, "code_challenge is required")
			return
		}
	} else if req.CodeChallengeMethod != pkce.MethodS256 && req.CodeChallengeMethod != pkce.MethodPlain {
		h.redirectError(w, r, req, oauth.ErrInvalidRequest, "unsupported code_challenge_method")
		return
	}

	claims, ok := h.bearerClaims(r)
	if !ok {
		next := url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, h.loginURL+"?next="+next, http.StatusFound)
		return
	}

	if req.Action == "deny" {
		h.redirectError(w, r, req, oauth.ErrAccessDenied, "the user denied the request")
		return
	}

	requested := oauth.ParseScopes(req.Scope)
	granted, err := h.scopes.ValidateAndGrant(ctx, requested, client.AllowedScopes, claims.Subject, claims.OrgID)
	if err != nil {
		h.log.Error("scope validation failed", logger.ClientID(client.ClientID), logger.Error(err))
		h.redirectError(w, r, req, oauth.ErrServerError, "scope validation failed")
		return
	}
	if len(requested) > 0 && len(granted) == 0 {
		h.redirectError(w, r, req, oauth.ErrInsufficientScope, "none of the requested scopes can be granted")
		return
	}

	if !h.consents.ShouldSkip(client) && req.Action != "approve" {
		status, err := h.consents.Check(ctx, claims.Subject, client.ClientID, claims.OrgID, granted)
		if err != nil {
			h.log.Error("consent check failed", logger.ClientID(client.ClientID), logger.Error(err))
			h.redirectError(w, r, req, oauth.ErrServerError, "consent check failed")
			return
		}
		if status.NeedsNewConsent {
			// The consent UI is owned by the frontend; hand it the full
			// parameter set to round-trip through POST /oauth/authorize.
			respondJSON(w, http.StatusOK, map[string]any{
				"consent_required": true,
				"client_id":        client.ClientID,
				"client_name":      client.ClientName,
				"scopes":           granted,
				"state":            req.State,
				"redirect_uri":     req.RedirectURI,
			})
			return
		}
	}

	if !h.consents.ShouldSkip(client) {
		if err := h.consents.Save(ctx, claims.Subject, client.ClientID, claims.OrgID, granted); err != nil {
			h.log.Error("consent save failed", logger.ClientID(client.ClientID), logger.Error(err))
			h.redirectError(w, r, req, oauth.ErrServerError, "failed to record consent")
			return
		}
	}

	code, err := h.codes.Create(ctx, oauth.CodeRequest{
		ClientID:            client.ClientID,
		UserID:              claims.Subject,
		OrganizationID:      claims.OrgID,
		RedirectURI:         req.RedirectURI,
		Scopes:              granted,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
	})
	if err != nil {
		h.log.Error("code issuance failed", logger.ClientID(client.ClientID), logger.Error(err))
		h.redirectError(w, r, req, oauth.ErrServerError, "failed to issue authorization code")
		return
	}

	params := url.Values{"code": {code}}
	if req.State != "" {
		params.Set("state", req.State)
	}
	http.Redirect(w, r, addQueryParams(req.RedirectURI, params), http.StatusFound)
}

// redirectError sends a protocol error back to the validated redirect_uri,
// preserving state (RFC 6749 Section 4.1.2.1).
func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, req authorizeRequest, code, description string) {
	params := url.Values{
		"error":             {code},
		"error_description": {description},
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	http.Redirect(w, r, addQueryParams(req.RedirectURI, params), http.StatusFound)
}

// addQueryParams appends encoded query parameters to a URL.
func addQueryParams(rawURL string, params url.Values) string {
	sep := "?"
	if u, err := url.Parse(rawURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return rawURL + sep + params.Encode()
}

// Token handles POST /oauth/token (RFC 6749 Section 3.2).
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "invalid request"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	client, err := h.clients.Authenticate(r.Context(), clientID, clientSecret)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="OAuth 2.0"`)
		h.respondTokenError(w, r, err)
		return
	}

	var resp *oauth.TokenResponse
	grantType := r.Form.Get("grant_type")
	switch grantType {
	case "authorization_code":
		resp, err = h.exchangeCode(r, client)
	case "refresh_token":
		resp, err = h.tokens.Refresh(r.Context(), r.Form.Get("refresh_token"), client.ClientID, r.Form.Get("scope"))
	default:
		respondOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrUnsupportedGrantType, "unsupported grant_type"))
		return
	}

	if err != nil {
		h.respondTokenError(w, r, err)
		return
	}

	// Prevent caching (RFC 6749 Section 5.1)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	respondJSON(w, http.StatusOK, resp)
}

// exchangeCode runs the authorization_code grant (RFC 6749 Section 4.1.3).
func (h *Handler) exchangeCode(r *http.Request, client *oauth.Client) (*oauth.TokenResponse, error) {
	code := r.Form.Get("code")
	redirectURI := r.Form.Get("redirect_uri")
	verifier := r.Form.Get("code_verifier")
	if code == "" || redirectURI == "" {
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "code and redirect_uri are required")
	}
	if !h.clients.ValidateRedirectURI(client, redirectURI) {
		return nil, oauth.NewError(oauth.ErrInvalidGrant, "invalid authorization code")
	}

	record, err := h.codes.ValidateAndConsume(r.Context(), code, client.ClientID, redirectURI, verifier)
	if err != nil {
		return nil, err
	}

	return h.tokens.Issue(r.Context(), record.UserID, record.OrganizationID,
		oauth.JoinScopes(record.Scopes), client.ClientID)
}

// Revoke handles POST /oauth/revoke (RFC 7009). Once the client has
// authenticated, the endpoint answers 200 regardless of the token's state.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "invalid request"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	client, err := h.clients.Authenticate(r.Context(), clientID, clientSecret)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="OAuth 2.0"`)
		h.respondTokenError(w, r, err)
		return
	}

	if err := h.tokens.Revoke(r.Context(), r.Form.Get("token"), client.ClientID); err != nil {
		h.log.Warn("revocation failed", logger.ClientID(client.ClientID), logger.Error(err))
	}

	// RFC 7009 Section 2.2: 200 regardless of whether the token was
	// already revoked or invalid.
	w.WriteHeader(http.StatusOK)
}

// Discovery serves GET /.well-known/oauth-authorization-server (RFC 8414).
func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"issuer":                                h.issuer,
		"authorization_endpoint":                h.issuer + "/oauth/authorize",
		"token_endpoint":                        h.issuer + "/oauth/token",
		"revocation_endpoint":                   h.issuer + "/oauth/revoke",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
		"code_challenge_methods_supported":      []string{pkce.MethodS256, pkce.MethodPlain},
		"scopes_supported":                      h.advertised,
	})
}

// clientCredentials extracts the client id and secret from the form body
// or HTTP Basic auth (RFC 6749 Section 2.3.1).
func clientCredentials(r *http.Request) (string, string) {
	clientID := r.Form.Get("client_id")
	clientSecret := r.Form.Get("client_secret")
	if clientID == "" {
		if username, password, ok := r.BasicAuth(); ok {
			clientID = username
			clientSecret = password
		}
	}
	return clientID, clientSecret
}

// respondTokenError serializes a protocol error; anything unexpected is
// reported opaquely as server_error.
func (h *Handler) respondTokenError(w http.ResponseWriter, r *http.Request, err error) {
	var oerr *oauth.Error
	if errors.As(err, &oerr) {
		status := http.StatusBadRequest
		switch oerr.Code {
		case oauth.ErrInvalidClient:
			status = http.StatusUnauthorized
		case oauth.ErrServerError:
			status = http.StatusInternalServerError
		}
		respondOAuthError(w, status, oerr)
		return
	}

	h.log.Error("token request failed", logger.Path(r.URL.Path), logger.Error(err))
	respondOAuthError(w, http.StatusInternalServerError, oauth.NewError(oauth.ErrServerError, "internal server error"))
}
