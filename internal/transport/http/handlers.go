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

// Package http is the transport layer: routing, middleware, and the JSON
// and OAuth wire formats.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/authgrid/authgrid/internal/authz"
	"github.com/authgrid/authgrid/internal/identity"
	"github.com/authgrid/authgrid/internal/oauth"
	"github.com/authgrid/authgrid/internal/token"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	tokens          *oauth.TokenService
	clients         *oauth.ClientRegistry
	scopes          *oauth.ScopeService
	consents        *oauth.ConsentService
	codes           *oauth.CodeService
	pdp             *authz.PDP
	signer          *token.Signer
	issuer          string
	loginURL        string
	advertised      []string
	log             *slog.Logger
}

// Config holds handler configuration
type Config struct {
	// Issuer is the external base URL advertised in discovery metadata.
	Issuer string
	// LoginURL is where an unauthenticated authorize request is sent.
	LoginURL string
	// AdvertisedScopes is the scope list published in discovery metadata.
	AdvertisedScopes []string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	identityService *identity.Service,
	tokens *oauth.TokenService,
	clients *oauth.ClientRegistry,
	scopes *oauth.ScopeService,
	consents *oauth.ConsentService,
	codes *oauth.CodeService,
	pdp *authz.PDP,
	signer *token.Signer,
	cfg Config,
	log *slog.Logger,
) *Handler {
	if cfg.LoginURL == "" {
		cfg.LoginURL = "/login"
	}
	return &Handler{
		identityService: identityService,
		tokens:          tokens,
		clients:         clients,
		scopes:          scopes,
		consents:        consents,
		codes:           codes,
		pdp:             pdp,
		signer:          signer,
		issuer:          cfg.Issuer,
		loginURL:        cfg.LoginURL,
		advertised:      cfg.AdvertisedScopes,
		log:             log,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, debug bool) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(SecurityHeadersMiddleware(debug))
	r.Use(IntentMiddleware(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(BodyLimit(defaultBodyLimit))

	// Health check
	r.Get("/health", h.HealthCheck)

	// OAuth metadata (RFC 8414)
	r.Get("/.well-known/oauth-authorization-server", h.Discovery)

	// OAuth flow
	r.Route("/oauth", func(r chi.Router) {
		r.Get("/authorize", h.Authorize)
		r.Post("/authorize", h.AuthorizeDecision)
		r.Post("/token", h.Token)
		r.Post("/revoke", h.Revoke)
	})

	// Authentication
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/verify-code", h.VerifyCode)
		r.Post("/login", h.Login)
		r.Post("/select-organization", h.SelectOrganization)

		r.Group(func(r chi.Router) {
			r.Use(BodyLimit(smallBodyLimit))
			r.Post("/refresh", h.RefreshTokens)
			r.Post("/logout", h.Logout)
			r.Post("/request-password-reset", h.RequestPasswordReset)
			r.Post("/reset-password", h.ResetPassword)
		})

		r.Route("/2fa", func(r chi.Router) {
			r.Use(BodyLimit(smallBodyLimit))
			r.Post("/verify", h.TwoFactorVerify)
			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Post("/setup", h.TwoFactorSetup)
				r.Post("/disable", h.TwoFactorDisable)
			})
		})
	})

	// Authorization decisions
	r.Post("/authorize", h.CheckPermission)
	r.With(h.AuthMiddleware).Get("/users/{userID}/permissions", h.ListUserPermissions)

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "authgrid",
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondOAuthError renders the RFC 6749 error body.
func respondOAuthError(w http.ResponseWriter, status int, err *oauth.Error) {
	respondJSON(w, status, err)
}

// decodeJSON decodes the request body into dst. A body past its route's
// cap is answered with 413 before any of it is processed further.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"detail": "Request body too large",
			})
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
