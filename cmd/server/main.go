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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/authgrid/authgrid/internal/audit"
	"github.com/authgrid/authgrid/internal/authz"
	"github.com/authgrid/authgrid/internal/cache"
	"github.com/authgrid/authgrid/internal/config"
	"github.com/authgrid/authgrid/internal/email"
	"github.com/authgrid/authgrid/internal/identity"
	"github.com/authgrid/authgrid/internal/oauth"
	"github.com/authgrid/authgrid/internal/observability/logger"
	"github.com/authgrid/authgrid/internal/observability/metrics"
	"github.com/authgrid/authgrid/internal/observability/tracing"
	"github.com/authgrid/authgrid/internal/rbac"
	"github.com/authgrid/authgrid/internal/store/postgres"
	"github.com/authgrid/authgrid/internal/token"
	transportHTTP "github.com/authgrid/authgrid/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting authgrid")

	// Phase: CLI Commands
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		if err := runBootstrap(cfg); err != nil {
			fmt.Printf("Bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Initialize context
	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize cache
	redisClient, err := cache.NewClient(ctx, cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slog.Error("failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()
	c := cache.New(redisClient)
	slog.Info("connected to redis")

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	rbacRepo := postgres.NewRBACRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	codeRepo := postgres.NewCodeRepository(db)
	consentRepo := postgres.NewConsentRepository(db)
	tokenRepo := postgres.NewTokenRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	// Initialize crypto helpers
	signer, err := token.NewSigner([]byte(cfg.Token.SecretKey), cfg.Token.Issuer, cfg.Token.Audience)
	if err != nil {
		slog.Error("failed to initialize token signer", logger.Error(err))
		os.Exit(1)
	}
	cipher, err := identity.NewSecretCipher([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		slog.Error("failed to initialize secret cipher", logger.Error(err))
		os.Exit(1)
	}

	// Initialize email sender
	var sender email.Sender
	if cfg.Email.SMTPHost != "" {
		sender, err = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
		})
		if err != nil {
			slog.Error("failed to initialize smtp sender", logger.Error(err))
			os.Exit(1)
		}
	} else if cfg.Debug {
		sender = email.NewLogSender(slog.Default())
	} else {
		slog.Error("SMTP_HOST is required outside debug mode")
		os.Exit(1)
	}

	// Initialize audit pipeline
	auditPipeline := audit.NewPipeline(auditRepo, audit.Config{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		MaxRetries:    cfg.Audit.MaxRetries,
		Production:    cfg.Production,
		SampleRate:    cfg.Audit.SampleRate,
	}, slog.Default())

	// Initialize authorization
	decisionCache := authz.NewDecisionCache(c, authz.CacheConfig{
		L1Enabled: cfg.AuthzCache.L1Enabled,
		L2Enabled: cfg.AuthzCache.L2Enabled,
		TTL:       cfg.AuthzCache.TTL,
	}, slog.Default())

	var recorder authz.DecisionRecorder
	if meter != nil {
		if authzMetrics, err := metrics.NewAuthzMetrics(meter); err != nil {
			slog.Error("failed to create authz metrics", logger.Error(err))
		} else {
			recorder = authzMetrics
		}
	}
	pdp := authz.NewPDP(rbacRepo, decisionCache, auditPipeline, recorder)

	// Initialize OAuth services
	tokens := oauth.NewTokenService(signer, tokenRepo, c, cfg.Token.AccessTTL, cfg.Token.RefreshTTL, slog.Default())
	registry := oauth.NewClientRegistry(clientRepo, identity.DefaultPasswordHasher())
	scopes := oauth.NewScopeService(rbacRepo)
	consents := oauth.NewConsentService(consentRepo)
	codes := oauth.NewCodeService(codeRepo, slog.Default())

	// Initialize identity service
	identityService := identity.NewService(identity.ServiceConfig{
		Repo:         userRepo,
		VerifyTokens: cache.NewOpaqueStore(c, "verify_token", 10*time.Minute),
		ResetTokens:  cache.NewOpaqueStore(c, "reset_token", 10*time.Minute),
		Cache:        c,
		Sender:       sender,
		Signer:       signer,
		Cipher:       cipher,
		TOTP:         identity.NewTOTPIssuer(cfg.Security.TOTPIssuer),
		Minter:       tokens,
		Revoker:      tokens,
		Orgs:         rbacRepo,
		DefaultOrgID: cfg.DefaultOrgID,
		Logger:       slog.Default(),
	})

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		identityService,
		tokens,
		registry,
		scopes,
		consents,
		codes,
		pdp,
		signer,
		transportHTTP.Config{
			Issuer:           cfg.Token.Issuer,
			LoginURL:         cfg.Token.LoginURL,
			AdvertisedScopes: cfg.Token.AdvertisedScopes,
		},
		slog.Default(),
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter, cfg.Debug)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start expired-row cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := codeRepo.DeleteExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to delete expired authorization codes", logger.Error(err))
			} else if n > 0 {
				slog.InfoContext(ctx, "deleted expired authorization codes", slog.Int64("count", n))
			}
			if n, err := tokenRepo.DeleteExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to delete expired refresh tokens", logger.Error(err))
			} else if n > 0 {
				slog.InfoContext(ctx, "deleted expired refresh tokens", slog.Int64("count", n))
			}
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown: stop accepting traffic first, then drain the
	// audit buffer so no accepted request loses its trail.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}
	if err := auditPipeline.Close(shutdownCtx); err != nil {
		slog.Error("audit pipeline shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

// runBootstrap provisions the first admin account, its organization, and
// an optional first-party OAuth client. It is idempotent: existing rows
// are left alone.
func runBootstrap(cfg *config.Config) error {
	adminEmail := os.Getenv("BOOTSTRAP_ADMIN_EMAIL")
	adminPassword := os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")
	orgName := os.Getenv("BOOTSTRAP_ORG_NAME")
	orgSlug := os.Getenv("BOOTSTRAP_ORG_SLUG")
	if adminEmail == "" || adminPassword == "" || orgName == "" || orgSlug == "" {
		return fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL, BOOTSTRAP_ADMIN_PASSWORD, BOOTSTRAP_ORG_NAME and BOOTSTRAP_ORG_SLUG are required")
	}

	ctx := context.Background()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)
	rbacRepo := postgres.NewRBACRepository(db)
	rbacService := rbac.NewService(rbacRepo, nil, slog.Default())

	hasher := identity.DefaultPasswordHasher()
	hash, err := hasher.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now().UTC()
	admin := &identity.User{
		ID:           uuid.New().String(),
		Email:        adminEmail,
		PasswordHash: hash,
		IsVerified:   true,
		IsActive:     true,
		CreatedAt:    now,
		VerifiedAt:   &now,
	}
	if err := userRepo.CreateUser(ctx, admin, nil); err != nil {
		if !errors.Is(err, identity.ErrDuplicateEmail) {
			return fmt.Errorf("failed to create admin user: %w", err)
		}
		admin, err = userRepo.GetByEmail(ctx, adminEmail)
		if err != nil {
			return fmt.Errorf("failed to load existing admin user: %w", err)
		}
		slog.Info("admin user already exists", logger.UserID(admin.ID))
	} else {
		slog.Info("created admin user", logger.UserID(admin.ID))
	}

	org, err := rbacService.CreateOrganization(ctx, orgName, orgSlug, admin.ID)
	if err != nil {
		if !errors.Is(err, rbac.ErrDuplicateSlug) {
			return fmt.Errorf("failed to create organization: %w", err)
		}
		slog.Info("organization already exists", slog.String("slug", orgSlug))
	} else {
		slog.Info("created organization", logger.OrgID(org.ID), slog.String("slug", org.Slug))
	}

	// Optional first-party client seed.
	clientID := os.Getenv("BOOTSTRAP_CLIENT_ID")
	redirectURI := os.Getenv("BOOTSTRAP_CLIENT_REDIRECT_URI")
	if clientID == "" || redirectURI == "" {
		return nil
	}
	clientRepo := postgres.NewClientRepository(db)
	err = clientRepo.Create(ctx, &oauth.Client{
		ClientID:     clientID,
		ClientName:   os.Getenv("BOOTSTRAP_CLIENT_NAME"),
		ClientType:   oauth.ClientTypePublic,
		RedirectURIs: []string{redirectURI},
		RequirePKCE:  true,
		IsFirstParty: true,
		CreatedAt:    now,
	})
	if err != nil {
		if !errors.Is(err, oauth.ErrDuplicateClient) {
			return fmt.Errorf("failed to create client: %w", err)
		}
		slog.Info("client already exists", logger.ClientID(clientID))
	} else {
		slog.Info("created first-party client", logger.ClientID(clientID))
	}
	return nil
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}

func connect(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}
