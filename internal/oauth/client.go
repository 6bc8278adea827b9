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

package oauth

import (
	"context"
	"slices"
)

// SecretVerifier checks a presented client secret against a stored hash.
// Implemented by the identity package's password hasher.
type SecretVerifier interface {
	Verify(secret, hash string) (bool, error)
}

// ClientRegistry authenticates clients and validates redirect URIs.
type ClientRegistry struct {
	repo     ClientRepository
	verifier SecretVerifier
}

// NewClientRegistry creates the registry.
func NewClientRegistry(repo ClientRepository, verifier SecretVerifier) *ClientRegistry {
	return &ClientRegistry{repo: repo, verifier: verifier}
}

// Get returns a client by id.
func (r *ClientRegistry) Get(ctx context.Context, clientID string) (*Client, error) {
	return r.repo.GetByClientID(ctx, clientID)
}

// Authenticate resolves and authenticates a client. Public clients must
// present no secret; confidential clients must present one that verifies.
// Every failure mode collapses into invalid_client.
func (r *ClientRegistry) Authenticate(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	client, err := r.repo.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, NewError(ErrInvalidClient, "client authentication failed")
	}

	switch client.ClientType {
	case ClientTypePublic:
		if clientSecret != "" {
			return nil, NewError(ErrInvalidClient, "client authentication failed")
		}
	case ClientTypeConfidential:
		if clientSecret == "" {
			return nil, NewError(ErrInvalidClient, "client authentication failed")
		}
		ok, err := r.verifier.Verify(clientSecret, client.ClientSecretHash)
		if err != nil || !ok {
			return nil, NewError(ErrInvalidClient, "client authentication failed")
		}
	default:
		return nil, NewError(ErrInvalidClient, "client authentication failed")
	}

	return client, nil
}

// ValidateRedirectURI reports exact membership in the registered set. No
// wildcards, no prefix matching.
func (r *ClientRegistry) ValidateRedirectURI(client *Client, uri string) bool {
	return uri != "" && slices.Contains(client.RedirectURIs, uri)
}
