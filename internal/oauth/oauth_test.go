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
	"log/slog"
	"sync"
	"time"
)

var discard = slog.New(slog.DiscardHandler)

// memClientRepo is an in-memory ClientRepository.
type memClientRepo struct {
	mu      sync.Mutex
	clients map[string]*Client
}

func newMemClientRepo() *memClientRepo {
	return &memClientRepo{clients: make(map[string]*Client)}
}

func (r *memClientRepo) Create(_ context.Context, client *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client.ClientID]; ok {
		return ErrDuplicateClient
	}
	c := *client
	r.clients[client.ClientID] = &c
	return nil
}

func (r *memClientRepo) GetByClientID(_ context.Context, clientID string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memClientRepo) List(_ context.Context) ([]*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memClientRepo) Delete(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return ErrClientNotFound
	}
	delete(r.clients, clientID)
	return nil
}

// memCodeRepo is an in-memory CodeRepository with an atomic Consume.
type memCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*AuthorizationCode
}

func newMemCodeRepo() *memCodeRepo {
	return &memCodeRepo{codes: make(map[string]*AuthorizationCode)}
}

func (r *memCodeRepo) Create(_ context.Context, code *AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *code
	r.codes[code.Code] = &c
	return nil
}

func (r *memCodeRepo) Consume(_ context.Context, code string) (*AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[code]
	if !ok || c.Consumed {
		return nil, ErrCodeNotFound
	}
	c.Consumed = true
	cp := *c
	return &cp, nil
}

func (r *memCodeRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for k, c := range r.codes {
		if now.After(c.ExpiresAt) {
			delete(r.codes, k)
			n++
		}
	}
	return n, nil
}

// memConsentRepo is an in-memory ConsentRepository.
type memConsentRepo struct {
	mu      sync.Mutex
	records map[string]*ConsentRecord
}

func newMemConsentRepo() *memConsentRepo {
	return &memConsentRepo{records: make(map[string]*ConsentRecord)}
}

func consentKey(userID, clientID, orgID string) string {
	return userID + "/" + clientID + "/" + orgID
}

func (r *memConsentRepo) Get(_ context.Context, userID, clientID, orgID string) (*ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[consentKey(userID, clientID, orgID)]
	if !ok {
		return nil, ErrConsentNotFound
	}
	cp := *rec
	cp.GrantedScopes = append([]string(nil), rec.GrantedScopes...)
	return &cp, nil
}

func (r *memConsentRepo) Upsert(_ context.Context, record *ConsentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	cp.GrantedScopes = append([]string(nil), record.GrantedScopes...)
	r.records[consentKey(record.UserID, record.ClientID, record.OrganizationID)] = &cp
	return nil
}

func (r *memConsentRepo) Delete(_ context.Context, userID, clientID, orgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := consentKey(userID, clientID, orgID)
	if _, ok := r.records[key]; !ok {
		return ErrConsentNotFound
	}
	delete(r.records, key)
	return nil
}

// memTokenRepo is an in-memory TokenRepository keyed by (userID, token).
type memTokenRepo struct {
	mu      sync.Mutex
	records map[string]*RefreshTokenRecord
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{records: make(map[string]*RefreshTokenRecord)}
}

func tokenKey(userID, tokenValue string) string {
	return userID + "/" + tokenValue
}

func (r *memTokenRepo) Save(_ context.Context, record *RefreshTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.UserID == record.UserID && existing.JTI == record.JTI {
			return ErrDuplicateJTI
		}
	}
	cp := *record
	r.records[tokenKey(record.UserID, record.Token)] = &cp
	return nil
}

func (r *memTokenRepo) Validate(_ context.Context, userID, tokenValue string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[tokenKey(userID, tokenValue)]
	if !ok || rec.Revoked || time.Now().After(rec.ExpiresAt) {
		return false, nil
	}
	return true, nil
}

func (r *memTokenRepo) Revoke(_ context.Context, userID, tokenValue string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[tokenKey(userID, tokenValue)]
	if !ok || rec.Revoked {
		return ErrTokenNotFound
	}
	rec.Revoked = true
	return nil
}

func (r *memTokenRepo) RevokeAll(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.UserID == userID {
			rec.Revoked = true
		}
	}
	return nil
}

func (r *memTokenRepo) activeCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.UserID == userID && !rec.Revoked {
			n++
		}
	}
	return n
}

// stubVerifier matches secrets against a fixed map of hash -> secret.
type stubVerifier struct {
	secrets map[string]string
}

func (v *stubVerifier) Verify(secret, hash string) (bool, error) {
	return v.secrets[hash] == secret, nil
}
