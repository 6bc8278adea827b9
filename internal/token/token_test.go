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

package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testSecret, "https://auth.example.com", "authgrid")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func TestSigner_RejectsShortSecret(t *testing.T) {
	if _, err := NewSigner([]byte("too-short"), "iss", "aud"); !errors.Is(err, ErrSecretTooShort) {
		t.Errorf("expected ErrSecretTooShort, got %v", err)
	}
}

func TestSigner_CreateDecode(t *testing.T) {
	s := newTestSigner(t)

	raw, err := s.Create(Claims{
		Type:     TypeAccess,
		Scope:    "activity:create activity:read",
		ClientID: "client-1",
		AZP:      "client-1",
		OrgID:    "org-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-1",
			ID:      "jti-1",
		},
	}, time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claims, err := s.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims.Type != TypeAccess || claims.Subject != "user-1" || claims.ID != "jti-1" {
		t.Errorf("claims mismatch: %+v", claims)
	}
	if claims.OrgID != "org-1" || claims.ClientID != "client-1" {
		t.Errorf("oauth claims mismatch: %+v", claims)
	}
	if claims.Issuer != "https://auth.example.com" {
		t.Errorf("issuer not set: %q", claims.Issuer)
	}
}

// TestPurpose: Validates that expired tokens fail with a dedicated error.
// Scope: Unit Test
// Expected: Decode returns ErrTokenExpired, not a generic failure.
func TestSigner_Expired(t *testing.T) {
	s := newTestSigner(t)

	raw, err := s.Create(Claims{Type: TypeAccess}, -time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Decode(raw); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestSigner_TamperedSignature(t *testing.T) {
	s := newTestSigner(t)

	raw, _ := s.Create(Claims{Type: TypeRefresh}, time.Minute)
	tampered := raw[:len(raw)-2] + "xx"

	if _, err := s.Decode(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

// A token signed with a different algorithm must be rejected by the
// allowlist even if its signature would otherwise verify.
func TestSigner_AlgorithmAllowlist(t *testing.T) {
	s := newTestSigner(t)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Type: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	raw, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign HS512: %v", err)
	}

	if _, err := s.Decode(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for HS512 token, got %v", err)
	}
}

func TestSigner_WrongSecret(t *testing.T) {
	s := newTestSigner(t)
	other, _ := NewSigner([]byte("ffffffffffffffffffffffffffffffff"), "iss", "aud")

	raw, _ := other.Create(Claims{Type: TypeAccess}, time.Minute)
	if _, err := s.Decode(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
