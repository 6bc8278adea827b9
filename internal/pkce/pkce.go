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

// Package pkce implements the Proof Key for Code Exchange primitives
// defined by RFC 7636.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

// Challenge methods (RFC 7636 Section 4.2).
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// RFC 7636 Section 4.1: code_verifier length bounds.
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128

	// DefaultVerifierLength is the length produced by GenerateVerifier
	// when no explicit length is requested.
	DefaultVerifierLength = 64
)

var (
	ErrInvalidLength = errors.New("pkce: verifier length must be between 43 and 128")
	ErrUnknownMethod = errors.New("pkce: unknown code challenge method")
)

// GenerateVerifier returns a cryptographically random code verifier of the
// given length, encoded with URL-safe base64 without padding. Length must be
// within the RFC 7636 bounds.
func GenerateVerifier(length int) (string, error) {
	if length < MinVerifierLength || length > MaxVerifierLength {
		return "", fmt.Errorf("%w: got %d", ErrInvalidLength, length)
	}

	// RawURLEncoding expands 3 bytes to 4 characters; over-provision the
	// entropy and cut to the requested length.
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("pkce: failed to read random bytes: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(raw)
	return verifier[:length], nil
}

// GenerateChallenge derives the code challenge for a verifier.
// For S256 it is base64url(SHA-256(verifier)) without padding (43 chars);
// for plain it is the verifier itself.
func GenerateChallenge(verifier, method string) (string, error) {
	switch method {
	case MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// Validate recomputes the challenge from the presented verifier and compares
// it to the stored challenge in constant time. Empty inputs and unknown
// methods validate as false rather than erroring: the caller treats every
// failure uniformly as an invalid grant.
func Validate(storedChallenge, verifier, method string) bool {
	if storedChallenge == "" || verifier == "" {
		return false
	}

	computed, err := GenerateChallenge(verifier, method)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(storedChallenge), []byte(computed)) == 1
}
