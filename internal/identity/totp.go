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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/pquerna/otp/totp"
)

// EncryptionKeyLength is the required AES-256 key size. Any other length
// aborts startup.
const EncryptionKeyLength = 32

// ErrInvalidKeyLength is returned when the encryption key is not 32 bytes.
var ErrInvalidKeyLength = errors.New("identity: encryption key must be exactly 32 bytes")

// SecretCipher encrypts TOTP secrets at rest with AES-256-GCM. The
// configured encryption key is used directly as the AES key.
type SecretCipher struct {
	key []byte
}

// NewSecretCipher validates the key length.
func NewSecretCipher(key []byte) (*SecretCipher, error) {
	if len(key) != EncryptionKeyLength {
		return nil, ErrInvalidKeyLength
	}
	return &SecretCipher{key: key}, nil
}

// Encrypt seals the plaintext and returns nonce||ciphertext, base64.
func (c *SecretCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *SecretCipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}

// TOTPIssuer generates and checks time-based one-time codes.
type TOTPIssuer struct {
	issuer string
}

// NewTOTPIssuer creates an issuer whose name shows up in authenticator
// apps.
func NewTOTPIssuer(issuer string) *TOTPIssuer {
	return &TOTPIssuer{issuer: issuer}
}

// Generate returns a fresh secret and the otpauth:// provisioning URL for
// the given account.
func (t *TOTPIssuer) Generate(accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Validate checks a code against the secret for the current time window.
func (t *TOTPIssuer) Validate(code, secret string) bool {
	return totp.Validate(code, secret)
}
