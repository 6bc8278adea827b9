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
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrWeakPassword wraps all policy rejections so callers can map them to a
// single response code.
var ErrWeakPassword = errors.New("password does not meet the policy")

// PasswordChecker validates candidate passwords before any hashing or
// database write. Implementations may also consult breach corpora.
type PasswordChecker interface {
	Check(password string) error
}

// PasswordPolicy is the built-in checker: length bounds, a character-class
// requirement, and a small denylist of the most common passwords.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
}

// DefaultPasswordPolicy returns the standard policy.
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{MinLength: 8, MaxLength: 128}
}

var commonPasswords = map[string]bool{
	"password":  true,
	"password1": true,
	"12345678":  true,
	"123456789": true,
	"qwerty123": true,
	"letmein1":  true,
	"iloveyou1": true,
	"admin123":  true,
	"welcome1":  true,
}

// Check validates the password against the policy.
func (p *PasswordPolicy) Check(password string) error {
	if len(password) < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, p.MinLength)
	}
	if len(password) > p.MaxLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrWeakPassword, p.MaxLength)
	}
	if commonPasswords[strings.ToLower(password)] {
		return fmt.Errorf("%w: found in breach corpus", ErrWeakPassword)
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: must contain both letters and digits", ErrWeakPassword)
	}
	return nil
}
