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

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setValidEnv(t *testing.T) {
	t.Setenv("DB_PASSWORD", "zq9-KfT2-bV7x-mW4p")
	t.Setenv("JWT_SECRET_KEY", "k8Jq2fLw93BvXzR7mNc4TgY6hUd1PsE0")
	t.Setenv("ENCRYPTION_KEY", "A1b2C3d4E5f6G7h8I9j0K1l2M3n4O5p6")
}

func TestLoad_Defaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 720*time.Hour, cfg.Token.RefreshTTL)
	assert.True(t, cfg.AuthzCache.L1Enabled)
	assert.Equal(t, 300*time.Second, cfg.AuthzCache.TTL)
	assert.Equal(t, 1000, cfg.Audit.BufferSize)
	assert.Equal(t, 0.1, cfg.Audit.SampleRate)
	assert.False(t, cfg.Debug)
}

func TestLoad_RequiresSecrets(t *testing.T) {
	setValidEnv(t)

	t.Run("short jwt secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET_KEY", "too-short")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET_KEY")
	})

	t.Run("wrong encryption key length", func(t *testing.T) {
		t.Setenv("ENCRYPTION_KEY", "only-31-bytes-of-key-material!!")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
	})
}

// TestPurpose: Placeholder secrets must not reach production, and the
// resulting error must not echo the full value.
func TestLoad_RejectsDevSecretsOutsideDebug(t *testing.T) {
	setValidEnv(t)
	t.Setenv("JWT_SECRET_KEY", "dev_secret_key_for_local_use_only!!")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "development placeholder")
	assert.NotContains(t, err.Error(), "dev_secret_key_for_local_use_only!!")
	assert.Contains(t, err.Error(), "dev_"+strings.Repeat("*", 31))

	// The same value passes in debug mode.
	t.Setenv("DEBUG", "true")
	_, err = Load()
	require.NoError(t, err)
}

func TestLoad_ScopeList(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ADVERTISED_SCOPES", "projects:read, projects:write ,,billing:read")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"projects:read", "projects:write", "billing:read"}, cfg.Token.AdvertisedScopes)
}
