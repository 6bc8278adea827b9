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

import "context"

type contextKey string

const (
	userIDKey contextKey = "user_id"
	orgIDKey  contextKey = "org_id"
	jtiKey    contextKey = "jti"
)

// GetUserID retrieves the authenticated user ID from context.
func GetUserID(ctx context.Context) string {
	if val, ok := ctx.Value(userIDKey).(string); ok {
		return val
	}
	return ""
}

// GetOrgID retrieves the token's organization context, if any.
func GetOrgID(ctx context.Context) string {
	if val, ok := ctx.Value(orgIDKey).(string); ok {
		return val
	}
	return ""
}

// GetJTI retrieves the access token's jti from context.
func GetJTI(ctx context.Context) string {
	if val, ok := ctx.Value(jtiKey).(string); ok {
		return val
	}
	return ""
}
