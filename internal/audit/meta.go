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

package audit

import "context"

// Meta carries per-request audit metadata extracted at the HTTP edge.
type Meta struct {
	IP        string
	UserAgent string
	RequestID string
	SessionID string
}

type metaKey struct{}

// WithMeta stores request metadata in the context.
func WithMeta(ctx context.Context, meta Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFromContext returns the request metadata, zero when absent.
func MetaFromContext(ctx context.Context) Meta {
	if meta, ok := ctx.Value(metaKey{}).(Meta); ok {
		return meta
	}
	return Meta{}
}
