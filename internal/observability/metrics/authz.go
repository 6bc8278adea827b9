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

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthzMetrics records authorization decision counters and latency.
type AuthzMetrics struct {
	decisions metric.Int64Counter
	latency   metric.Float64Histogram
}

// NewAuthzMetrics creates the decision instruments on the given meter.
func NewAuthzMetrics(m *Meter) (*AuthzMetrics, error) {
	decisions, err := m.CreateCounter(
		"authz.decisions",
		"Authorization decisions by resource, action, result, and cache source",
	)
	if err != nil {
		return nil, err
	}
	latency, err := m.CreateHistogram(
		"authz.decision.duration",
		"Authorization decision latency",
		"ms",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision histogram: %w", err)
	}
	return &AuthzMetrics{decisions: decisions, latency: latency}, nil
}

// RecordDecision records one authorization decision.
func (a *AuthzMetrics) RecordDecision(ctx context.Context, resource, action, result, cacheSource string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("resource", resource),
		attribute.String("action", action),
		attribute.String("result", result),
		attribute.String("cache_source", cacheSource),
	)
	a.decisions.Add(ctx, 1, attrs)
	a.latency.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
}
