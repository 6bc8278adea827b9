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

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

// Operation intents: the operational reason a request was made, orthogonal
// to the identity making it.
const (
	OpStandard         = "standard"
	OpManual           = "manual"
	OpAutomation       = "automation"
	OpTest             = "test"
	OpMigration        = "migration"
	OpIncidentResponse = "incident_response"
	OpScheduled        = "scheduled"
	OpSystem           = "system"
)

// Session modes.
const (
	ModeInteractive = "interactive"
	ModeAPI         = "api"
	ModeBatch       = "batch"
	ModeScheduled   = "scheduled"
	ModeSystem      = "system"
)

// Criticality levels.
const (
	CriticalityCritical = "critical"
	CriticalityStandard = "standard"
	CriticalityLow      = "low"
)

// Request headers carrying intent. Anything absent falls back to defaults.
const (
	HeaderOperationIntent = "X-Operation-Intent"
	HeaderSessionMode     = "X-Session-Mode"
	HeaderRequestPurpose  = "X-Request-Purpose"
	HeaderBatchID         = "X-Batch-ID"
	HeaderIsTest          = "X-Is-Test"
	HeaderCriticality     = "X-Criticality"
	HeaderClientType      = "X-Client-Type"
	HeaderIdempotencyKey  = "Idempotency-Key"
)

var (
	validOperations = []string{
		OpStandard, OpManual, OpAutomation, OpTest,
		OpMigration, OpIncidentResponse, OpScheduled, OpSystem,
	}
	validModes         = []string{ModeInteractive, ModeAPI, ModeBatch, ModeScheduled, ModeSystem}
	validCriticalities = []string{CriticalityCritical, CriticalityStandard, CriticalityLow}
)

// Intent describes why a request was made. It travels in the request
// context and is recorded on every audit entry.
type Intent struct {
	Operation      string
	SessionMode    string
	Purpose        string
	BatchID        string
	IsTest         bool
	Criticality    string
	ClientType     string
	IdempotencyKey string
}

// DefaultIntent is what a request without intent headers gets.
func DefaultIntent() Intent {
	return Intent{
		Operation:   OpStandard,
		SessionMode: ModeAPI,
		Criticality: CriticalityStandard,
	}
}

// IntentFromHeaders extracts intent from the request headers, falling back
// to defaults for absent or invalid enum values. An invalid value is logged
// at warn level rather than rejected.
func IntentFromHeaders(h http.Header, log *slog.Logger) Intent {
	intent := DefaultIntent()

	if v := strings.ToLower(strings.TrimSpace(h.Get(HeaderOperationIntent))); v != "" {
		if slices.Contains(validOperations, v) {
			intent.Operation = v
		} else {
			log.Warn("invalid operation intent header, using default",
				slog.String("value", v))
		}
	}
	if v := strings.ToLower(strings.TrimSpace(h.Get(HeaderSessionMode))); v != "" {
		if slices.Contains(validModes, v) {
			intent.SessionMode = v
		} else {
			log.Warn("invalid session mode header, using default",
				slog.String("value", v))
		}
	}
	if v := strings.ToLower(strings.TrimSpace(h.Get(HeaderCriticality))); v != "" {
		if slices.Contains(validCriticalities, v) {
			intent.Criticality = v
		} else {
			log.Warn("invalid criticality header, using default",
				slog.String("value", v))
		}
	}

	intent.Purpose = h.Get(HeaderRequestPurpose)
	intent.BatchID = h.Get(HeaderBatchID)
	intent.ClientType = h.Get(HeaderClientType)
	intent.IdempotencyKey = h.Get(HeaderIdempotencyKey)
	intent.IsTest = strings.EqualFold(h.Get(HeaderIsTest), "true") ||
		intent.Operation == OpTest

	return intent
}

type intentKey struct{}

// WithIntent stores the intent in the context.
func WithIntent(ctx context.Context, intent Intent) context.Context {
	return context.WithValue(ctx, intentKey{}, intent)
}

// IntentFromContext returns the request intent, or the defaults when no
// middleware has set one.
func IntentFromContext(ctx context.Context) Intent {
	if intent, ok := ctx.Value(intentKey{}).(Intent); ok {
		return intent
	}
	return DefaultIntent()
}
