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

// Package audit implements the asynchronous, tamper-evident audit trail for
// authorization decisions. Entries are buffered in memory, batched to the
// store in the background, and linked into a SHA-256 hash chain so that
// removal or mutation of a persisted entry is detectable.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Cache sources recorded on each decision.
const (
	SourceL1Hit         = "l1_hit"
	SourceL2Hit         = "l2_hit"
	SourceCacheMiss     = "cache_miss"
	SourceCacheDisabled = "cache_disabled"
)

// Log levels.
const (
	LevelEssential = "ESSENTIAL"
	LevelFull      = "FULL"
)

// Entry is a single authorization decision record. ID is assigned by the
// store; Hash and PrevHash are assigned by the pipeline at write time.
type Entry struct {
	ID             int64
	Timestamp      time.Time
	UserID         string
	OrganizationID string
	Permission     string
	ResourceType   string
	Action         string
	ResourceID     string
	Authorized     bool
	Reason         string
	MatchedGroups  []string
	CacheSource    string
	IP             string
	UserAgent      string
	RequestID      string
	SessionID      string
	LogLevel       string
	Intent         Intent
	Hash           string
	PrevHash       string
}

// canonicalTimestamp pins the hash input to microsecond precision so the
// value survives a round trip through the database unchanged.
const canonicalTimestamp = "2006-01-02T15:04:05.000000Z"

// ComputeHash returns SHA-256 over the entry's canonical field encoding
// concatenated with the previous entry's hash. The field order and
// separators are part of the chain contract and must not change.
func (e *Entry) ComputeHash(prevHash string) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.UTC().Format(canonicalTimestamp))
	for _, f := range []string{
		e.UserID, e.OrganizationID, e.Permission, e.ResourceType,
		e.Action, e.ResourceID, strconv.FormatBool(e.Authorized),
		e.Reason, strings.Join(e.MatchedGroups, ","), e.CacheSource,
		e.RequestID, e.Intent.Operation, e.Intent.SessionMode,
		strconv.FormatBool(e.Intent.IsTest), e.Intent.BatchID,
	} {
		b.WriteByte('|')
		b.WriteString(f)
	}
	b.WriteByte('|')
	b.WriteString(prevHash)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
