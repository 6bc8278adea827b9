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

// VerificationResult reports the outcome of a chain walk. Any broken link
// is a tampering signal: an entry was mutated, removed, or reordered after
// being written.
type VerificationResult struct {
	Entries       int
	Broken        int
	FirstBrokenID int64
	Intact        bool
}

// VerifyChain walks entries in id order and recomputes each hash from its
// fields and the previous entry's stored hash. The first entry chains from
// its stored PrevHash, which anchors the walk to whatever came before the
// selected window.
func VerifyChain(entries []*Entry) VerificationResult {
	res := VerificationResult{Entries: len(entries), Intact: true}
	if len(entries) == 0 {
		return res
	}

	prev := entries[0].PrevHash
	for _, e := range entries {
		if e.PrevHash != prev || e.ComputeHash(prev) != e.Hash {
			res.Broken++
			if res.FirstBrokenID == 0 {
				res.FirstBrokenID = e.ID
				res.Intact = false
			}
			// Resynchronize on the stored hash so one mutation counts
			// as one break, not everything after it.
		}
		prev = e.Hash
	}
	res.Intact = res.Broken == 0
	return res
}
