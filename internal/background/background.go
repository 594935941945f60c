// Copyright 2020 ConsenSys Software Inc.
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

// Package background releases large buffers off the caller's hot path. The
// last reference to a discarded value is dropped by a dedicated worker, so
// a prover never pays for the release of a multi-megabyte table between two
// rounds.
package background

import "sync"

var (
	initOnce sync.Once
	dropChan chan any
)

// Discard hands v to the background worker. If the worker is backlogged the
// value is dropped inline instead of blocking the caller. Safe for
// concurrent use.
func Discard(v any) {
	initOnce.Do(func() {
		dropChan = make(chan any, 64)
		go func() {
			for range dropChan {
				// receiving drops the last reference
			}
		}()
	})
	select {
	case dropChan <- v:
	default:
	}
}
