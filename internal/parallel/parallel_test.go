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

package parallel

import (
	"sync/atomic"
	"testing"
)

func TestExecuteCoversRangeOnce(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7, 64, 1000} {
		hits := make([]int32, n)
		Execute(n, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i := range hits {
			if hits[i] != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, hits[i])
			}
		}
	}
}

func TestExecuteSingleCPU(t *testing.T) {
	const n = 100
	hits := make([]int32, n)
	Execute(n, func(start, end int) {
		for i := start; i < end; i++ {
			hits[i]++
		}
	}, 1)
	for i := range hits {
		if hits[i] != 1 {
			t.Fatalf("index %d visited %d times", i, hits[i])
		}
	}
}
