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

package polynomial

import (
	"math/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

func randomElement(rng *rand.Rand) fr.Element {
	var buf [fr.Bytes]byte
	rng.Read(buf[:])
	var e fr.Element
	e.SetBytes(buf[:])
	return e
}

func randomVector(rng *rand.Rand, n int) []fr.Element {
	res := make([]fr.Element, n)
	for i := range res {
		res[i] = randomElement(rng)
	}
	return res
}

func TestEqEvalsMatchesPointEvaluation(t *testing.T) {
	const numVars = 5
	rng := rand.New(rand.NewSource(0))
	r := randomVector(rng, numVars)

	evals := EqEvals(r)
	require.Len(t, evals, 1<<numVars)

	var one fr.Element
	one.SetOne()

	for i := range evals {
		// r[0] is paired with the most significant index bit
		x := make([]fr.Element, numVars)
		for j := 0; j < numVars; j++ {
			if i&(1<<(numVars-1-j)) != 0 {
				x[j] = one
			}
		}
		expected := EqEval(x, r)
		require.True(t, expected.Equal(&evals[i]), "entry %d", i)
	}
}

func TestEqEvalsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	r := randomVector(rng, 7)

	evals := EqEvals(r)
	var sum, one fr.Element
	for i := range evals {
		sum.Add(&sum, &evals[i])
	}
	one.SetOne()
	require.True(t, sum.Equal(&one))
}

func TestFoldBotConsumesLastCoordinate(t *testing.T) {
	const numVars = 6
	rng := rand.New(rand.NewSource(0))
	r := randomVector(rng, numVars)
	x := randomElement(rng)

	folded := EqEvals(r)
	folded.FoldBot(&x)
	require.Len(t, folded, 1<<(numVars-1))

	// binding the low variable peels off the last coordinate of r
	outer := EqEvals(r[:numVars-1])
	scale := EqEval([]fr.Element{x}, r[numVars-1:])
	for i := range outer {
		var expected fr.Element
		expected.Mul(&outer[i], &scale)
		require.True(t, expected.Equal(&folded[i]), "entry %d", i)
	}
}

func TestFoldBotMatchesDirectEvaluation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := MultiLin(randomVector(rng, 8))
	backup := m.Clone()
	x := randomElement(rng)

	m.FoldBot(&x)

	var t0, expected fr.Element
	for i := 0; i < 4; i++ {
		t0.Sub(&backup[2*i+1], &backup[2*i]).Mul(&t0, &x)
		expected.Add(&backup[2*i], &t0)
		require.True(t, expected.Equal(&m[i]))
	}
}
