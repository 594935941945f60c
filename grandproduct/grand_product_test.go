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

package grandproduct

import (
	"crypto/sha256"
	"fmt"
	"math/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/nnsW3/jolt/polynomial"
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

func randomLeaves(rng *rand.Rand, batchSize, size int) [][]fr.Element {
	leaves := make([][]fr.Element, batchSize)
	for b := range leaves {
		leaves[b] = randomVector(rng, size)
	}
	return leaves
}

// mostlyOnes draws a vector whose entries are one with probability 3/4.
func mostlyOnes(rng *rand.Rand, size int) []fr.Element {
	layer := make([]fr.Element, size)
	for i := range layer {
		if rng.Intn(4) == 0 {
			layer[i] = randomElement(rng)
		} else {
			layer[i].SetOne()
		}
	}
	return layer
}

func sparseEncode(layer []fr.Element) DynamicDensityLayer {
	entries := make([]SparseEntry, 0, len(layer))
	for i := range layer {
		if !layer[i].IsOne() {
			entries = append(entries, SparseEntry{Index: i, Value: layer[i]})
		}
	}
	return NewSparseLayer(entries)
}

func copyLeaves(leaves [][]fr.Element) [][]fr.Element {
	res := make([][]fr.Element, len(leaves))
	for b := range leaves {
		res[b] = append([]fr.Element(nil), leaves[b]...)
	}
	return res
}

// mlEval evaluates the multilinear extension of values at point.
func mlEval(point []fr.Element, values []fr.Element) fr.Element {
	eq := polynomial.EqEvals(point)
	var res, t fr.Element
	for i := range values {
		t.Mul(&eq[i], &values[i])
		res.Add(&res, &t)
	}
	return res
}

func TestDenseProveVerify(t *testing.T) {
	const (
		layerSize = 1 << 8
		batchSize = 4
	)
	rng := rand.New(rand.NewSource(0))
	leaves := randomLeaves(rng, batchSize, layerSize)
	backup := copyLeaves(leaves)

	gp := NewBatchedDenseGrandProduct(leaves)
	claims := gp.Claims()

	proof, rProver, err := gp.Prove(sha256.New())
	require.NoError(t, err)

	leafClaims, rVerifier, err := VerifyGrandProduct(proof, claims, sha256.New())
	require.NoError(t, err)
	require.Equal(t, rProver, rVerifier)

	// the verifier is left with the leaf multilinear extensions evaluated
	// at the accumulated point
	for b := range leafClaims {
		expected := mlEval(rVerifier, backup[b])
		require.True(t, expected.Equal(&leafClaims[b]), "leaf claim %d", b)
	}
}

func TestProveIsDeterministic(t *testing.T) {
	const (
		layerSize = 1 << 6
		batchSize = 3
	)

	build := func() *BatchedDenseGrandProduct {
		rng := rand.New(rand.NewSource(7))
		return NewBatchedDenseGrandProduct(randomLeaves(rng, batchSize, layerSize))
	}

	proof1, r1, err := build().Prove(sha256.New())
	require.NoError(t, err)
	proof2, r2, err := build().Prove(sha256.New())
	require.NoError(t, err)

	require.Equal(t, proof1, proof2)
	require.Equal(t, r1, r2)
}

func TestSingleLayerTree(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	a := randomElement(rng)
	b := randomElement(rng)

	gp := NewBatchedDenseGrandProduct([][]fr.Element{{a, b}})
	claims := gp.Claims()

	var product fr.Element
	product.Mul(&a, &b)
	require.True(t, product.Equal(&claims[0]))

	proof, rProver, err := gp.Prove(sha256.New())
	require.NoError(t, err)
	require.Len(t, proof.Layers, 1)
	require.Empty(t, proof.Layers[0].SumcheckProof.CompressedPolys)
	require.True(t, a.Equal(&proof.Layers[0].LeftClaims[0]))
	require.True(t, b.Equal(&proof.Layers[0].RightClaims[0]))

	_, rVerifier, err := VerifyGrandProduct(proof, claims, sha256.New())
	require.NoError(t, err)
	require.Equal(t, rProver, rVerifier)
	require.Len(t, rVerifier, 1)
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	const (
		layerSize = 1 << 5
		batchSize = 2
	)
	rng := rand.New(rand.NewSource(3))
	gp := NewBatchedDenseGrandProduct(randomLeaves(rng, batchSize, layerSize))
	claims := gp.Claims()

	proof, _, err := gp.Prove(sha256.New())
	require.NoError(t, err)

	var one fr.Element
	one.SetOne()
	proof.Layers[0].LeftClaims[0].Add(&proof.Layers[0].LeftClaims[0], &one)

	_, _, err = VerifyGrandProduct(proof, claims, sha256.New())
	require.ErrorIs(t, err, ErrClaimMismatch)
}

func TestVerifyRejectsWrongClaimCount(t *testing.T) {
	const (
		layerSize = 1 << 4
		batchSize = 3
	)
	rng := rand.New(rand.NewSource(4))
	gp := NewBatchedDenseGrandProduct(randomLeaves(rng, batchSize, layerSize))
	claims := gp.Claims()

	proof, _, err := gp.Prove(sha256.New())
	require.NoError(t, err)

	_, _, err = VerifyGrandProduct(proof, claims[:batchSize-1], sha256.New())
	require.ErrorIs(t, err, ErrMalformedProof)
}

// TestRoundConsistency checks one full sum-check round against the direct
// sum: the round polynomial evaluated at the challenge must equal the bound
// layer's claim.
func TestRoundConsistency(t *testing.T) {
	const (
		layerSize = 1 << 4
		batchSize = 2
	)
	rng := rand.New(rand.NewSource(5))

	layers := make(BatchedDenseLayer, batchSize)
	for b := range layers {
		layers[b] = randomVector(rng, layerSize)
	}
	coeffs := randomVector(rng, batchSize)
	rGP := randomVector(rng, 3)
	eq := polynomial.EqEvals(rGP)

	directClaim := func() fr.Element {
		var res, inner, t fr.Element
		for b := range layers {
			inner.SetZero()
			for i := 0; i < len(layers[b])/2; i++ {
				t.Mul(&layers[b][2*i], &layers[b][2*i+1]).Mul(&t, &eq[i])
				inner.Add(&inner, &t)
			}
			t.Mul(&inner, &coeffs[b])
			res.Add(&res, &t)
		}
		return res
	}

	claim := directClaim()
	cubic := layers.computeCubic(coeffs, eq, claim)

	// g(0) + g(1) = claim
	var zero, one, sum fr.Element
	one.SetOne()
	g0 := cubic.Eval(&zero)
	g1 := cubic.Eval(&one)
	sum.Add(&g0, &g1)
	require.True(t, sum.Equal(&claim))

	// binding the round challenge must carry the claim to the next round
	r := randomElement(rng)
	next := cubic.Eval(&r)
	layers.bind(&eq, &r)
	recomputed := directClaim()
	require.True(t, recomputed.Equal(&next))
}

func TestProveVerifyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 10

	properties := gopter.NewProperties(parameters)

	properties.Property("an honestly produced proof verifies", prop.ForAll(
		func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			gp := NewBatchedDenseGrandProduct(randomLeaves(rng, 3, 1<<6))
			claims := gp.Claims()

			proof, rProver, err := gp.Prove(sha256.New())
			if err != nil {
				return false
			}
			_, rVerifier, err := VerifyGrandProduct(proof, claims, sha256.New())
			if err != nil {
				return false
			}
			if len(rProver) != len(rVerifier) {
				return false
			}
			for i := range rProver {
				if !rProver[i].Equal(&rVerifier[i]) {
					return false
				}
			}
			return true
		},
		gen.Int64Range(0, 1<<20),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Benchmarks

func BenchmarkProveGrandProduct(b *testing.B) {
	const batchSize = 4
	baseSize := 1 << 8

	for i := 0; i < 4; i++ {
		size := baseSize << i
		b.Run(fmt.Sprintf("leaves %d", size), func(b *testing.B) {
			rng := rand.New(rand.NewSource(0))
			leaves := randomLeaves(rng, batchSize, size)
			b.ResetTimer()
			for n := 0; n < b.N; n++ {
				b.StopTimer()
				gp := NewBatchedDenseGrandProduct(copyLeaves(leaves))
				b.StartTimer()
				if _, _, err := gp.Prove(sha256.New()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
