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

// Package grandproduct implements a batched grand product argument: a proof
// that the product of each of a batch of vectors equals a claimed value,
// with proof size and verification time logarithmic in the vector length.
//
// Each vector is the leaf layer of a binary product tree. The prover walks
// the trees from the roots toward the leaves; at every layer the per-tree
// claims are combined by a random linear combination and reduced, through a
// batched cubic sum-check, to claims about the layer below. After the last
// layer the verifier is left with evaluation claims about the leaf
// multilinear extensions at a random point, which an outer protocol
// discharges against a polynomial commitment.
package grandproduct

import (
	"errors"
	"fmt"
	"hash"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	fiatshamir "github.com/consensys/gnark-crypto/fiat-shamir"

	"github.com/nnsW3/jolt/internal/background"
	"github.com/nnsW3/jolt/polynomial"
	"github.com/nnsW3/jolt/sumcheck"
)

var (
	ErrMalformedProof = errors.New("grand product proof is malformed")
	ErrClaimMismatch  = errors.New("sum-check claim does not match the batched product claims")
)

// LayerProof is the proof record of a single layer: the batched cubic
// sum-check rounds and the per-tree claims about the layer below.
type LayerProof struct {
	SumcheckProof sumcheck.Proof
	LeftClaims    []fr.Element
	RightClaims   []fr.Element
}

// Proof is a batched grand product proof. Record k proves the k-th layer
// from the root and carries k sum-check rounds.
type Proof struct {
	Layers []LayerProof
}

// cubicSumcheck is one batched layer able to run the degree-3 sum-check of
// the product relation layer(r) = Σ_x eq(r;x)·left(x)·right(x).
type cubicSumcheck interface {
	numRounds() int
	bind(eq *polynomial.MultiLin, r *fr.Element)
	computeCubic(coeffs []fr.Element, eq polynomial.MultiLin, previousClaim fr.Element) sumcheck.UniPoly
	finalClaims() ([]fr.Element, []fr.Element)
}

// challengeSchedule is the full list of Fiat-Shamir challenge IDs of a
// grand product argument over numLayers layers and batchSize trees. The
// transcript pre-registers every challenge in draw order, the same way the
// FRI prover registers x0,...,xn up front; both parties derive the schedule
// from public parameters only.
type challengeSchedule struct {
	coeffs    [][]string // one RLC coefficient per tree, per layer
	rounds    [][]string // one challenge per sum-check round, per layer
	layerFold []string   // the claim-folding challenge, per layer
}

func newChallengeSchedule(numLayers, batchSize int) challengeSchedule {
	s := challengeSchedule{
		coeffs:    make([][]string, numLayers),
		rounds:    make([][]string, numLayers),
		layerFold: make([]string, numLayers),
	}
	for k := 0; k < numLayers; k++ {
		s.coeffs[k] = make([]string, batchSize)
		for b := range s.coeffs[k] {
			s.coeffs[k][b] = fmt.Sprintf("rand_coeffs_next_layer.%d.%d", k, b)
		}
		s.rounds[k] = make([]string, k)
		for j := range s.rounds[k] {
			s.rounds[k][j] = fmt.Sprintf("challenge_nextround.%d.%d", k, j)
		}
		s.layerFold[k] = fmt.Sprintf("challenge_r_layer.%d", k)
	}
	return s
}

func (s challengeSchedule) ids() []string {
	var ids []string
	for k := range s.layerFold {
		ids = append(ids, s.coeffs[k]...)
		ids = append(ids, s.rounds[k]...)
		ids = append(ids, s.layerFold[k])
	}
	return ids
}

func newTranscript(h hash.Hash, numLayers, batchSize int) (*fiatshamir.Transcript, challengeSchedule) {
	sched := newChallengeSchedule(numLayers, batchSize)
	return fiatshamir.NewTranscript(h, sched.ids()...), sched
}

func challengeScalar(fs *fiatshamir.Transcript, id string) (fr.Element, error) {
	var res fr.Element
	b, err := fs.ComputeChallenge(id)
	if err != nil {
		return res, err
	}
	res.SetBytes(b)
	return res, nil
}

// proveSumcheck runs the batched cubic sum-check of one layer: at every
// round the prover sends the round polynomial, draws the round challenge
// and binds both the layer and the eq table to it.
func proveSumcheck(layer cubicSumcheck, claim fr.Element, coeffs []fr.Element, eq *polynomial.MultiLin, fs *fiatshamir.Transcript, roundIDs []string) (sumcheck.Proof, []fr.Element, error) {

	previousClaim := claim
	numRounds := layer.numRounds()
	r := make([]fr.Element, numRounds)
	polys := make([]sumcheck.CompressedUniPoly, numRounds)

	for j := 0; j < numRounds; j++ {
		cubic := layer.computeCubic(coeffs, *eq, previousClaim)

		if err := fs.Bind(roundIDs[j], cubic.Marshal()); err != nil {
			return sumcheck.Proof{}, nil, err
		}
		rj, err := challengeScalar(fs, roundIDs[j])
		if err != nil {
			return sumcheck.Proof{}, nil, err
		}
		r[j] = rj

		layer.bind(eq, &rj)

		previousClaim = cubic.Eval(&rj)
		polys[j] = cubic.Compress()
	}

	if len(*eq) != 1 {
		panic("grandproduct: eq table not fully bound after sum-check")
	}

	return sumcheck.Proof{CompressedPolys: polys}, r, nil
}

// proveLayer reduces the current claims, which refer to this layer's
// multilinear extension at the accumulated point, to claims about the layer
// below, and extends the accumulated point by one coordinate.
func proveLayer(layer cubicSumcheck, layerIndex int, claims *[]fr.Element, rGrandProduct *[]fr.Element, fs *fiatshamir.Transcript, sched challengeSchedule) (LayerProof, error) {

	// fresh batching coefficients, then the joint claim Σ_b coeffs[b]·claims[b]
	coeffs := make([]fr.Element, len(*claims))
	var claim, t fr.Element
	for b := range coeffs {
		c, err := challengeScalar(fs, sched.coeffs[layerIndex][b])
		if err != nil {
			return LayerProof{}, err
		}
		coeffs[b] = c
		t.Mul(&coeffs[b], &(*claims)[b])
		claim.Add(&claim, &t)
	}

	eq := polynomial.EqEvals(*rGrandProduct)
	scProof, rSumcheck, err := proveSumcheck(layer, claim, coeffs, &eq, fs, sched.rounds[layerIndex])
	if err != nil {
		return LayerProof{}, err
	}
	background.Discard(eq)

	leftClaims, rightClaims := layer.finalClaims()
	for b := range leftClaims {
		if err := fs.Bind(sched.layerFold[layerIndex], leftClaims[b].Marshal()); err != nil {
			return LayerProof{}, err
		}
		if err := fs.Bind(sched.layerFold[layerIndex], rightClaims[b].Marshal()); err != nil {
			return LayerProof{}, err
		}
	}

	// the accumulated point stores the sum-check challenges reversed, so
	// that its first coordinate matches the most significant index bit of
	// the next layer's eq table
	rGP := make([]fr.Element, 0, len(rSumcheck)+1)
	for j := len(rSumcheck) - 1; j >= 0; j-- {
		rGP = append(rGP, rSumcheck[j])
	}

	rLayer, err := challengeScalar(fs, sched.layerFold[layerIndex])
	if err != nil {
		return LayerProof{}, err
	}

	// condense the two claims per tree into one
	folded := make([]fr.Element, len(leftClaims))
	for b := range folded {
		t.Sub(&rightClaims[b], &leftClaims[b]).Mul(&t, &rLayer)
		folded[b].Add(&leftClaims[b], &t)
	}
	*claims = folded
	*rGrandProduct = append(rGP, rLayer)

	return LayerProof{SumcheckProof: scProof, LeftClaims: leftClaims, RightClaims: rightClaims}, nil
}

// proveGrandProduct drives the layers root first. stack is consumed in
// place; claims are the tree roots.
func proveGrandProduct(stack []cubicSumcheck, claims []fr.Element, h hash.Hash, dataTranscript ...[]byte) (Proof, []fr.Element, error) {

	fs, sched := newTranscript(h, len(stack), len(claims))
	if err := bindSeed(fs, sched, dataTranscript); err != nil {
		return Proof{}, nil, err
	}

	claimsToVerify := append([]fr.Element(nil), claims...)
	var rGrandProduct []fr.Element

	proof := Proof{Layers: make([]LayerProof, 0, len(stack))}
	for k, layer := range stack {
		lp, err := proveLayer(layer, k, &claimsToVerify, &rGrandProduct, fs, sched)
		if err != nil {
			return Proof{}, nil, err
		}
		proof.Layers = append(proof.Layers, lp)
	}

	return proof, rGrandProduct, nil
}

// bindSeed binds caller-provided transcript data to the first challenge, so
// an outer protocol can domain-separate several grand product instances.
func bindSeed(fs *fiatshamir.Transcript, sched challengeSchedule, dataTranscript [][]byte) error {
	if len(dataTranscript) == 0 || len(sched.coeffs) == 0 {
		return nil
	}
	first := sched.coeffs[0][0]
	for _, data := range dataTranscript {
		if err := fs.Bind(first, data); err != nil {
			return err
		}
	}
	return nil
}

// VerifyGrandProduct checks proof against the claimed per-tree products,
// mirroring the prover's transcript with public data only. On success it
// returns the per-tree claims about the leaf layers and the evaluation
// point they refer to.
func VerifyGrandProduct(proof Proof, claims []fr.Element, h hash.Hash, dataTranscript ...[]byte) ([]fr.Element, []fr.Element, error) {

	fs, sched := newTranscript(h, len(proof.Layers), len(claims))
	if err := bindSeed(fs, sched, dataTranscript); err != nil {
		return nil, nil, err
	}

	claimsToVerify := append([]fr.Element(nil), claims...)
	var rGrandProduct []fr.Element
	var t fr.Element

	for k := range proof.Layers {
		layerProof := &proof.Layers[k]
		if len(layerProof.LeftClaims) != len(claims) || len(layerProof.RightClaims) != len(claims) {
			return nil, nil, ErrMalformedProof
		}

		coeffs := make([]fr.Element, len(claimsToVerify))
		var claim fr.Element
		for b := range coeffs {
			c, err := challengeScalar(fs, sched.coeffs[k][b])
			if err != nil {
				return nil, nil, err
			}
			coeffs[b] = c
			t.Mul(&coeffs[b], &claimsToVerify[b])
			claim.Add(&claim, &t)
		}

		sumcheckClaim, rSumcheck, err := layerProof.SumcheckProof.Verify(claim, k, sumcheck.CubicDegree, fs, sched.rounds[k])
		if err != nil {
			if errors.Is(err, sumcheck.ErrInvalidProofLength) || errors.Is(err, sumcheck.ErrInvalidDegree) {
				return nil, nil, ErrMalformedProof
			}
			return nil, nil, err
		}

		for b := range layerProof.LeftClaims {
			if err := fs.Bind(sched.layerFold[k], layerProof.LeftClaims[b].Marshal()); err != nil {
				return nil, nil, err
			}
			if err := fs.Bind(sched.layerFold[k], layerProof.RightClaims[b].Marshal()); err != nil {
				return nil, nil, err
			}
		}

		// eq(r_grand_product ; reversed sum-check challenges)
		rRev := make([]fr.Element, len(rSumcheck))
		for j := range rSumcheck {
			rRev[j] = rSumcheck[len(rSumcheck)-1-j]
		}
		eqEval := polynomial.EqEval(rGrandProduct, rRev)

		// Σ_b coeffs[b]·left[b]·right[b]·eq must equal the sum-check's
		// final claim
		var expected, lr fr.Element
		for b := range coeffs {
			lr.Mul(&layerProof.LeftClaims[b], &layerProof.RightClaims[b]).
				Mul(&lr, &coeffs[b])
			expected.Add(&expected, &lr)
		}
		expected.Mul(&expected, &eqEval)

		if !expected.Equal(&sumcheckClaim) {
			return nil, nil, ErrClaimMismatch
		}

		rLayer, err := challengeScalar(fs, sched.layerFold[k])
		if err != nil {
			return nil, nil, err
		}

		folded := make([]fr.Element, len(claimsToVerify))
		for b := range folded {
			t.Sub(&layerProof.RightClaims[b], &layerProof.LeftClaims[b]).Mul(&t, &rLayer)
			folded[b].Add(&layerProof.LeftClaims[b], &t)
		}
		claimsToVerify = folded
		rGrandProduct = append(rRev, rLayer)
	}

	return claimsToVerify, rGrandProduct, nil
}
