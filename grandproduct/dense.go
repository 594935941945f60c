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
	"hash"
	"math/bits"
	"runtime"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/nnsW3/jolt/internal/parallel"
	"github.com/nnsW3/jolt/polynomial"
	"github.com/nnsW3/jolt/sumcheck"
)

// evalTriple carries the evaluations of the layer polynomial at the points
// 0, 2 and 3 of the next sum-check variable.
type evalTriple struct {
	p0, p2, p3 fr.Element
}

func (t *evalTriple) add(o *evalTriple) {
	t.p0.Add(&t.p0, &o.p0)
	t.p2.Add(&t.p2, &o.p2)
	t.p3.Add(&t.p3, &o.p3)
}

// sumTriples reduces term(i) for i in [0,n) with an associative sum, the
// range fanned out over the available CPUs.
func sumTriples(n int, term func(i int, acc *evalTriple)) evalTriple {
	nbTasks := runtime.NumCPU()
	if nbTasks > n {
		nbTasks = n
	}
	if nbTasks <= 1 {
		var acc evalTriple
		for i := 0; i < n; i++ {
			term(i, &acc)
		}
		return acc
	}

	partials := make([]evalTriple, nbTasks)
	chunk := n / nbTasks

	var wg sync.WaitGroup
	wg.Add(nbTasks)
	for task := 0; task < nbTasks; task++ {
		start := task * chunk
		end := start + chunk
		if task == nbTasks-1 {
			end = n
		}
		go func(task, start, end int) {
			acc := &partials[task]
			for i := start; i < end; i++ {
				term(i, acc)
			}
			wg.Done()
		}(task, start, end)
	}
	wg.Wait()

	var acc evalTriple
	for task := range partials {
		acc.add(&partials[task])
	}
	return acc
}

// BatchedDenseLayer is one layer of every tree in the batch, fully
// materialized. Index 2i is a left sibling, index 2i+1 a right sibling.
type BatchedDenseLayer [][]fr.Element

func (l BatchedDenseLayer) numRounds() int {
	return bits.TrailingZeros(uint(len(l[0]))) - 1
}

// bind folds the next sum-check variable into every tree of the batch and
// into the eq table, concurrently. Each group of four consecutive positions
// folds to two: the left siblings 4i and 4i+2 to 2i, the right siblings
// 4i+1 and 4i+3 to 2i+1.
func (l BatchedDenseLayer) bind(eq *polynomial.MultiLin, r *fr.Element) {
	done := make(chan struct{})
	go func() {
		eq.FoldBot(r)
		close(done)
	}()

	parallel.Execute(len(l), func(start, end int) {
		var t fr.Element
		for b := start; b < end; b++ {
			layer := l[b]
			n := len(layer) / 4
			for i := 0; i < n; i++ {
				t.Sub(&layer[4*i+2], &layer[4*i]).Mul(&t, r)
				layer[2*i].Add(&layer[4*i], &t)
				t.Sub(&layer[4*i+3], &layer[4*i+1]).Mul(&t, r)
				layer[2*i+1].Add(&layer[4*i+1], &t)
			}
			l[b] = layer[:len(layer)/2]
		}
	})

	<-done
}

// computeCubic evaluates the round polynomial
// g(X) = Σ_b coeffs[b]·Σ_i eq_X(i)·left_X(i)·right_X(i)
// at the points {0,2,3} and pins g(1) with the running claim.
func (l BatchedDenseLayer) computeCubic(coeffs []fr.Element, eq polynomial.MultiLin, previousClaim fr.Element) sumcheck.UniPoly {

	sums := sumTriples(len(eq)/2, func(i int, acc *evalTriple) {
		var e0, e2, e3, m fr.Element
		e0.Set(&eq[2*i])
		m.Sub(&eq[2*i+1], &eq[2*i])
		e2.Add(&eq[2*i+1], &m)
		e3.Add(&e2, &m)

		var t evalTriple
		var l0, l1, r0, r1, mL, mR, p2l, p3l, p2r, p3r, u fr.Element
		for b := range l {
			layer := l[b]
			// folding the batching coefficient into the left operand costs
			// two multiplications by it instead of three
			l0.Mul(&coeffs[b], &layer[4*i])
			l1.Mul(&coeffs[b], &layer[4*i+2])
			r0.Set(&layer[4*i+1])
			r1.Set(&layer[4*i+3])

			mL.Sub(&l1, &l0)
			mR.Sub(&r1, &r0)
			p2l.Add(&l1, &mL)
			p3l.Add(&p2l, &mL)
			p2r.Add(&r1, &mR)
			p3r.Add(&p2r, &mR)

			u.Mul(&l0, &r0)
			t.p0.Add(&t.p0, &u)
			u.Mul(&p2l, &p2r)
			t.p2.Add(&t.p2, &u)
			u.Mul(&p3l, &p3r)
			t.p3.Add(&t.p3, &u)
		}
		t.p0.Mul(&t.p0, &e0)
		t.p2.Mul(&t.p2, &e2)
		t.p3.Mul(&t.p3, &e3)
		acc.add(&t)
	})

	var evals [4]fr.Element
	evals[0].Set(&sums.p0)
	evals[1].Sub(&previousClaim, &sums.p0)
	evals[2].Set(&sums.p2)
	evals[3].Set(&sums.p3)
	return sumcheck.InterpolateCubic(&evals)
}

func (l BatchedDenseLayer) finalClaims() ([]fr.Element, []fr.Element) {
	left := make([]fr.Element, len(l))
	right := make([]fr.Element, len(l))
	for b := range l {
		if len(l[b]) != 2 {
			panic("grandproduct: dense layer not fully bound")
		}
		left[b] = l[b][0]
		right[b] = l[b][1]
	}
	return left, right
}

// BatchedDenseGrandProduct holds the full layer stacks of a batch of
// product trees, leaves first. Proving consumes the stacks in place.
type BatchedDenseGrandProduct struct {
	layers []BatchedDenseLayer
}

// NewBatchedDenseGrandProduct builds the product tree of every leaf vector
// bottom-up. The vectors must share the same power-of-two length.
func NewBatchedDenseGrandProduct(leaves [][]fr.Element) *BatchedDenseGrandProduct {
	size := len(leaves[0])
	if size < 2 || size&(size-1) != 0 {
		panic("grandproduct: leaf vectors must have power-of-two length >= 2")
	}

	numLayers := bits.TrailingZeros(uint(size))
	layers := make([]BatchedDenseLayer, 0, numLayers)
	layers = append(layers, BatchedDenseLayer(leaves))

	for k := 0; k < numLayers-1; k++ {
		previous := layers[k]
		n := len(previous[0]) / 2
		next := make(BatchedDenseLayer, len(previous))
		parallel.Execute(len(previous), func(start, end int) {
			for b := start; b < end; b++ {
				out := make([]fr.Element, n)
				for i := 0; i < n; i++ {
					out[i].Mul(&previous[b][2*i], &previous[b][2*i+1])
				}
				next[b] = out
			}
		})
		layers = append(layers, next)
	}

	return &BatchedDenseGrandProduct{layers: layers}
}

// NumLayers returns the depth of the trees.
func (gp *BatchedDenseGrandProduct) NumLayers() int {
	return len(gp.layers)
}

// Claims returns the grand product of each tree in the batch.
func (gp *BatchedDenseGrandProduct) Claims() []fr.Element {
	top := gp.layers[len(gp.layers)-1]
	claims := make([]fr.Element, len(top))
	for b := range top {
		claims[b].Mul(&top[b][0], &top[b][1])
	}
	return claims
}

// Prove produces the batched grand product proof and the accumulated
// evaluation point. The layer stacks are overwritten in place; the prover
// state is unusable afterwards.
func (gp *BatchedDenseGrandProduct) Prove(h hash.Hash, dataTranscript ...[]byte) (Proof, []fr.Element, error) {
	claims := gp.Claims()
	stack := make([]cubicSumcheck, len(gp.layers))
	for i := range gp.layers {
		stack[i] = gp.layers[len(gp.layers)-1-i]
	}
	return proveGrandProduct(stack, claims, h, dataTranscript...)
}
