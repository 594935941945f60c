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

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/nnsW3/jolt/internal/background"
	"github.com/nnsW3/jolt/internal/parallel"
	"github.com/nnsW3/jolt/polynomial"
	"github.com/nnsW3/jolt/sumcheck"
)

// densificationThreshold is the ratio of explicit entries to layer length
// above which a sparse layer is promoted to a dense one. Dense layers never
// revert to sparse.
const densificationThreshold = 0.8

// SparseEntry is an explicit position of a sparse layer; every index absent
// from the entry list carries the value one.
type SparseEntry struct {
	Index int
	Value fr.Element
}

// DynamicDensityLayer is a single tree's layer, either sparse or dense.
// Layers of lookup-style circuits are overwhelmingly ones, so the sparse
// representation only stores the exceptions; once the exceptions stop being
// rare the layer is promoted to a plain vector.
type DynamicDensityLayer struct {
	sparse  []SparseEntry
	dense   []fr.Element
	isDense bool
}

// NewSparseLayer builds a sparse layer from its explicit entries, which
// must have strictly increasing indices and values different from one.
func NewSparseLayer(entries []SparseEntry) DynamicDensityLayer {
	return DynamicDensityLayer{sparse: entries}
}

// NewDenseLayer builds a dense layer from its evaluation vector.
func NewDenseLayer(values []fr.Element) DynamicDensityLayer {
	return DynamicDensityLayer{dense: values, isDense: true}
}

// IsDense reports whether the layer uses the dense representation.
func (l *DynamicDensityLayer) IsDense() bool {
	return l.isDense
}

// Densify materializes the layer as a plain vector of length layerLen,
// implicit ones included.
func (l *DynamicDensityLayer) Densify(layerLen int) []fr.Element {
	out := make([]fr.Element, layerLen)
	if l.isDense {
		copy(out, l.dense[:layerLen])
		return out
	}
	for i := range out {
		out[i].SetOne()
	}
	for _, e := range l.sparse {
		out[e.Index] = e.Value
	}
	return out
}

// Product returns the product of all layer values, implicit ones included.
func (l *DynamicDensityLayer) Product(layerLen int) fr.Element {
	var res fr.Element
	res.SetOne()
	if l.isDense {
		for i := 0; i < layerLen; i++ {
			res.Mul(&res, &l.dense[i])
		}
		return res
	}
	for i := range l.sparse {
		res.Mul(&res, &l.sparse[i].Value)
	}
	return res
}

// findNeighbor returns the value at index query among entries[from:to],
// defaulting to the implicit one. Only the next few entries can hold an
// in-quartet sibling, so the window is at most three wide.
func findNeighbor(entries []SparseEntry, from, to, query int) fr.Element {
	if to > len(entries) {
		to = len(entries)
	}
	for k := from; k < to; k++ {
		if entries[k].Index == query {
			return entries[k].Value
		}
	}
	var one fr.Element
	one.SetOne()
	return one
}

// LayerOutput multiplies sibling pairs to build the next layer up the
// product tree. The output representation follows the densification
// threshold; an already dense layer stays dense.
func (l *DynamicDensityLayer) LayerOutput(outputLen int) DynamicDensityLayer {
	if l.isDense {
		out := make([]fr.Element, outputLen)
		for i := 0; i < outputLen; i++ {
			out[i].Mul(&l.dense[2*i], &l.dense[2*i+1])
		}
		return NewDenseLayer(out)
	}

	if float64(len(l.sparse))/float64(2*outputLen) > densificationThreshold {
		// not very sparse anymore, make the next layer dense
		out := make([]fr.Element, outputLen)
		for i := range out {
			out[i].SetOne()
		}
		next := 0
		for j := range l.sparse {
			index, value := l.sparse[j].Index, l.sparse[j].Value
			if index < next {
				// already multiplied with its sibling
				continue
			}
			if index%2 == 0 {
				if j+1 < len(l.sparse) && l.sparse[j+1].Index == index+1 {
					out[index/2].Mul(&value, &l.sparse[j+1].Value)
				} else {
					// right sibling is an implicit one
					out[index/2] = value
				}
				next = index + 2
			} else {
				// left sibling was not seen, so it is an implicit one
				out[index/2] = value
				next = index + 1
			}
		}
		return NewDenseLayer(out)
	}

	out := make([]SparseEntry, 0, len(l.sparse))
	next := 0
	for j := range l.sparse {
		index, value := l.sparse[j].Index, l.sparse[j].Value
		if index < next {
			continue
		}
		if index%2 == 0 {
			if j+1 < len(l.sparse) && l.sparse[j+1].Index == index+1 {
				var product fr.Element
				product.Mul(&value, &l.sparse[j+1].Value)
				out = append(out, SparseEntry{Index: index / 2, Value: product})
			} else {
				out = append(out, SparseEntry{Index: index / 2, Value: value})
			}
			next = index + 2
		} else {
			out = append(out, SparseEntry{Index: index / 2, Value: value})
			next = index + 1
		}
	}
	return NewSparseLayer(out)
}

// bindLayer folds the next sum-check variable into the layer. For the
// sparse representation the output is rebuilt entry by entry: walking the
// input in increasing index order and emitting every quartet at its first
// explicit entry keeps the output indices strictly increasing.
func (l *DynamicDensityLayer) bindLayer(layerLen int, r *fr.Element) {
	if l.isDense {
		layer := l.dense
		n := layerLen / 4
		var t fr.Element
		for i := 0; i < n; i++ {
			t.Sub(&layer[4*i+2], &layer[4*i]).Mul(&t, r)
			layer[2*i].Add(&layer[4*i], &t)
			t.Sub(&layer[4*i+3], &layer[4*i+1]).Mul(&t, r)
			layer[2*i+1].Add(&layer[4*i+1], &t)
		}
		l.dense = layer[:layerLen/2]
		return
	}

	var out DynamicDensityLayer
	if float64(len(l.sparse))/float64(layerLen) > densificationThreshold {
		dense := make([]fr.Element, layerLen/2)
		for i := range dense {
			dense[i].SetOne()
		}
		out = NewDenseLayer(dense)
	} else {
		out = NewSparseLayer(make([]SparseEntry, 0, len(l.sparse)))
	}
	push := func(index int, value fr.Element) {
		if out.isDense {
			out.dense[index] = value
		} else {
			out.sparse = append(out.sparse, SparseEntry{Index: index, Value: value})
		}
	}

	var one, folded, t fr.Element
	one.SetOne()

	nextLeft, nextRight := 0, 0
	for j := range l.sparse {
		index, value := l.sparse[j].Index, l.sparse[j].Value
		if index%2 == 0 && index < nextLeft {
			// already bound with its left sibling
			continue
		}
		if index%2 == 1 && index < nextRight {
			continue
		}

		switch index % 4 {
		case 0:
			sibling := findNeighbor(l.sparse, j+1, j+3, index+2)
			t.Sub(&sibling, &value).Mul(&t, r)
			folded.Add(&value, &t)
			push(index/2, folded)
			nextLeft = index + 4
		case 1:
			// If the quartet's left input is an implicit one, its left fold
			// has not been emitted yet; when the fold with the entry at
			// index+1 is non-trivial it has to be emitted first to keep the
			// output sorted.
			if nextLeft <= index+1 {
				leftNeighbor := findNeighbor(l.sparse, j+1, j+3, index+1)
				if !leftNeighbor.IsOne() {
					t.Sub(&leftNeighbor, &one).Mul(&t, r)
					folded.Add(&one, &t)
					push(index/2, folded)
				}
				nextLeft = index + 3
			}
			sibling := findNeighbor(l.sparse, j+1, j+3, index+2)
			t.Sub(&sibling, &value).Mul(&t, r)
			folded.Add(&value, &t)
			push(index/2+1, folded)
			nextRight = index + 4
		case 2:
			// left sibling was not seen, so it is an implicit one
			t.Sub(&value, &one).Mul(&t, r)
			folded.Add(&one, &t)
			push(index/2-1, folded)
			nextLeft = index + 2
		case 3:
			// right sibling was not seen, so it is an implicit one
			t.Sub(&value, &one).Mul(&t, r)
			folded.Add(&one, &t)
			push(index/2, folded)
			nextRight = index + 2
		}
	}

	background.Discard(l.sparse)
	*l = out
}

// mulZeroFast multiplies a by b, skipping the work when either operand is
// zero; the sparse cubic deltas are mostly zero.
func mulZeroFast(res, a, b *fr.Element) {
	if a.IsZero() || b.IsZero() {
		res.SetZero()
		return
	}
	res.Mul(a, b)
}

// mulOneFast multiplies a by b, skipping the work when either operand is
// one; sparse layer corners are mostly one.
func mulOneFast(res, a, b *fr.Element) {
	if a.IsOne() {
		res.Set(b)
		return
	}
	if b.IsOne() {
		res.Set(a)
		return
	}
	res.Mul(a, b)
}

// cubicEvals computes this tree's contribution to the round polynomial at
// the points {0,2,3}, scaled by its batching coefficient.
//
// For a sparse layer the contribution is computed as a delta from the
// all-ones layer: were every value one, the contribution would be
// coeff·Σᵢ eq(i); each explicit quartet corrects that sum by
// eq(i)·(left·right − 1).
func (l *DynamicDensityLayer) cubicEvals(coeff *fr.Element, eqEvals []evalTriple, eqSums *evalTriple, layerLen int) evalTriple {
	var res evalTriple

	if l.isDense {
		var mL, mR, p2l, p3l, p2r, p3r, u fr.Element
		layer := l.dense
		n := layerLen / 4
		for i := 0; i < n; i++ {
			l0, l1 := layer[4*i], layer[4*i+2]
			r0, r1 := layer[4*i+1], layer[4*i+3]

			mL.Sub(&l1, &l0)
			mR.Sub(&r1, &r0)
			p2l.Add(&l1, &mL)
			p3l.Add(&p2l, &mL)
			p2r.Add(&r1, &mR)
			p3r.Add(&p2r, &mR)

			u.Mul(&l0, &r0).Mul(&u, &eqEvals[i].p0)
			res.p0.Add(&res.p0, &u)
			u.Mul(&p2l, &p2r).Mul(&u, &eqEvals[i].p2)
			res.p2.Add(&res.p2, &u)
			u.Mul(&p3l, &p3r).Mul(&u, &eqEvals[i].p3)
			res.p3.Add(&res.p3, &u)
		}
		res.p0.Mul(&res.p0, coeff)
		res.p2.Mul(&res.p2, coeff)
		res.p3.Mul(&res.p3, coeff)
		return res
	}

	var one fr.Element
	one.SetOne()

	var delta evalTriple
	var left0, left1, right0, right1 fr.Element
	var mL, mR, p2l, p3l, p2r, p3r, prod, u fr.Element

	next := 0
	for j := range l.sparse {
		index, value := l.sparse[j].Index, l.sparse[j].Value
		if index < next {
			// quartet already accounted for
			continue
		}

		switch index % 4 {
		case 0:
			left0 = value
			left1 = findNeighbor(l.sparse, j+1, j+4, index+2)
			right0 = findNeighbor(l.sparse, j+1, j+4, index+1)
			right1 = findNeighbor(l.sparse, j+1, j+4, index+3)
			next = index + 4
		case 1:
			left0 = one
			left1 = findNeighbor(l.sparse, j+1, j+4, index+1)
			right0 = value
			right1 = findNeighbor(l.sparse, j+1, j+4, index+2)
			next = index + 3
		case 2:
			left0, left1 = one, value
			right0 = one
			right1 = findNeighbor(l.sparse, j+1, j+4, index+1)
			next = index + 2
		case 3:
			left0, left1, right0 = one, one, one
			right1 = value
			next = index + 1
		}

		mL.Sub(&left1, &left0)
		mR.Sub(&right1, &right0)
		p2l.Add(&left1, &mL)
		p3l.Add(&p2l, &mL)
		p2r.Add(&right1, &mR)
		p3r.Add(&p2r, &mR)

		e := &eqEvals[index/4]
		mulOneFast(&prod, &left0, &right0)
		prod.Sub(&prod, &one)
		mulZeroFast(&u, &e.p0, &prod)
		delta.p0.Add(&delta.p0, &u)

		mulOneFast(&prod, &p2l, &p2r)
		prod.Sub(&prod, &one)
		mulZeroFast(&u, &e.p2, &prod)
		delta.p2.Add(&delta.p2, &u)

		mulOneFast(&prod, &p3l, &p3r)
		prod.Sub(&prod, &one)
		mulZeroFast(&u, &e.p3, &prod)
		delta.p3.Add(&delta.p3, &u)
	}

	res.p0.Add(&eqSums.p0, &delta.p0)
	res.p2.Add(&eqSums.p2, &delta.p2)
	res.p3.Add(&eqSums.p3, &delta.p3)
	res.p0.Mul(&res.p0, coeff)
	res.p2.Mul(&res.p2, coeff)
	res.p3.Mul(&res.p3, coeff)
	return res
}

// BatchedSparseLayer is one layer of every tree in the batch, in the
// dynamic dense/sparse representation. All trees share LayerLen, which
// halves with every sum-check round.
type BatchedSparseLayer struct {
	LayerLen int
	Layers   []DynamicDensityLayer
}

func (l *BatchedSparseLayer) numRounds() int {
	return bits.TrailingZeros(uint(l.LayerLen)) - 1
}

func (l *BatchedSparseLayer) bind(eq *polynomial.MultiLin, r *fr.Element) {
	done := make(chan struct{})
	go func() {
		eq.FoldBot(r)
		close(done)
	}()

	layerLen := l.LayerLen
	parallel.Execute(len(l.Layers), func(start, end int) {
		for b := start; b < end; b++ {
			l.Layers[b].bindLayer(layerLen, r)
		}
	})

	<-done
	l.LayerLen /= 2
}

func (l *BatchedSparseLayer) computeCubic(coeffs []fr.Element, eq polynomial.MultiLin, previousClaim fr.Element) sumcheck.UniPoly {

	n := len(eq) / 2
	eqEvals := make([]evalTriple, n)
	parallel.Execute(n, func(start, end int) {
		var m fr.Element
		for i := start; i < end; i++ {
			eqEvals[i].p0.Set(&eq[2*i])
			m.Sub(&eq[2*i+1], &eq[2*i])
			eqEvals[i].p2.Add(&eq[2*i+1], &m)
			eqEvals[i].p3.Add(&eqEvals[i].p2, &m)
		}
	})

	// the cubic evaluations of an all-ones layer; sparse trees start from
	// these sums and only correct for their explicit entries
	eqSums := sumTriples(n, func(i int, acc *evalTriple) {
		acc.add(&eqEvals[i])
	})

	evals := make([]evalTriple, len(coeffs))
	parallel.Execute(len(coeffs), func(start, end int) {
		for b := start; b < end; b++ {
			evals[b] = l.Layers[b].cubicEvals(&coeffs[b], eqEvals, &eqSums, l.LayerLen)
		}
	})

	var combined evalTriple
	for b := range evals {
		combined.add(&evals[b])
	}

	var cubic [4]fr.Element
	cubic[0].Set(&combined.p0)
	cubic[1].Sub(&previousClaim, &combined.p0)
	cubic[2].Set(&combined.p2)
	cubic[3].Set(&combined.p3)
	return sumcheck.InterpolateCubic(&cubic)
}

func (l *BatchedSparseLayer) finalClaims() ([]fr.Element, []fr.Element) {
	if l.LayerLen != 2 {
		panic("grandproduct: layer not fully bound")
	}

	var one fr.Element
	one.SetOne()

	left := make([]fr.Element, len(l.Layers))
	right := make([]fr.Element, len(l.Layers))
	for b := range l.Layers {
		layer := &l.Layers[b]
		if layer.isDense {
			left[b] = layer.dense[0]
			right[b] = layer.dense[1]
			continue
		}
		switch len(layer.sparse) {
		case 0:
			left[b], right[b] = one, one
		case 1:
			if layer.sparse[0].Index == 0 {
				left[b], right[b] = layer.sparse[0].Value, one
			} else {
				left[b], right[b] = one, layer.sparse[0].Value
			}
		case 2:
			left[b], right[b] = layer.sparse[0].Value, layer.sparse[1].Value
		default:
			panic("grandproduct: terminal sparse layer has more than two entries")
		}
	}
	return left, right
}

// BatchedSparseGrandProduct is a batch of product trees whose layers use
// the dynamic dense/sparse representation, for witnesses that are
// overwhelmingly ones.
type BatchedSparseGrandProduct struct {
	layers []BatchedSparseLayer
}

// NewBatchedSparseGrandProduct builds the product trees of a batch of
// dynamic-density leaf layers bottom-up. leafLen is the shared leaf count,
// a power of two.
func NewBatchedSparseGrandProduct(leaves []DynamicDensityLayer, leafLen int) *BatchedSparseGrandProduct {
	if leafLen < 2 || leafLen&(leafLen-1) != 0 {
		panic("grandproduct: leaf layers must have power-of-two length >= 2")
	}

	numLayers := bits.TrailingZeros(uint(leafLen))
	layers := make([]BatchedSparseLayer, 0, numLayers)
	layers = append(layers, BatchedSparseLayer{LayerLen: leafLen, Layers: leaves})

	for k := 0; k < numLayers-1; k++ {
		previous := layers[k]
		outputLen := previous.LayerLen / 2
		next := BatchedSparseLayer{
			LayerLen: outputLen,
			Layers:   make([]DynamicDensityLayer, len(previous.Layers)),
		}
		parallel.Execute(len(previous.Layers), func(start, end int) {
			for b := start; b < end; b++ {
				next.Layers[b] = previous.Layers[b].LayerOutput(outputLen)
			}
		})
		layers = append(layers, next)
	}

	return &BatchedSparseGrandProduct{layers: layers}
}

// NumLayers returns the depth of the trees.
func (gp *BatchedSparseGrandProduct) NumLayers() int {
	return len(gp.layers)
}

// Claims returns the grand product of each tree in the batch.
func (gp *BatchedSparseGrandProduct) Claims() []fr.Element {
	top := &gp.layers[len(gp.layers)-1]
	left, right := top.finalClaims()
	claims := make([]fr.Element, len(left))
	for b := range claims {
		claims[b].Mul(&left[b], &right[b])
	}
	return claims
}

// Prove produces the batched grand product proof and the accumulated
// evaluation point. The layer stacks are overwritten in place.
func (gp *BatchedSparseGrandProduct) Prove(h hash.Hash, dataTranscript ...[]byte) (Proof, []fr.Element, error) {
	claims := gp.Claims()
	stack := make([]cubicSumcheck, len(gp.layers))
	for i := range gp.layers {
		stack[i] = &gp.layers[len(gp.layers)-1-i]
	}
	return proveGrandProduct(stack, claims, h, dataTranscript...)
}
