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

// Package polynomial provides the multilinear building blocks of the grand
// product argument: dense multilinear polynomials in evaluation form and
// the equality indicator eq(x;r).
package polynomial

import (
	"math/bits"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// MultiLin is a multilinear polynomial over Fr given by its evaluations on
// the hypercube {0,1}ⁿ. The table is indexed with the first variable on the
// most significant bit, so the low variable of the polynomial is the low
// bit of the index.
type MultiLin []fr.Element

// NumVars returns the number of variables. The length of the table must be
// a power of two.
func (m MultiLin) NumVars() int {
	return bits.TrailingZeros(uint(len(m)))
}

// Clone returns a deep copy of m.
func (m MultiLin) Clone() MultiLin {
	res := make(MultiLin, len(m))
	copy(res, m)
	return res
}

// FoldBot fixes the low variable of m to r, halving the table in place:
// m'[i] = m[2i] + r·(m[2i+1]−m[2i]).
func (m *MultiLin) FoldBot(r *fr.Element) {
	evals := *m
	n := len(evals) / 2
	var t fr.Element
	for i := 0; i < n; i++ {
		t.Sub(&evals[2*i+1], &evals[2*i]).Mul(&t, r)
		evals[i].Add(&evals[2*i], &t)
	}
	*m = evals[:n]
}

// EqEvals returns the table of eq(x;r) = Πᵢ(xᵢrᵢ + (1−xᵢ)(1−rᵢ)) over the
// hypercube, r[0] paired with the most significant index bit. The table is
// built by iterated doubling, so appending a coordinate to r refines every
// entry into the two entries selected by the new low bit.
func EqEvals(r []fr.Element) MultiLin {
	evals := make(MultiLin, 1<<len(r))
	evals[0].SetOne()
	size := 1
	for j := 0; j < len(r); j++ {
		size *= 2
		// descending so evals[i/2] is read before it is overwritten
		for i := size - 1; i > 0; i -= 2 {
			var scalar fr.Element
			scalar.Set(&evals[i/2])
			evals[i].Mul(&scalar, &r[j])
			evals[i-1].Sub(&scalar, &evals[i])
		}
	}
	return evals
}

// EqEval computes eq(a;b) = Πᵢ(aᵢbᵢ + (1−aᵢ)(1−bᵢ)) for two points of the
// same dimension.
func EqEval(a, b []fr.Element) fr.Element {
	var res, u, v, t, one fr.Element
	res.SetOne()
	one.SetOne()
	for i := range a {
		t.Mul(&a[i], &b[i])
		u.Sub(&one, &a[i])
		v.Sub(&one, &b[i])
		u.Mul(&u, &v)
		t.Add(&t, &u)
		res.Mul(&res, &t)
	}
	return res
}
