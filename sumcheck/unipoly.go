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

package sumcheck

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/polynomial"
)

// CubicDegree is the degree of the round polynomials of the product
// sum-check. InterpolateCubic and the proof compression are tied to it.
const CubicDegree = 3

var twoInv, threeInv, sixInv fr.Element

func init() {
	twoInv.SetUint64(2).Inverse(&twoInv)
	threeInv.SetUint64(3).Inverse(&threeInv)
	sixInv.SetUint64(6).Inverse(&sixInv)
}

// UniPoly is a univariate polynomial in coefficient form, low degree first.
type UniPoly struct {
	Coeffs polynomial.Polynomial
}

// CompressedUniPoly is a UniPoly with its linear term dropped. The verifier
// recovers the linear term from the running sum-check claim, so it never
// travels in the proof.
type CompressedUniPoly struct {
	CoeffsExceptLinearTerm []fr.Element
}

// InterpolateCubic reconstructs the degree-3 polynomial taking the given
// values on the points {0,1,2,3}, using Newton forward differences.
func InterpolateCubic(evals *[4]fr.Element) UniPoly {
	var d1, d2, d3, dd1, ddd, t fr.Element
	d1.Sub(&evals[1], &evals[0])
	d2.Sub(&evals[2], &evals[1])
	d3.Sub(&evals[3], &evals[2])
	dd1.Sub(&d2, &d1)
	ddd.Sub(&d3, &d2).Sub(&ddd, &dd1)

	coeffs := make(polynomial.Polynomial, CubicDegree+1)
	coeffs[0].Set(&evals[0])
	// c₃ = ddd/6, c₂ = (dd1−ddd)/2, c₁ = d1 − dd1/2 + ddd/3
	coeffs[3].Mul(&ddd, &sixInv)
	t.Sub(&dd1, &ddd)
	coeffs[2].Mul(&t, &twoInv)
	t.Mul(&dd1, &twoInv)
	coeffs[1].Sub(&d1, &t)
	t.Mul(&ddd, &threeInv)
	coeffs[1].Add(&coeffs[1], &t)

	return UniPoly{Coeffs: coeffs}
}

// Eval evaluates p at r.
func (p UniPoly) Eval(r *fr.Element) fr.Element {
	return p.Coeffs.Eval(r)
}

// Degree returns the degree of p.
func (p UniPoly) Degree() int {
	return len(p.Coeffs) - 1
}

// Marshal concatenates the regular-form encodings of the coefficients; it
// is the canonical transcript representation of the polynomial.
func (p UniPoly) Marshal() []byte {
	res := make([]byte, 0, len(p.Coeffs)*fr.Bytes)
	for i := range p.Coeffs {
		res = append(res, p.Coeffs[i].Marshal()...)
	}
	return res
}

// Compress drops the linear term of p.
func (p UniPoly) Compress() CompressedUniPoly {
	coeffs := make([]fr.Element, 0, len(p.Coeffs)-1)
	coeffs = append(coeffs, p.Coeffs[0])
	coeffs = append(coeffs, p.Coeffs[2:]...)
	return CompressedUniPoly{CoeffsExceptLinearTerm: coeffs}
}

// Decompress recovers the full polynomial from the running claim: the round
// sum law g(0)+g(1) = claim pins the linear term to
// claim − 2c₀ − c₂ − ... − c_d.
func (p CompressedUniPoly) Decompress(claim *fr.Element) UniPoly {
	var linear fr.Element
	linear.Sub(claim, &p.CoeffsExceptLinearTerm[0]).
		Sub(&linear, &p.CoeffsExceptLinearTerm[0])
	for i := 1; i < len(p.CoeffsExceptLinearTerm); i++ {
		linear.Sub(&linear, &p.CoeffsExceptLinearTerm[i])
	}

	coeffs := make(polynomial.Polynomial, len(p.CoeffsExceptLinearTerm)+1)
	coeffs[0].Set(&p.CoeffsExceptLinearTerm[0])
	coeffs[1].Set(&linear)
	copy(coeffs[2:], p.CoeffsExceptLinearTerm[1:])
	return UniPoly{Coeffs: coeffs}
}
