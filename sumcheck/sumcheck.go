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

// Package sumcheck provides the univariate round polynomials of a sum-check
// argument, their claim-based compression, and the generic verifier of a
// proof made of such rounds.
package sumcheck

import (
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	fiatshamir "github.com/consensys/gnark-crypto/fiat-shamir"
)

var (
	ErrInvalidProofLength = errors.New("sum-check proof has the wrong number of round polynomials")
	ErrInvalidDegree      = errors.New("sum-check round polynomial does not match the degree bound")
)

// Proof is a sum-check proof: one compressed round polynomial per round.
type Proof struct {
	CompressedPolys []CompressedUniPoly
}

// Verify checks the proof against the initial claim over numRounds rounds.
// Each round polynomial is rebuilt from the running claim, bound to the
// transcript under the round's challenge ID, and evaluated at the drawn
// challenge. It returns the final claim together with the challenges in
// round order.
func (p Proof) Verify(claim fr.Element, numRounds, degreeBound int, fs *fiatshamir.Transcript, challengeIDs []string) (fr.Element, []fr.Element, error) {

	if len(p.CompressedPolys) != numRounds || len(challengeIDs) != numRounds {
		return fr.Element{}, nil, ErrInvalidProofLength
	}

	e := claim
	r := make([]fr.Element, numRounds)

	for i := 0; i < numRounds; i++ {
		if len(p.CompressedPolys[i].CoeffsExceptLinearTerm) != degreeBound {
			return fr.Element{}, nil, ErrInvalidDegree
		}

		// the decompression enforces g(0)+g(1) = e by construction
		poly := p.CompressedPolys[i].Decompress(&e)

		if err := fs.Bind(challengeIDs[i], poly.Marshal()); err != nil {
			return fr.Element{}, nil, err
		}
		b, err := fs.ComputeChallenge(challengeIDs[i])
		if err != nil {
			return fr.Element{}, nil, err
		}
		r[i].SetBytes(b)

		e = poly.Eval(&r[i])
	}

	return e, r, nil
}
