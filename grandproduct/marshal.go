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
	"encoding/binary"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/nnsW3/jolt/sumcheck"
)

// proof wire layout: batch size, number of layer records, then for record k
// its k compressed round polynomials followed by the left and right claims,
// all field elements in regular big-endian form.

const (
	maxBatchSize = 1 << 20
	maxNumLayers = 63
)

// WriteTo writes proof to w.
//
// implements io.WriterTo
func (proof *Proof) WriteTo(w io.Writer) (int64, error) {
	var written int64
	var buf [4]byte

	writeUint32 := func(v uint32) error {
		binary.BigEndian.PutUint32(buf[:], v)
		n, err := w.Write(buf[:])
		written += int64(n)
		return err
	}
	writeElements := func(elements []fr.Element) error {
		for i := range elements {
			n, err := w.Write(elements[i].Marshal())
			written += int64(n)
			if err != nil {
				return err
			}
		}
		return nil
	}

	batchSize := 0
	if len(proof.Layers) > 0 {
		batchSize = len(proof.Layers[0].LeftClaims)
	}
	if err := writeUint32(uint32(batchSize)); err != nil {
		return written, err
	}
	if err := writeUint32(uint32(len(proof.Layers))); err != nil {
		return written, err
	}

	for k := range proof.Layers {
		record := &proof.Layers[k]
		for _, poly := range record.SumcheckProof.CompressedPolys {
			if err := writeElements(poly.CoeffsExceptLinearTerm); err != nil {
				return written, err
			}
		}
		if err := writeElements(record.LeftClaims); err != nil {
			return written, err
		}
		if err := writeElements(record.RightClaims); err != nil {
			return written, err
		}
	}

	return written, nil
}

// ReadFrom reads a proof from r. Record k carries exactly k round
// polynomials, so the layout is fully determined by the two leading counts.
//
// implements io.ReaderFrom
func (proof *Proof) ReadFrom(r io.Reader) (int64, error) {
	var read int64
	var buf [fr.Bytes]byte

	readUint32 := func() (uint32, error) {
		n, err := io.ReadFull(r, buf[:4])
		read += int64(n)
		return binary.BigEndian.Uint32(buf[:4]), err
	}
	readElements := func(count int) ([]fr.Element, error) {
		elements := make([]fr.Element, count)
		for i := range elements {
			n, err := io.ReadFull(r, buf[:])
			read += int64(n)
			if err != nil {
				return nil, err
			}
			elements[i].SetBytes(buf[:])
		}
		return elements, nil
	}

	batchSize, err := readUint32()
	if err != nil {
		return read, err
	}
	numLayers, err := readUint32()
	if err != nil {
		return read, err
	}
	if batchSize > maxBatchSize || numLayers > maxNumLayers {
		return read, ErrMalformedProof
	}

	proof.Layers = make([]LayerProof, numLayers)
	for k := range proof.Layers {
		record := &proof.Layers[k]
		record.SumcheckProof.CompressedPolys = make([]sumcheck.CompressedUniPoly, k)
		for j := 0; j < k; j++ {
			coeffs, err := readElements(sumcheck.CubicDegree)
			if err != nil {
				return read, err
			}
			record.SumcheckProof.CompressedPolys[j].CoeffsExceptLinearTerm = coeffs
		}
		if record.LeftClaims, err = readElements(int(batchSize)); err != nil {
			return read, err
		}
		if record.RightClaims, err = readElements(int(batchSize)); err != nil {
			return read, err
		}
	}

	return read, nil
}
