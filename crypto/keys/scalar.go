// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package keys

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// ScalarSize is the size in bytes of a clamped Curve25519 scalar or point.
const ScalarSize = 32

// GenerateScalar returns a freshly clamped random Curve25519 scalar,
// suitable as a cardinal key in a group key agreement tree.
func GenerateScalar() ([ScalarSize]byte, error) {
	var s [ScalarSize]byte
	if _, err := io.ReadFull(rand.Reader, s[:]); err != nil {
		return s, fmt.Errorf("generate scalar: %w", err)
	}
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
	return s, nil
}

// ScalarBaseMult returns scalar*basePoint, i.e. the public point
// corresponding to a private scalar.
func ScalarBaseMult(scalar [ScalarSize]byte) [ScalarSize]byte {
	var out [ScalarSize]byte
	curve25519.ScalarBaseMult(&out, &scalar)
	return out
}

// ScalarMult returns scalar*point, the building block the GKA tree uses to
// fold a private scalar into an arbitrary intermediate key rather than the
// base point. It rejects the identity and other known low-order points.
func ScalarMult(scalar, point [ScalarSize]byte) ([ScalarSize]byte, error) {
	var out [ScalarSize]byte
	curve25519.ScalarMult(&out, &scalar, &point)

	var zero [ScalarSize]byte
	if subtle.ConstantTimeCompare(out[:], zero[:]) == 1 {
		return out, fmt.Errorf("curve25519: scalar multiplication produced the identity point")
	}
	return out, nil
}
