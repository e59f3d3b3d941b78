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

// Package pkidir implements ske.Directory: a static long-term public-key
// directory whose entries are distributed as signed JWT certificates
// (sub = member name, pub = base64 Ed25519 public key) rather than a
// bare trusted-on-write map, so a member's key can be handed to peers
// out of band and verified before being accepted.
package pkidir

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sage-x-project/mpenc/internal/mpencerr"
)

// Directory is an HMAC-signed static key directory. One Directory
// instance corresponds to one trust root: every certificate it issues
// or accepts is signed under the same signingKey.
type Directory struct {
	signingKey []byte

	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// New returns an empty Directory trusting certificates signed with
// signingKey.
func New(signingKey []byte) *Directory {
	return &Directory{
		signingKey: append([]byte(nil), signingKey...),
		keys:       make(map[string]ed25519.PublicKey),
	}
}

// Register issues a signed certificate binding member to pub, valid for
// validFor, and stores the binding locally. The returned token is what
// gets handed to other parties so they can Import the same binding.
func (d *Directory) Register(member string, pub ed25519.PublicKey, validFor time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": member,
		"pub": base64.StdEncoding.EncodeToString(pub),
		"iat": now.Unix(),
		"exp": now.Add(validFor).Unix(),
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(d.signingKey)
	if err != nil {
		return "", mpencerr.Wrap(mpencerr.KindCryptoVerify, "pkidir.Register", "failed to sign certificate", err)
	}

	d.mu.Lock()
	d.keys[member] = append(ed25519.PublicKey(nil), pub...)
	d.mu.Unlock()
	return signed, nil
}

// Import verifies a certificate issued by Register (by this or any
// Directory sharing the same signingKey) and records its member/pubkey
// binding, overwriting any prior entry for that member.
func (d *Directory) Import(certificate string) error {
	token, err := jwt.Parse(certificate, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("pkidir: unexpected signing method %v", t.Header["alg"])
		}
		return d.signingKey, nil
	})
	if err != nil {
		return mpencerr.Wrap(mpencerr.KindCryptoVerify, "pkidir.Import", "certificate verification failed", err)
	}
	if !token.Valid {
		return mpencerr.New(mpencerr.KindCryptoVerify, "pkidir.Import", "certificate is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return mpencerr.New(mpencerr.KindProtocolDecode, "pkidir.Import", "certificate claims are malformed")
	}
	member, _ := claims["sub"].(string)
	pubB64, _ := claims["pub"].(string)
	if member == "" || pubB64 == "" {
		return mpencerr.New(mpencerr.KindProtocolDecode, "pkidir.Import", "certificate is missing sub or pub claim")
	}
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return mpencerr.New(mpencerr.KindProtocolDecode, "pkidir.Import", "certificate pub claim is not a valid Ed25519 key")
	}

	d.mu.Lock()
	d.keys[member] = ed25519.PublicKey(pub)
	d.mu.Unlock()
	return nil
}

// StaticPublicKey implements ske.Directory.
func (d *Directory) StaticPublicKey(member string) (ed25519.PublicKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pub, ok := d.keys[member]
	if !ok {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "pkidir.StaticPublicKey", fmt.Sprintf("no certificate on file for %q", member))
	}
	return pub, nil
}
