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

// Package mpencerr defines the structured error kinds that flow out of the
// codec, crypto, and state-machine layers of the group messaging engine.
package mpencerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so callers can decide whether to drop a
// packet, abort an operation, or surface a timeout event without string
// matching messages.
type Kind string

const (
	// KindProtocolDecode covers malformed TLV, unknown records, bad
	// lengths, or a wrong protocol version. Recoverable: drop the packet.
	KindProtocolDecode Kind = "protocol_decode"

	// KindCryptoVerify covers signature verification failures.
	// Recoverable at the data-message layer (drop); fatal at the
	// greeting layer (abort operation).
	KindCryptoVerify Kind = "crypto_verify"

	// KindStateViolation covers illegal message-type transitions,
	// duplicate members, exclusion of non-members, or self-exclusion.
	// The operation is rejected and the application is notified.
	KindStateViolation Kind = "state_violation"

	// KindOperationInProgress covers a second own-operation with a
	// different action submitted while one is already ongoing.
	KindOperationInProgress Kind = "operation_in_progress"

	// KindOperationIgnored covers a completed greeting that excluded
	// self, processed silently while waiting to be kicked.
	KindOperationIgnored Kind = "operation_ignored"

	// KindTimeout covers NotAccepted, NotFullyAcked, and NotDecrypted.
	// Non-fatal: emitted as events.
	KindTimeout Kind = "timeout"
)

// Error is the concrete structured error type carried through the engine.
// It wraps a cause and is comparable by Kind via errors.Is/As.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, letting
// callers write errors.Is(err, mpencerr.New(KindTimeout, "", "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New creates an *Error with the given kind, operation, and message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an *Error that carries an underlying cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

// Recoverable reports whether an error kind should be handled by dropping
// the offending input rather than aborting the enclosing operation.
func Recoverable(kind Kind) bool {
	switch kind {
	case KindProtocolDecode, KindTimeout, KindOperationIgnored:
		return true
	default:
		return false
	}
}
