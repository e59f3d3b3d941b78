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

package tlv

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/sage-x-project/mpenc/internal/mpencerr"
)

const wirePrefix = "?mpENC:"
const wireSuffix = "."
const errorPrefix = "?mpENC Error:"

// FrameKind classifies a decoded wire string.
type FrameKind int

const (
	FramePlaintext FrameKind = iota
	FrameProtocol
	FrameQuery
	FrameError
)

// Frame is the result of parsing a raw channel payload.
type Frame struct {
	Kind FrameKind
	// Body holds the decoded TLV bytes for FrameProtocol, the whole
	// query string for FrameQuery, or the original text for FramePlaintext.
	Body []byte
	// ErrorSig, ErrorFrom, ErrorSeverity, ErrorText are populated for FrameError.
	ErrorSig      []byte
	ErrorFrom     string
	ErrorSeverity string
	ErrorText     string
}

// EncodeWire wraps an already-encoded TLV packet in the protocol framing:
// "?mpENC:" + base64(body) + ".".
func EncodeWire(body []byte) string {
	return wirePrefix + base64.StdEncoding.EncodeToString(body) + wireSuffix
}

// EncodeQuery produces a "?mpENCv<N>?" capability query for protocol version n.
func EncodeQuery(version uint8) string {
	return "?mpENCv" + strconv.Itoa(int(version)) + "?"
}

// EncodeError produces a "?mpENC Error:<base64 sig>:<from>,<severity>:<text>" frame.
func EncodeError(sig []byte, from, severity, text string) string {
	var b strings.Builder
	b.WriteString(errorPrefix)
	b.WriteString(base64.StdEncoding.EncodeToString(sig))
	b.WriteString(":")
	b.WriteString(from)
	b.WriteString(",")
	b.WriteString(severity)
	b.WriteString(":")
	b.WriteString(text)
	return b.String()
}

// ParseWire classifies a raw channel message and, for protocol frames,
// decodes the base64 body. Unknown framing is classified as plaintext.
func ParseWire(s string) (Frame, error) {
	switch {
	case strings.HasPrefix(s, errorPrefix):
		return parseErrorFrame(s)
	case strings.HasPrefix(s, wirePrefix) && strings.HasSuffix(s, wireSuffix):
		encoded := strings.TrimSuffix(strings.TrimPrefix(s, wirePrefix), wireSuffix)
		body, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return Frame{}, mpencerr.Wrap(mpencerr.KindProtocolDecode, "tlv.ParseWire", "invalid base64 body", err)
		}
		return Frame{Kind: FrameProtocol, Body: body}, nil
	case strings.HasPrefix(s, "?mpENCv"):
		return Frame{Kind: FrameQuery, Body: []byte(s)}, nil
	default:
		return Frame{Kind: FramePlaintext, Body: []byte(s)}, nil
	}
}

func parseErrorFrame(s string) (Frame, error) {
	rest := strings.TrimPrefix(s, errorPrefix)
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return Frame{}, mpencerr.New(mpencerr.KindProtocolDecode, "tlv.ParseWire", "malformed error frame")
	}
	sig, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return Frame{}, mpencerr.Wrap(mpencerr.KindProtocolDecode, "tlv.ParseWire", "invalid error signature", err)
	}
	fs := strings.SplitN(parts[1], ",", 2)
	if len(fs) != 2 {
		return Frame{}, mpencerr.New(mpencerr.KindProtocolDecode, "tlv.ParseWire", "malformed error frame severity")
	}
	return Frame{
		Kind:          FrameError,
		ErrorSig:      sig,
		ErrorFrom:     fs[0],
		ErrorSeverity: fs[1],
		ErrorText:     parts[2],
	}, nil
}
