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

package hybrid

import (
	"github.com/sage-x-project/mpenc/channel"
	"github.com/sage-x-project/mpenc/internal/logger"
	"github.com/sage-x-project/mpenc/internal/mpencerr"
	"github.com/sage-x-project/mpenc/internal/tlv"
	"github.com/sage-x-project/mpenc/metrics"
	"github.com/sage-x-project/mpenc/msgsec"
	"github.com/sage-x-project/mpenc/transcript"
)

// paddingSize bounds every data message's plaintext to the next
// multiple-of-32-byte power-of-two boundary, per msgsec.AuthEncrypt's
// padding rule.
const paddingSize = 32

// Send encrypts content under the newest epoch slot, accepts it into
// that slot's transcript as authored by self, and broadcasts it to the
// slot's membership.
func (s *Session) Send(content []byte) error {
	s.mu.Lock()
	if len(s.slots) == 0 {
		s.mu.Unlock()
		return mpencerr.New(mpencerr.KindStateViolation, "hybrid.Send", "no established group key")
	}
	slot := s.slots[0]

	parents := slot.sub.Transcript().Heads()
	inner, err := encodeInnerBody(parents, content)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	enc, err := msgsec.AuthEncrypt(slot.epoch, s.selfEphPriv, inner, paddingSize)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	recipients := membersExcept(slot.members, s.self)
	msg := transcript.Message{
		Id:         msgsec.MessageId(enc.Signature, enc.Payload),
		Author:     s.self,
		Parents:    parents,
		Recipients: recipients,
		Kind:       transcript.Payload,
	}
	if err := slot.sub.Accept(msg); err != nil {
		s.mu.Unlock()
		return err
	}
	s.publishLocked(Event{Kind: MsgAccepted, Id: msg.Id, Author: s.self, Len: len(content), Body: content})

	wire, err := encodeDataFrame(enc)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	return s.ch.Send(channel.Outgoing{Pubtxt: wire, Recipients: recipients})
}

// handleCiphertextLocked trial-decrypts raw against every held epoch in
// turn, most recent first, accepting the first successful result into
// its slot's transcript. Called with s.mu held.
func (s *Session) handleCiphertextLocked(sender string, raw []byte) {
	hint, sig, payload, err := decodeDataFrame(raw)
	if err != nil {
		logger.Warn("hybrid: malformed data frame", logger.String("sender", sender), logger.Error(err))
		return
	}

	for i, slot := range s.slots {
		signerPub, ok := slot.signerKeys[sender]
		if !ok {
			continue
		}
		inner, err := msgsec.DecryptVerify([]msgsec.Epoch{slot.epoch}, hint, sig, payload, signerPub)
		if err != nil {
			continue
		}
		metrics.ObserveDecryptTrial(i+1, true)

		parents, body, err := decodeInnerBody(inner)
		if err != nil {
			logger.Warn("hybrid: malformed decrypted body", logger.String("sender", sender), logger.Error(err))
			return
		}
		msgId := msgsec.MessageId(sig, payload)
		msg := transcript.Message{
			Id:         msgId,
			Author:     sender,
			Parents:    parents,
			Recipients: membersExcept(slot.members, s.self),
			Kind:       transcript.Payload,
		}
		if err := slot.sub.Accept(msg); err != nil {
			logger.Warn("hybrid: rejected accepted-candidate message", logger.String("sender", sender), logger.Error(err))
			return
		}
		s.publishLocked(Event{Kind: MsgAccepted, Id: msgId, Author: sender, Len: len(body), Body: body})
		return
	}

	metrics.ObserveDecryptTrial(len(s.slots), false)
	logger.Warn("hybrid: no held epoch decrypted message", logger.String("sender", sender))
	s.publishLocked(Event{Kind: NotDecrypted, Author: sender})
}

// encodeDataFrame frames enc as the outer TLV envelope sent over the
// channel: sidkey hint, signature, then the signed ciphertext body.
// It deliberately carries no tlv.ProtocolVersion record, so
// greet.Decode reliably rejects it and handlePayloadLocked's dispatch
// never confuses a data message for a greeting packet.
func encodeDataFrame(enc *msgsec.Encoded) ([]byte, error) {
	return tlv.EncodeAll([]tlv.Record{
		{Type: tlv.SidkeyHint, Value: []byte{enc.SidkeyHint}},
		{Type: tlv.MessageSignature, Value: enc.Signature},
		{Type: tlv.DataMessage, Value: enc.Payload},
	})
}

func decodeDataFrame(data []byte) (hint byte, signature, payload []byte, err error) {
	records, err := tlv.Decode(data, -1)
	if err != nil {
		return 0, nil, nil, err
	}
	hintVal, ok := tlv.Find(records, tlv.SidkeyHint)
	if !ok || len(hintVal) != 1 {
		return 0, nil, nil, mpencerr.New(mpencerr.KindProtocolDecode, "hybrid.decodeDataFrame", "missing or malformed sidkey hint")
	}
	sig, ok := tlv.Find(records, tlv.MessageSignature)
	if !ok {
		return 0, nil, nil, mpencerr.New(mpencerr.KindProtocolDecode, "hybrid.decodeDataFrame", "missing signature")
	}
	body, ok := tlv.Find(records, tlv.DataMessage)
	if !ok {
		return 0, nil, nil, mpencerr.New(mpencerr.KindProtocolDecode, "hybrid.decodeDataFrame", "missing data message body")
	}
	return hintVal[0], sig, body, nil
}

// encodeInnerBody frames the plaintext carried inside the encrypted
// envelope: one MessageParent record per causal parent, then the
// message content itself.
func encodeInnerBody(parents []transcript.MessageId, content []byte) ([]byte, error) {
	records := make([]tlv.Record, 0, len(parents)+1)
	for _, p := range parents {
		records = append(records, tlv.Record{Type: tlv.MessageParent, Value: append([]byte(nil), p[:]...)})
	}
	records = append(records, tlv.Record{Type: tlv.MessageBody, Value: content})
	return tlv.EncodeAll(records)
}

func decodeInnerBody(data []byte) ([]transcript.MessageId, []byte, error) {
	records, err := tlv.Decode(data, -1)
	if err != nil {
		return nil, nil, err
	}
	var parents []transcript.MessageId
	for _, v := range tlv.FindAll(records, tlv.MessageParent) {
		if len(v) != 20 {
			return nil, nil, mpencerr.New(mpencerr.KindProtocolDecode, "hybrid.decodeInnerBody", "malformed message parent")
		}
		var id transcript.MessageId
		copy(id[:], v)
		parents = append(parents, id)
	}
	body, ok := tlv.Find(records, tlv.MessageBody)
	if !ok {
		return nil, nil, mpencerr.New(mpencerr.KindProtocolDecode, "hybrid.decodeInnerBody", "missing message body")
	}
	return parents, body, nil
}
