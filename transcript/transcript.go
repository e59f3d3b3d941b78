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

// Package transcript maintains the causal DAG of accepted messages for
// one sub-session and tracks which recipients have acknowledged each
// message by authoring a causal descendant of it.
package transcript

import (
	"sort"

	"github.com/sage-x-project/mpenc/internal/mpencerr"
)

// MessageId identifies one accepted message; the first 20 bytes of
// SHA-256(signature || content) per the message-security layer.
type MessageId [20]byte

// BodyKind distinguishes the payload carried by a Message.
type BodyKind int

const (
	Payload BodyKind = iota
	ExplicitAck
	Consistency
	HeartBeat
)

// Message is one accepted, immutable transcript entry.
type Message struct {
	Id         MessageId
	Author     string
	Parents    []MessageId
	Recipients []string
	Kind       BodyKind
	Manual     bool // ExplicitAck only
	Close      bool // Consistency only
}

type node struct {
	msg      Message
	children []MessageId
}

// Transcript is the DAG of accepted messages for one sub-session.
type Transcript struct {
	nodes map[MessageId]*node
	order []MessageId // acceptance order, for deterministic iteration

	// latestByAuthor tracks pre_uId.
	latestByAuthor map[string]MessageId
}

// New returns an empty Transcript.
func New() *Transcript {
	return &Transcript{
		nodes:          make(map[MessageId]*node),
		latestByAuthor: make(map[string]MessageId),
	}
}

// Add inserts msg, which requires every parent to already be present. It
// returns the set of message ids that newly became fully-acked (every
// recipient now has authored a descendant of that message) as a result
// of this insertion.
func (t *Transcript) Add(msg Message) ([]MessageId, error) {
	if _, exists := t.nodes[msg.Id]; exists {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "transcript.Add", "message already present")
	}
	for _, p := range msg.Parents {
		if _, ok := t.nodes[p]; !ok {
			return nil, mpencerr.New(mpencerr.KindStateViolation, "transcript.Add", "missing parent")
		}
	}

	n := &node{msg: msg}
	t.nodes[msg.Id] = n
	t.order = append(t.order, msg.Id)
	for _, p := range msg.Parents {
		t.nodes[p].children = append(t.nodes[p].children, msg.Id)
	}
	t.latestByAuthor[msg.Author] = msg.Id

	return t.recomputeFullyAcked(msg), nil
}

// recomputeFullyAcked returns ancestors of msg (including msg.Parents'
// chains) whose unackby set became empty because msg's author has now
// authored a descendant of them.
func (t *Transcript) recomputeFullyAcked(msg Message) []MessageId {
	var became []MessageId
	visited := make(map[MessageId]bool)
	var walk func(id MessageId)
	walk = func(id MessageId) {
		if visited[id] {
			return
		}
		visited[id] = true
		n, ok := t.nodes[id]
		if !ok {
			return
		}
		if len(t.Unackby(id)) == 0 {
			// Newly fully acked only if msg's author was a recipient with
			// no earlier descendant of id.
			newly := false
			for _, r := range n.msg.Recipients {
				if r == msg.Author {
					newly = true
				}
			}
			for d := range t.descendants(id) {
				if d != msg.Id && t.nodes[d].msg.Author == msg.Author {
					newly = false
				}
			}
			if newly {
				became = append(became, id)
			}
		}
		for _, p := range n.msg.Parents {
			walk(p)
		}
	}
	for _, p := range msg.Parents {
		walk(p)
	}
	return became
}

// Parents returns the direct predecessors of m.
func (t *Transcript) Parents(m MessageId) []MessageId {
	n, ok := t.nodes[m]
	if !ok {
		return nil
	}
	return append([]MessageId(nil), n.msg.Parents...)
}

// PreUId returns the latest earlier message by the same author as m, or
// the zero MessageId with ok=false if m is that author's first message.
func (t *Transcript) PreUId(m MessageId) (MessageId, bool) {
	n, ok := t.nodes[m]
	if !ok {
		return MessageId{}, false
	}
	var best MessageId
	found := false
	for _, id := range t.order {
		if id == m {
			break
		}
		cand := t.nodes[id]
		if cand.msg.Author == n.msg.Author {
			best = id
			found = true
		}
	}
	return best, found
}

// PreRUId returns the latest message authored by recipient r that
// causally precedes m (i.e. is an ancestor of m), or ok=false if none.
func (t *Transcript) PreRUId(m MessageId, r string) (MessageId, bool) {
	ancestors := t.ancestors(m)
	var best MessageId
	found := false
	for _, id := range t.order {
		if !ancestors[id] {
			continue
		}
		if t.nodes[id].msg.Author == r {
			best = id
			found = true
		}
	}
	return best, found
}

// SucRUId returns the earliest message authored by recipient r that is a
// causal descendant of m, or ok=false if none yet exists.
func (t *Transcript) SucRUId(m MessageId, r string) (MessageId, bool) {
	descendants := t.descendants(m)
	for _, id := range t.order {
		if !descendants[id] {
			continue
		}
		if t.nodes[id].msg.Author == r {
			return id, true
		}
	}
	return MessageId{}, false
}

// Unackby returns the set of m's recipients who have not yet authored
// any descendant of m.
func (t *Transcript) Unackby(m MessageId) []string {
	n, ok := t.nodes[m]
	if !ok {
		return nil
	}
	descendants := t.descendants(m)
	var unacked []string
	for _, r := range n.msg.Recipients {
		acked := false
		for id := range descendants {
			if t.nodes[id].msg.Author == r {
				acked = true
				break
			}
		}
		if !acked {
			unacked = append(unacked, r)
		}
	}
	sort.Strings(unacked)
	return unacked
}

// Unacked returns, in topological (acceptance) order, the ids of every
// Payload message that is not yet fully acked.
func (t *Transcript) Unacked() []MessageId {
	var out []MessageId
	for _, id := range t.order {
		if t.nodes[id].msg.Kind != Payload {
			continue
		}
		if len(t.Unackby(id)) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// IsConsistent reports whether no outstanding Payload message is unacked.
func (t *Transcript) IsConsistent() bool {
	return len(t.Unacked()) == 0
}

// Get returns the stored message for id.
func (t *Transcript) Get(id MessageId) (Message, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Message{}, false
	}
	return n.msg, true
}

// Heads returns the ids with no recorded children, i.e. the current
// causal frontier suitable as parents for the next message.
func (t *Transcript) Heads() []MessageId {
	var heads []MessageId
	for _, id := range t.order {
		if len(t.nodes[id].children) == 0 {
			heads = append(heads, id)
		}
	}
	return heads
}

func (t *Transcript) descendants(m MessageId) map[MessageId]bool {
	seen := make(map[MessageId]bool)
	var walk func(id MessageId)
	walk = func(id MessageId) {
		n, ok := t.nodes[id]
		if !ok {
			return
		}
		for _, c := range n.children {
			if !seen[c] {
				seen[c] = true
				walk(c)
			}
		}
	}
	walk(m)
	return seen
}

func (t *Transcript) ancestors(m MessageId) map[MessageId]bool {
	seen := make(map[MessageId]bool)
	var walk func(id MessageId)
	walk = func(id MessageId) {
		n, ok := t.nodes[id]
		if !ok {
			return
		}
		for _, p := range n.msg.Parents {
			if !seen[p] {
				seen[p] = true
				walk(p)
			}
		}
	}
	walk(m)
	return seen
}
