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

package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/mpenc/internal/mpencerr"
)

// wireFrame is the JSON envelope exchanged between a Room and its
// connected members.
type wireFrame struct {
	Pubtxt     []byte   `json:"pubtxt,omitempty"`
	Sender     string   `json:"sender,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Enter      []string `json:"enter,omitempty"`
	Leave      []string `json:"leave,omitempty"`
	Members    []string `json:"members,omitempty"`
}

// Room is a broadcast-room websocket server: every connected member's
// frames are fanned out to every other connected member, and entry/exit
// is announced as a membership notice. Connection bookkeeping mirrors
// the base repo's WSServer (an upgrader, a tracked connection map
// guarded by a mutex, and per-message read/write deadlines).
type Room struct {
	upgrader                  websocket.Upgrader
	readTimeout, writeTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewRoom returns a Room ready to be mounted via Handler.
func NewRoom() *Room {
	return &Room{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		conns:        make(map[string]*websocket.Conn),
	}
}

// Handler upgrades connections whose URL carries a "member" query
// parameter and joins them to the room for its lifetime.
func (r *Room) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		member := req.URL.Query().Get("member")
		if member == "" {
			http.Error(w, "member query parameter is required", http.StatusBadRequest)
			return
		}
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
			return
		}
		defer conn.Close()

		r.join(member, conn)
		defer r.part(member)
		r.serve(req.Context(), member, conn)
	})
}

func (r *Room) join(member string, conn *websocket.Conn) {
	r.mu.Lock()
	r.conns[member] = conn
	members := r.membersLocked()
	r.mu.Unlock()
	r.broadcast(member, wireFrame{Enter: []string{member}, Members: members})
}

func (r *Room) part(member string) {
	r.mu.Lock()
	delete(r.conns, member)
	members := r.membersLocked()
	r.mu.Unlock()
	r.broadcast(member, wireFrame{Leave: []string{member}, Members: members})
}

func (r *Room) membersLocked() []string {
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Room) serve(ctx context.Context, member string, conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(r.readTimeout)); err != nil {
			return
		}
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		frame.Sender = member
		r.route(frame)
	}
}

func (r *Room) route(frame wireFrame) {
	r.mu.Lock()
	targets := frame.Recipients
	if len(targets) == 0 {
		targets = r.membersLocked()
	}
	conns := make(map[string]*websocket.Conn, len(targets))
	for _, name := range targets {
		if c, ok := r.conns[name]; ok {
			conns[name] = c
		}
	}
	r.mu.Unlock()

	for name, conn := range conns {
		if name == frame.Sender {
			continue
		}
		r.send(conn, frame)
	}
}

func (r *Room) broadcast(from string, frame wireFrame) {
	r.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		r.send(conn, frame)
	}
}

func (r *Room) send(conn *websocket.Conn, frame wireFrame) {
	_ = conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	_ = conn.WriteJSON(frame)
}

// WSChannel is the reference Channel implementation: a client
// connection to a Room over gorilla/websocket. Grounded on the base
// repo's WSTransport (lazy dial, a background read loop, write
// deadlines on every send).
type WSChannel struct {
	url  string
	self string

	dialTimeout, writeTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	inChan  bool
	members []string
	recv    func(Incoming)
}

// NewWSChannel returns a channel that will dial roomURL as self once
// Send(Outgoing{Enter: true}) is called.
func NewWSChannel(roomURL, self string) *WSChannel {
	return &WSChannel{
		url:          roomURL,
		self:         self,
		dialTimeout:  10 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

func (c *WSChannel) OnRecv(fn func(Incoming)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recv = fn
}

func (c *WSChannel) CurMembers() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inChan {
		return nil, false
	}
	return append([]string(nil), c.members...), true
}

func (c *WSChannel) Send(out Outgoing) error {
	switch {
	case out.Enter:
		return c.dial()
	case out.Leave:
		return c.closeConn()
	default:
		return c.write(wireFrame{Pubtxt: out.Pubtxt, Recipients: out.Recipients})
	}
}

func (c *WSChannel) dial() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialURL := c.url + "?member=" + url.QueryEscape(c.self)
	dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	conn, _, err := dialer.Dial(dialURL, nil)
	if err != nil {
		return mpencerr.Wrap(mpencerr.KindStateViolation, "channel.Send", "dial failed", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *WSChannel) readLoop(conn *websocket.Conn) {
	for {
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.inChan = false
			}
			c.mu.Unlock()
			return
		}
		c.deliver(frame)
	}
}

func (c *WSChannel) deliver(frame wireFrame) {
	c.mu.Lock()
	if frame.Enter != nil || frame.Leave != nil {
		c.members = frame.Members
		for _, m := range frame.Enter {
			if m == c.self {
				c.inChan = true
			}
		}
		for _, m := range frame.Leave {
			if m == c.self {
				c.inChan = false
			}
		}
	}
	fn := c.recv
	c.mu.Unlock()

	if fn == nil {
		return
	}
	fn(Incoming{Pubtxt: frame.Pubtxt, Sender: frame.Sender, Enter: frame.Enter, Leave: frame.Leave, Members: frame.Members})
}

func (c *WSChannel) write(frame wireFrame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return mpencerr.New(mpencerr.KindStateViolation, "channel.Send", "not connected to channel")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return conn.WriteJSON(frame)
}

func (c *WSChannel) closeConn() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.inChan = false
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}
