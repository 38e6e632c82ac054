// Package wschannel backs types.Channel with an in-process hub of
// github.com/gorilla/websocket connections, for the single-process demo
// topology (grounded on adred-codev-ws_poc's and the malten example's
// websocket hub code). One side runs Hub (the server), every
// participant — including, optionally, the hub's own process — dials in
// with Dial.
package wschannel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dobject-go/dobject/pkg/dobject/transport"
	"github.com/dobject-go/dobject/pkg/dobject/types"
)

type frameKind string

const (
	frameHello       frameKind = "hello"
	frameSignal      frameKind = "signal"
	frameRPCRequest  frameKind = "rpc_request"
	frameRPCResponse frameKind = "rpc_response"
	framePresence    frameKind = "presence"
)

type frame struct {
	Kind    frameKind       `json:"kind"`
	Path    string          `json:"path,omitempty"`
	Iface   string          `json:"iface,omitempty"`
	Name    string          `json:"name,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	Target  string          `json:"target,omitempty"`
	CorrID  string          `json:"corr_id,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Version string          `json:"version,omitempty"`
	Added   []string        `json:"added,omitempty"`
	Removed []string        `json:"removed,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub is the server side of the group: an http.Handler that accepts
// websocket upgrades and fans signals out to every connected
// participant, routing directed RPC frames by target name.
type Hub struct {
	mu      sync.Mutex
	conns   map[string]*websocket.Conn
	handles map[string]uint64
	nextH   uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*websocket.Conn), handles: make(map[string]uint64)}
}

// ServeHTTP upgrades the connection and registers the participant once
// its hello frame arrives.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go h.serve(conn)
}

func (h *Hub) serve(conn *websocket.Conn) {
	defer conn.Close()
	var name string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if name != "" {
				h.unregister(name)
			}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Kind {
		case frameHello:
			name = f.Name
			ok, verr := transport.NegotiateVersion(f.Version, transport.BuildVersion)
			if verr != nil || !ok {
				return
			}
			h.register(name, conn)
		case frameSignal, frameRPCRequest, frameRPCResponse:
			h.route(f)
		}
	}
}

func (h *Hub) register(name string, conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[name] = conn
	h.nextH++
	h.handles[name] = h.nextH
	peers := h.snapshotNamesLocked(name)
	h.mu.Unlock()

	h.broadcastPresence(frame{Kind: framePresence, Added: []string{name}})
	_ = peers
}

func (h *Hub) unregister(name string) {
	h.mu.Lock()
	delete(h.conns, name)
	delete(h.handles, name)
	h.mu.Unlock()
	h.broadcastPresence(frame{Kind: framePresence, Removed: []string{name}})
}

func (h *Hub) snapshotNamesLocked(except string) []string {
	names := make([]string, 0, len(h.conns))
	for n := range h.conns {
		if n != except {
			names = append(names, n)
		}
	}
	return names
}

func (h *Hub) broadcastPresence(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.WriteMessage(websocket.TextMessage, data)
	}
}

func (h *Hub) route(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch f.Kind {
	case frameSignal:
		for _, c := range h.conns {
			_ = c.WriteMessage(websocket.TextMessage, data)
		}
	case frameRPCRequest, frameRPCResponse:
		if c, ok := h.conns[f.Target]; ok {
			_ = c.WriteMessage(websocket.TextMessage, data)
		}
	}
}

// Channel is a single participant's websocket connection to a Hub.
type Channel struct {
	conn *websocket.Conn
	name string

	mu        sync.Mutex
	subs      map[string][]types.SignalHandler
	methods   map[string]types.MethodHandler
	pending   map[string]chan frame
	watchers  []func(added, removed []types.Participant)
	nextSub   uint64
	handleSeq uint64
	knownPeer map[string]uint64
}

// Dial connects to a Hub-served URL (ws://...) and announces name.
func Dial(url, name string) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("wschannel: failed dialing %s: %w", url, err)
	}
	c := &Channel{
		conn:      conn,
		name:      name,
		subs:      make(map[string][]types.SignalHandler),
		methods:   make(map[string]types.MethodHandler),
		pending:   make(map[string]chan frame),
		knownPeer: make(map[string]uint64),
	}
	hello := frame{Kind: frameHello, Name: name, Version: transport.BuildVersion}
	if err := c.write(hello); err != nil {
		conn.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Channel) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func key(path, iface, name string) string { return path + "\x00" + iface + "\x00" + name }

func (c *Channel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Kind {
		case frameSignal:
			c.mu.Lock()
			handlers := append([]types.SignalHandler{}, c.subs[key(f.Path, f.Iface, f.Name)]...)
			c.mu.Unlock()
			for _, h := range handlers {
				go h(f.Sender, f.Payload)
			}
		case frameRPCRequest:
			c.mu.Lock()
			handler := c.methods[key(f.Path, "", f.Name)]
			c.mu.Unlock()
			if handler == nil {
				continue
			}
			go func(f frame) {
				reply, err := handler(f.Sender, f.Payload)
				resp := frame{Kind: frameRPCResponse, Target: f.Sender, Sender: c.name, CorrID: f.CorrID, OK: err == nil}
				if err == nil {
					resp.Payload = reply
				}
				_ = c.write(resp)
			}(f)
		case frameRPCResponse:
			c.mu.Lock()
			ch, ok := c.pending[f.CorrID]
			if ok {
				delete(c.pending, f.CorrID)
			}
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case framePresence:
			c.mu.Lock()
			var added, removed []types.Participant
			for _, n := range f.Added {
				if n == c.name {
					continue
				}
				c.handleSeq++
				p := types.Participant{Handle: c.handleSeq, Name: n}
				c.knownPeer[n] = p.Handle
				added = append(added, p)
			}
			for _, n := range f.Removed {
				if handle, ok := c.knownPeer[n]; ok {
					delete(c.knownPeer, n)
					removed = append(removed, types.Participant{Handle: handle, Name: n})
				}
			}
			watchers := append([]func(added, removed []types.Participant){}, c.watchers...)
			c.mu.Unlock()
			if len(added) > 0 || len(removed) > 0 {
				for _, w := range watchers {
					w(added, removed)
				}
			}
		}
	}
}

type subscription struct {
	channel *Channel
	k       string
}

func (s *subscription) Cancel() {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	delete(s.channel.subs, s.k)
}

func (c *Channel) Subscribe(path, iface, signalName string, _ bool, handler types.SignalHandler) (types.Subscription, error) {
	k := key(path, iface, signalName)
	c.mu.Lock()
	c.subs[k] = append(c.subs[k], handler)
	c.mu.Unlock()
	return &subscription{channel: c, k: k}, nil
}

func (c *Channel) Emit(path, iface, signalName string, args []byte) error {
	return c.write(frame{Kind: frameSignal, Path: path, Iface: iface, Name: signalName, Sender: c.name, Payload: args})
}

func (c *Channel) RegisterMethod(path, iface, method string, handler types.MethodHandler) error {
	c.mu.Lock()
	c.methods[key(path, "", method)] = handler
	c.mu.Unlock()
	return nil
}

type peerStub struct {
	channel *Channel
	peer    string
	path    string
}

func (c *Channel) GetPeer(senderName, path string) (types.PeerStub, error) {
	return &peerStub{channel: c, peer: senderName, path: path}, nil
}

func (p *peerStub) CallMethod(ctx context.Context, method string, args []byte, onReply func([]byte), onError func(error)) {
	corrID := uuid.NewString()
	replyCh := make(chan frame, 1)
	p.channel.mu.Lock()
	p.channel.pending[corrID] = replyCh
	p.channel.mu.Unlock()

	req := frame{Kind: frameRPCRequest, Path: p.path, Name: method, Sender: p.channel.name, Target: p.peer, CorrID: corrID, Payload: args}
	if err := p.channel.write(req); err != nil {
		p.channel.mu.Lock()
		delete(p.channel.pending, corrID)
		p.channel.mu.Unlock()
		onError(err)
		return
	}

	go func() {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		select {
		case resp := <-replyCh:
			if !resp.OK {
				onError(fmt.Errorf("wschannel: rpc %s to %s failed", method, p.peer))
				return
			}
			onReply(resp.Payload)
		case <-time.After(timeout):
			p.channel.mu.Lock()
			delete(p.channel.pending, corrID)
			p.channel.mu.Unlock()
			onError(fmt.Errorf("wschannel: rpc %s to %s timed out", method, p.peer))
		}
	}()
}

func (c *Channel) UniqueName() string { return c.name }

func (c *Channel) WatchParticipants(callback func(added, removed []types.Participant)) {
	c.mu.Lock()
	c.watchers = append(c.watchers, callback)
	c.mu.Unlock()
}

// Close closes the underlying websocket connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

var _ types.Channel = (*Channel)(nil)
