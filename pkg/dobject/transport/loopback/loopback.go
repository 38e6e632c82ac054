// Package loopback is an in-process, dependency-free types.Channel
// used by the package test suites: every peer lives in one process,
// subscriptions and RPCs are dispatched over goroutines and channels
// instead of a network socket.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/dobject-go/dobject/pkg/dobject/types"
)

type key struct {
	path, iface, signal string
}

// Bus is the shared medium a set of loopback Channels publish onto and
// subscribe from — the in-process stand-in for a real multicast group.
type Bus struct {
	mu       sync.Mutex
	peers    map[string]*Channel
	watchers []func(added, removed []types.Participant)
	nextID   uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{peers: make(map[string]*Channel)}
}

// NewChannel creates and registers a new named participant on the bus,
// notifying every existing WatchParticipants callback of its arrival.
func (b *Bus) NewChannel(name string) *Channel {
	b.mu.Lock()
	b.nextID++
	c := &Channel{
		bus:     b,
		name:    name,
		handle:  b.nextID,
		subs:    make(map[key][]subscriber),
		methods: make(map[key]types.MethodHandler),
	}
	b.peers[name] = c
	watchers := make([]func(added, removed []types.Participant), len(b.watchers))
	copy(watchers, b.watchers)
	b.mu.Unlock()

	added := []types.Participant{{Handle: c.handle, Name: c.name}}
	for _, w := range watchers {
		w(added, nil)
	}
	return c
}

func (b *Bus) remove(c *Channel) {
	b.mu.Lock()
	delete(b.peers, c.name)
	watchers := make([]func(added, removed []types.Participant), len(b.watchers))
	copy(watchers, b.watchers)
	b.mu.Unlock()

	removed := []types.Participant{{Handle: c.handle, Name: c.name}}
	for _, w := range watchers {
		w(nil, removed)
	}
}

func (b *Bus) watch(callback func(added, removed []types.Participant)) {
	b.mu.Lock()
	b.watchers = append(b.watchers, callback)
	b.mu.Unlock()
}

func (b *Bus) snapshotPeers() []*Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	peers := make([]*Channel, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	return peers
}

func (b *Bus) peer(name string) (*Channel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.peers[name]
	return p, ok
}

type subscriber struct {
	handler types.SignalHandler
	id      uint64
}

type subscription struct {
	channel *Channel
	k       key
	id      uint64
}

func (s *subscription) Cancel() {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	subs := s.channel.subs[s.k]
	for i, sub := range subs {
		if sub.id == s.id {
			s.channel.subs[s.k] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Channel is a single participant's view of a Bus.
type Channel struct {
	bus    *Bus
	name   string
	handle uint64

	mu      sync.Mutex
	subs    map[key][]subscriber
	methods map[key]types.MethodHandler
	nextSub uint64
}

// Close removes this channel from its bus, notifying watchers.
func (c *Channel) Close() {
	c.bus.remove(c)
}

func (c *Channel) Subscribe(path, iface, signal string, _ bool, handler types.SignalHandler) (types.Subscription, error) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	k := key{path, iface, signal}
	c.subs[k] = append(c.subs[k], subscriber{handler: handler, id: id})
	c.mu.Unlock()
	return &subscription{channel: c, k: k, id: id}, nil
}

func (c *Channel) Emit(path, iface, signal string, args []byte) error {
	k := key{path, iface, signal}
	for _, peer := range c.bus.snapshotPeers() {
		peer.mu.Lock()
		subs := append([]subscriber(nil), peer.subs[k]...)
		peer.mu.Unlock()
		for _, sub := range subs {
			handler := sub.handler
			go handler(c.name, args)
		}
	}
	return nil
}

func (c *Channel) RegisterMethod(path, iface, method string, handler types.MethodHandler) error {
	c.mu.Lock()
	c.methods[key{path, iface, method}] = handler
	c.mu.Unlock()
	return nil
}

func (c *Channel) GetPeer(senderName, path string) (types.PeerStub, error) {
	peer, ok := c.bus.peer(senderName)
	if !ok {
		return nil, fmt.Errorf("loopback: unknown peer %q", senderName)
	}
	return &peerStub{from: c, to: peer, path: path}, nil
}

func (c *Channel) UniqueName() string {
	return c.name
}

func (c *Channel) WatchParticipants(callback func(added, removed []types.Participant)) {
	c.bus.watch(callback)
}

type peerStub struct {
	from *Channel
	to   *Channel
	path string
}

func (p *peerStub) CallMethod(_ context.Context, method string, args []byte, onReply func([]byte), onError func(error)) {
	p.to.mu.Lock()
	// iface is not known by the stub; methods are keyed loosely by
	// (path, _, method) — loopback does not enforce interface names,
	// it only needs to route to the right handler, so we scan.
	var handler types.MethodHandler
	for k, h := range p.to.methods {
		if k.path == p.path && k.signal == method {
			handler = h
			break
		}
	}
	p.to.mu.Unlock()

	if handler == nil {
		go onError(fmt.Errorf("loopback: peer %q has no method %s at %s", p.to.name, method, p.path))
		return
	}
	go func() {
		reply, err := handler(p.from.name, args)
		if err != nil {
			onError(err)
			return
		}
		onReply(reply)
	}()
}

var _ types.Channel = (*Channel)(nil)
