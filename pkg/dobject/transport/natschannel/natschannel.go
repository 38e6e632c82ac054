// Package natschannel backs types.Channel with NATS subjects
// (github.com/nats-io/nats.go), grounded on the NATS client usage in
// adred-codev-ws_poc. Each object path/interface/signal triple maps to
// a subject; directed calls use NATS request-reply; participant
// tracking is a lightweight presence subject peers announce themselves
// on when they connect and when they close.
package natschannel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dobject-go/dobject/pkg/dobject/transport"
	"github.com/dobject-go/dobject/pkg/dobject/types"
)

// envelope wraps every signal/method payload with the sender's unique
// name, since NATS itself carries no notion of a logical sender.
type envelope struct {
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

type presenceMsg struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Leaving bool   `json:"leaving"`
}

// Channel is a single participant's connection to a NATS-backed group.
type Channel struct {
	conn  *nats.Conn
	group string
	name  string

	mu           sync.Mutex
	participants map[string]types.Participant
	watchers     []func(added, removed []types.Participant)
	nextHandle   uint64

	presenceSub *nats.Subscription
}

// Connect dials url, joins group under the given participant name, and
// announces presence. name should be unique per peer (e.g. a UUID); the
// caller chooses it, since NATS connections themselves are anonymous.
func Connect(url, group, name string) (*Channel, error) {
	conn, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, fmt.Errorf("natschannel: failed connecting to %s: %w", url, err)
	}
	c := &Channel{
		conn:         conn,
		group:        group,
		name:         name,
		participants: make(map[string]types.Participant),
	}
	if err := c.joinPresence(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Channel) presenceSubject() string {
	return fmt.Sprintf("dobject.%s.presence", c.group)
}

func (c *Channel) joinPresence() error {
	sub, err := c.conn.Subscribe(c.presenceSubject(), func(msg *nats.Msg) {
		var p presenceMsg
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.Name == c.name {
			return
		}
		ok, err := transport.NegotiateVersion(p.Version, transport.BuildVersion)
		if err != nil || !ok {
			return
		}
		c.mu.Lock()
		if p.Leaving {
			participant, known := c.participants[p.Name]
			delete(c.participants, p.Name)
			watchers := append([]func(added, removed []types.Participant){}, c.watchers...)
			c.mu.Unlock()
			if known {
				for _, w := range watchers {
					w(nil, []types.Participant{participant})
				}
			}
			return
		}
		if _, known := c.participants[p.Name]; known {
			c.mu.Unlock()
			return
		}
		c.nextHandle++
		participant := types.Participant{Handle: c.nextHandle, Name: p.Name}
		c.participants[p.Name] = participant
		watchers := append([]func(added, removed []types.Participant){}, c.watchers...)
		c.mu.Unlock()
		for _, w := range watchers {
			w([]types.Participant{participant}, nil)
		}
	})
	if err != nil {
		return fmt.Errorf("natschannel: failed subscribing to presence: %w", err)
	}
	c.presenceSub = sub

	hello, err := json.Marshal(presenceMsg{Name: c.name, Version: transport.BuildVersion})
	if err != nil {
		return err
	}
	return c.conn.Publish(c.presenceSubject(), hello)
}

// Close announces departure and drains the connection.
func (c *Channel) Close() error {
	bye, err := json.Marshal(presenceMsg{Name: c.name, Version: transport.BuildVersion, Leaving: true})
	if err == nil {
		_ = c.conn.Publish(c.presenceSubject(), bye)
		_ = c.conn.Flush()
	}
	if c.presenceSub != nil {
		_ = c.presenceSub.Unsubscribe()
	}
	c.conn.Close()
	return nil
}

func sanitize(s string) string {
	return strings.NewReplacer("/", ".", " ", "_").Replace(strings.Trim(s, "/"))
}

func (c *Channel) subject(path, iface, name string) string {
	return fmt.Sprintf("dobject.%s.signal.%s.%s.%s", c.group, sanitize(path), sanitize(iface), name)
}

func (c *Channel) rpcSubject(peerName, path, method string) string {
	return fmt.Sprintf("dobject.%s.rpc.%s.%s.%s", c.group, peerName, sanitize(path), method)
}

type subscription struct{ sub *nats.Subscription }

func (s *subscription) Cancel() { _ = s.sub.Unsubscribe() }

func (c *Channel) Subscribe(path, iface, signalName string, _ bool, handler types.SignalHandler) (types.Subscription, error) {
	sub, err := c.conn.Subscribe(c.subject(path, iface, signalName), func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		handler(env.Sender, env.Payload)
	})
	if err != nil {
		return nil, fmt.Errorf("natschannel: failed subscribing: %w", err)
	}
	return &subscription{sub: sub}, nil
}

func (c *Channel) Emit(path, iface, signalName string, args []byte) error {
	env := envelope{Sender: c.name, Payload: args}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("natschannel: failed marshalling envelope: %w", err)
	}
	return c.conn.Publish(c.subject(path, iface, signalName), data)
}

func (c *Channel) RegisterMethod(path, iface, method string, handler types.MethodHandler) error {
	_, err := c.conn.Subscribe(c.rpcSubject(c.name, path, method), func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		reply, err := handler(env.Sender, env.Payload)
		if err != nil {
			_ = msg.Respond(nil)
			return
		}
		out, merr := json.Marshal(envelope{Sender: c.name, Payload: reply})
		if merr != nil {
			return
		}
		_ = msg.Respond(out)
	})
	if err != nil {
		return fmt.Errorf("natschannel: failed registering method %s: %w", method, err)
	}
	return nil
}

type peerStub struct {
	channel  *Channel
	peerName string
	path     string
}

func (c *Channel) GetPeer(senderName, path string) (types.PeerStub, error) {
	return &peerStub{channel: c, peerName: senderName, path: path}, nil
}

func (p *peerStub) CallMethod(ctx context.Context, method string, args []byte, onReply func([]byte), onError func(error)) {
	env := envelope{Sender: p.channel.name, Payload: args}
	data, err := json.Marshal(env)
	if err != nil {
		onError(err)
		return
	}
	go func() {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		msg, err := p.channel.conn.Request(p.channel.rpcSubject(p.peerName, p.path, method), data, timeout)
		if err != nil {
			onError(fmt.Errorf("natschannel: rpc %s to %s failed: %w", method, p.peerName, err))
			return
		}
		var replyEnv envelope
		if err := json.Unmarshal(msg.Data, &replyEnv); err != nil {
			onError(fmt.Errorf("natschannel: failed decoding reply: %w", err))
			return
		}
		onReply(replyEnv.Payload)
	}()
}

func (c *Channel) UniqueName() string { return c.name }

func (c *Channel) WatchParticipants(callback func(added, removed []types.Participant)) {
	c.mu.Lock()
	c.watchers = append(c.watchers, callback)
	c.mu.Unlock()
}

var _ types.Channel = (*Channel)(nil)
