package types

import "context"

// Participant identifies a single peer on the channel. Name is the stable,
// channel-assigned identifier compared against Channel.UniqueName() to
// detect self-echo (spec.md §7, SelfEcho).
type Participant struct {
	Handle uint64
	Name   string
}

// SignalHandler is invoked for every inbound signal delivered on a
// subscription. sender is the participant's unique name, or "" for signals
// that do not carry sender information.
type SignalHandler func(sender string, args []byte)

// Subscription is returned by Channel.Subscribe and can be cancelled.
type Subscription interface {
	Cancel()
}

// PeerStub addresses a single remote participant for directed method
// calls (spec.md §6, get_peer_object).
type PeerStub interface {
	// CallMethod issues a directed RPC. onReply is invoked with the
	// raw response payload on success; onError is invoked otherwise.
	// Per spec.md §7 (RpcFailure), callers MUST tolerate onError being
	// the only callback ever invoked, and must not block waiting for a
	// reply that may never come.
	CallMethod(ctx context.Context, method string, args []byte, onReply func([]byte), onError func(error))
}

// MethodHandler serves an inbound directed method call. It returns the
// reply payload, or an error which the channel reports back as an
// RpcFailure to the caller (spec.md §7).
type MethodHandler func(sender string, args []byte) ([]byte, error)

// Channel abstracts a named multicast bus: per-object path namespace,
// typed signal emit/subscribe, directed method calls, and participant
// watch. This is the external collaborator spec.md §1 and §6 describe;
// the core package only ever consumes this interface, never implements
// the transport itself.
type Channel interface {
	// Subscribe registers handler for signalName under path/iface.
	// includeSender controls whether the sender's unique name is
	// resolved and passed to handler (some signal buses only know the
	// sender on some signal types).
	Subscribe(path, iface, signalName string, includeSender bool, handler SignalHandler) (Subscription, error)

	// Emit broadcasts a signal to every participant.
	Emit(path, iface, signalName string, args []byte) error

	// GetPeer resolves a stub for a single named participant under path.
	GetPeer(senderName, path string) (PeerStub, error)

	// RegisterMethod exposes handler to be invoked whenever a peer
	// directed-calls method under path/iface.
	RegisterMethod(path, iface, method string, handler MethodHandler) error

	// UniqueName returns this channel's own stable participant name,
	// used to detect and drop self-echoed broadcasts.
	UniqueName() string

	// WatchParticipants registers callback to be invoked whenever the
	// participant set changes, with the participants added and removed
	// since the previous call.
	WatchParticipants(callback func(added, removed []Participant))
}
