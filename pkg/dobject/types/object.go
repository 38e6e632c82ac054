package types

// ReplicatedObject is the capability every handler-wrapped object must
// implement (spec.md §4.3). Messages are self-sufficient, opaque byte
// payloads the object itself knows how to decode — the handler never
// inspects them.
type ReplicatedObject interface {
	// ReceiveMessage applies an inbound incremental update, previously
	// produced by some peer's Send broadcast.
	ReceiveMessage(sender string, message []byte)

	// GetHistory returns this object's full reconciliation snapshot:
	// the complete state for commutative objects, or (init, events) for
	// log-based objects.
	GetHistory() ([]byte, error)

	// AddHistory merges a reconciliation snapshot received from a peer,
	// either on explicit AskHistory or on push-on-join.
	AddHistory(snapshot []byte) error
}

// ProtocolVersion is this build's wire version number. No message in
// this module carries or checks it; peer compatibility is decided by the
// transport adapters' presence handshake (transport.NegotiateVersion).
const ProtocolVersion = 1

// RPCHeader is a version header for handshake-sensitive messages. No
// message type in this module embeds it.
type RPCHeader struct {
	ProtocolVersion int `json:"protocol_version"`
}
