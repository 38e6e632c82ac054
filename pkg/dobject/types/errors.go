package types

import "errors"

// Error taxonomy from spec.md §7. These are never returned across the
// replication path (the core favors availability over delivery
// guarantees) — they exist so log call sites can classify what happened
// without each component inventing its own string.
var (
	// ErrPreRegistration: a message or history snapshot arrived before
	// the handler had both a channel and a wrapped object.
	ErrPreRegistration = errors.New("dobject: message arrived before registration")

	// ErrSelfEcho: a broadcast signal was delivered back to its own sender.
	ErrSelfEcho = errors.New("dobject: dropped self-echoed broadcast")

	// ErrSerializationMismatch: an inbound payload failed to decode.
	ErrSerializationMismatch = errors.New("dobject: failed to decode inbound payload")

	// ErrChannelAbsent: an operation was attempted before the channel
	// arrived in the TubeBox. Never returned to callers — operations
	// latch instead — kept for log classification only.
	ErrChannelAbsent = errors.New("dobject: channel not yet available")

	// ErrUnsupportedProtocol classifies a peer whose advertised version
	// this build does not accept. No function in this module returns it:
	// the transport adapters drop such peers during the presence
	// handshake (transport.NegotiateVersion).
	ErrUnsupportedProtocol = errors.New("dobject: protocol version not supported")
)
